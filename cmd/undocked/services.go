package main

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"undocked"
	"undocked/cmd/undocked/ui"
	"undocked/pkg/sdk/client"
)

func servicesCmd(dial dialFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "services",
		Aliases: []string{"service", "svc"},
		Short:   "Start, stop and inspect local services",
	}
	cmd.AddCommand(
		servicesListCmd(dial),
		servicesStartCmd(dial),
		servicesStopCmd(dial),
		servicesLogsCmd(dial),
	)
	return cmd
}

func servicesListCmd(dial dialFunc) *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List services on the node",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAPI(dial, func(d client.API) error {
				services, err := d.ListServices(cmd.Context())
				if err != nil {
					return err
				}
				printServices(cmd.OutOrStdout(), services, time.Now())
				return nil
			})
		},
	}
}

func printServices(w io.Writer, services []undocked.Service, now time.Time) {
	if len(services) == 0 {
		fmt.Fprintln(w, ui.Muted("no services running"))
		return
	}
	rows := make([][]string, 0, len(services))
	for _, s := range services {
		profile := s.Profile
		if profile == "" {
			profile = "-"
		}
		status := ui.Status(s.Status)
		if s.Error != "" {
			status += " " + ui.Muted(s.Error)
		}
		rows = append(rows, []string{
			s.ServiceID,
			profile,
			s.DockerImage,
			s.HostPort,
			status,
			strconv.FormatInt(s.Requests, 10),
			strconv.FormatInt(s.Errors, 10),
			ui.Bytes(s.Bandwidth),
			strconv.Itoa(s.ActiveConns),
			ui.Ago(now, s.StartedAt),
		})
	}
	fmt.Fprintln(w, ui.Table(
		[]string{"Service", "Profile", "Image", "Port", "Status", "Requests", "Errors", "Bandwidth", "Conns", "Started"},
		rows,
	))
}

func servicesStartCmd(dial dialFunc) *cobra.Command {
	var req client.StartRequest

	cmd := &cobra.Command{
		Use:   "start <service-id>",
		Short: "Start a service from an image or a catalog profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.ServiceID = args[0]
			if (req.Image == "") == (req.Profile == "") {
				return errors.New("exactly one of --image or --profile is required")
			}
			return withAPI(dial, func(d client.API) error {
				res, err := d.StartService(cmd.Context(), req)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), ui.SuccessMsg("%s", res.Message))
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&req.Image, "image", "", "Container image to run")
	cmd.Flags().StringVar(&req.Profile, "profile", "", "Catalog profile to run")
	cmd.Flags().StringVarP(&req.HostPort, "port", "p", "", "Host port to publish")
	_ = cmd.MarkFlagRequired("port")
	return cmd
}

func servicesStopCmd(dial dialFunc) *cobra.Command {
	return &cobra.Command{
		Use:     "stop <service-id>",
		Aliases: []string{"rm"},
		Short:   "Stop and remove a service",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAPI(dial, func(d client.API) error {
				if err := d.StopService(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), ui.SuccessMsg("Service %q stopped.", args[0]))
				return nil
			})
		},
	}
}

func servicesLogsCmd(dial dialFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "logs <service-id>",
		Short: "Follow the logs of a service",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAPI(dial, func(d client.API) error {
				stream, err := d.StreamLogs(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				w := cmd.OutOrStdout()
				for line := range stream.C {
					fmt.Fprintln(w, line)
				}
				return stream.Err()
			})
		},
	}
}
