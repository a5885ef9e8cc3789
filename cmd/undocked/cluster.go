package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"undocked"
	"undocked/api"
	"undocked/cmd/undocked/ui"
	"undocked/pkg/sdk/client"
)

func peersCmd(dial dialFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "peers",
		Short: "Inspect peers discovered over gossip",
	}
	cmd.AddCommand(&cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List known peers",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAPI(dial, func(d client.API) error {
				peers, err := d.GetPeers(cmd.Context())
				if err != nil {
					return err
				}
				printPeers(cmd.OutOrStdout(), peers, time.Now())
				return nil
			})
		},
	})
	return cmd
}

func printPeers(w io.Writer, peers []undocked.PeerInfo, now time.Time) {
	if len(peers) == 0 {
		fmt.Fprintln(w, ui.Muted("no peers known"))
		return
	}
	rows := make([][]string, 0, len(peers))
	for _, p := range peers {
		addr := p.Addr
		if addr == "" {
			addr = "-"
		}
		rows = append(rows, []string{p.ID, addr, strconv.Itoa(len(p.Services)), ui.Ago(now, p.LastSeen)})
	}
	fmt.Fprintln(w, ui.Table([]string{"Peer", "Address", "Services", "Last seen"}, rows))
}

func catalogCmd(dial dialFunc) *cobra.Command {
	var recommended bool

	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "List service profiles that can be started by name",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAPI(dial, func(d client.API) error {
				list := d.ListCatalog
				if recommended {
					list = d.ListRecommendedServices
				}
				profiles, err := list(cmd.Context())
				if err != nil {
					return err
				}
				printProfiles(cmd.OutOrStdout(), profiles)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&recommended, "recommended", false, "Only list recommended profiles")
	return cmd
}

func printProfiles(w io.Writer, profiles []undocked.ServiceProfile) {
	if len(profiles) == 0 {
		fmt.Fprintln(w, ui.Muted("no profiles"))
		return
	}
	rows := make([][]string, 0, len(profiles))
	for _, p := range profiles {
		rec := ""
		if p.Recommended {
			rec = "yes"
		}
		rows = append(rows, []string{p.Name, p.Image, strconv.Itoa(p.ContainerPort), rec})
	}
	fmt.Fprintln(w, ui.Table([]string{"Profile", "Image", "Container port", "Recommended"}, rows))
}

func engineCmd(dial dialFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "engine",
		Short: "Check or start the container engine",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "status",
			Short: "Probe the container engine",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withAPI(dial, func(d client.API) error {
					st, err := d.CheckEngine(cmd.Context())
					if err != nil {
						return err
					}
					fmt.Fprintln(cmd.OutOrStdout(), ui.InfoMsg("Container engine is %s.", ui.Engine(st)))
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "start",
			Short: "Start the container engine and wait until it answers",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withAPI(dial, func(d client.API) error {
					if _, err := d.StartEngine(cmd.Context()); err != nil {
						return err
					}
					fmt.Fprintln(cmd.OutOrStdout(), ui.SuccessMsg("Container engine is running."))
					return nil
				})
			},
		},
	)
	return cmd
}

func snapshotCmd(dial dialFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "snapshot",
		Short: "Print the node snapshot as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAPI(dial, func(d client.API) error {
				snap, err := d.Snapshot(cmd.Context())
				if err != nil {
					return err
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(snap)
			})
		},
	}
}

func watchCmd(dial dialFunc) *cobra.Command {
	var types []string

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream node events",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAPI(dial, func(d client.API) error {
				stream, err := d.Watch(cmd.Context(), types...)
				if err != nil {
					return err
				}
				w := cmd.OutOrStdout()
				for ev := range stream.C {
					fmt.Fprintln(w, formatEvent(ev))
				}
				return stream.Err()
			})
		},
	}
	cmd.Flags().StringSliceVarP(&types, "type", "t", nil,
		"Event types to show: service-stats, service-error, docker-status (default all)")
	return cmd
}

func formatEvent(ev api.Event) string {
	switch {
	case ev.Error != nil:
		e := ev.Error
		return ui.ErrorMsg("%s %s: %s", e.ServiceID, e.Kind, e.Reason)
	case ev.Engine != nil:
		return ui.InfoMsg("container engine %s", ui.Engine(*ev.Engine))
	case ev.Stats != nil:
		s := ev.Stats
		var requests int64
		for _, st := range s.Stats {
			requests += st.Requests
		}
		return ui.InfoMsg("%d services, %d peers, %d requests", len(s.Services), len(s.Peers), requests)
	}
	return ui.Muted(ev.Type)
}
