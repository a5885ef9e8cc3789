package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"

	"github.com/spf13/cobra"

	"undocked/pkg/sdk/client"
)

// dialStdioCmd is the remote end of client.NewSSH: the CLI runs it over ssh
// and speaks gRPC through its stdio.
func dialStdioCmd() *cobra.Command {
	var socketPath string

	cmd := &cobra.Command{
		Use:    "dial-stdio",
		Short:  "Proxy stdio to the undockd socket",
		Hidden: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return pipeStdio(cmd.Context(), socketPath, os.Stdin, os.Stdout)
		},
	}

	cmd.Flags().StringVar(&socketPath, "socket", client.DefaultSocketPath(), "Path to the undockd Unix socket")
	return cmd
}

// pipeStdio copies in to the socket and the socket to out. It returns once
// the daemon side is drained, or earlier if sending fails.
func pipeStdio(ctx context.Context, socketPath string, in io.Reader, out io.Writer) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", socketPath)
	if err != nil {
		return fmt.Errorf("connect to socket %q: %w", socketPath, err)
	}
	defer conn.Close()

	sent := make(chan error, 1)
	go func() {
		_, err := io.Copy(conn, in)
		closeWrite(conn)
		sent <- err
	}()

	received := make(chan error, 1)
	go func() {
		_, err := io.Copy(out, conn)
		closeWrite(out)
		received <- err
	}()

	select {
	case err := <-sent:
		if err != nil {
			return err
		}
		return <-received
	case err := <-received:
		return err
	}
}

// closeWrite half-closes w when it supports it, and fully closes it
// otherwise.
func closeWrite(w any) {
	switch c := w.(type) {
	case interface{ CloseWrite() error }:
		_ = c.CloseWrite()
	case io.Closer:
		_ = c.Close()
	}
}
