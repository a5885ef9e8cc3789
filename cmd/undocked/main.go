package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"undocked/cmd/undocked/ui"
	"undocked/internal/buildinfo"
	"undocked/internal/logging"
	"undocked/pkg/sdk/client"
)

func main() {
	if err := logging.Configure(logging.LevelWarn, logging.FormatText); err != nil {
		_, _ = os.Stderr.WriteString("configure logger: " + err.Error() + "\n")
		os.Exit(1)
	}

	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, ui.ErrorMsg("%v", err))
		os.Exit(1)
	}
}

// daemonAPI is a client connection to undockd.
type daemonAPI interface {
	client.API
	Close() error
}

type dialFunc func() (daemonAPI, error)

type connectFlags struct {
	host    string
	socket  string
	sshPort int
	sshKey  string
}

// dial connects over ssh when a host is set, else to the local socket.
func (f *connectFlags) dial() (daemonAPI, error) {
	if f.host != "" {
		return client.NewSSH(f.host, client.SSHOptions{Port: f.sshPort, KeyPath: f.sshKey})
	}
	return client.NewUnix(f.socket)
}

func rootCmd() *cobra.Command {
	var (
		debug   bool
		noColor bool
		conn    connectFlags
	)

	root := &cobra.Command{
		Use:           "undocked",
		Short:         "Run containerized services on undocked nodes",
		Version:       buildinfo.Version,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			ui.ConfigureColor(noColor)
			level := logging.LevelWarn
			if debug {
				level = logging.LevelDebug
			}
			return logging.Configure(level, logging.FormatText)
		},
	}

	pf := root.PersistentFlags()
	pf.BoolVar(&debug, "debug", false, "Enable debug logging")
	pf.BoolVar(&noColor, "no-color", false, "Disable colored output")
	pf.StringVar(&conn.host, "host", os.Getenv("UNDOCKED_HOST"), "Reach a remote daemon over ssh (user@host)")
	pf.StringVar(&conn.socket, "socket", client.DefaultSocketPath(), "Local daemon socket path")
	pf.IntVar(&conn.sshPort, "ssh-port", 0, "SSH port for --host")
	pf.StringVar(&conn.sshKey, "ssh-key", "", "SSH identity file for --host")

	dial := conn.dial
	root.AddCommand(
		servicesCmd(dial),
		peersCmd(dial),
		catalogCmd(dial),
		engineCmd(dial),
		watchCmd(dial),
		snapshotCmd(dial),
	)
	return root
}

// withAPI dials the daemon, runs fn, and closes the connection.
func withAPI(dial dialFunc, fn func(d client.API) error) error {
	d, err := dial()
	if err != nil {
		return fmt.Errorf("connect to daemon: %w", err)
	}
	defer func() { _ = d.Close() }()
	return fn(d)
}
