package main

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"undocked/config"
	"undocked/daemon"
	"undocked/internal/buildinfo"
	"undocked/internal/logging"
	"undocked/platform"
)

func main() {
	if err := logging.Configure(logging.LevelInfo, logging.FormatText); err != nil {
		_, _ = os.Stderr.WriteString("configure logger: " + err.Error() + "\n")
		os.Exit(1)
	}

	if err := rootCmd().Execute(); err != nil {
		slog.Error("Command failed.", "err", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var configPath string
	var debug bool
	loader := config.NewLoader()

	cmd := &cobra.Command{
		Use:           "undockd",
		Short:         "Undocked node daemon",
		Version:       buildinfo.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := loader.BindFlags(cmd.Flags()); err != nil {
				return err
			}
			cfg, err := loader.Load(configPath)
			if err != nil {
				return err
			}
			level := cfg.Log.Level
			if debug {
				level = logging.LevelDebug
			}
			if err := logging.Configure(level, cfg.Log.Format); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return daemon.Run(ctx, cfg)
		},
	}

	cmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
	f := cmd.Flags()
	f.StringVar(&configPath, "config", "", "Path to a YAML config file")
	f.String("node-id", "", "Node id (default: persisted in the state dir)")
	f.String("state-dir", platform.DaemonStateDir, "Directory for the node state database")
	f.String("socket", platform.DaemonSocketPath, "Unix socket path of the local API")
	f.String("catalog", "", "Service catalog file (default: built-in catalog)")
	f.String("http", platform.DefaultHTTPAddr, "HTTP API listen address, empty to disable")
	f.String("gossip-listen", platform.DefaultGossipAddr, "Gossip listen address")
	f.String("advertise", "", "Gossip address announced to peers")
	f.StringSlice("seed", nil, "Gossip seed address (repeatable)")
	f.String("ntp-server", "pool.ntp.org", "NTP server for the clock offset check, empty to disable")
	f.String("log-level", logging.LevelInfo, "Log level: debug, info, warn, error")
	f.String("log-format", logging.FormatText, "Log format: text, json")

	cmd.AddCommand(dialStdioCmd())
	return cmd
}
