// Package daemon runs a node behind its local gRPC socket, the gossip
// listener and the optional HTTP API.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	systemd "github.com/coreos/go-systemd/v22/daemon"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"undocked/config"
	"undocked/infra/docker"
	"undocked/infra/sqlite"
	"undocked/internal/metrics"
	"undocked/internal/ntp"
	"undocked/node"
	"undocked/node/catalog"
	"undocked/node/gossip"
	"undocked/pkg/sdk/telemetry"
)

// Run starts the node and its listeners, then blocks until ctx is cancelled
// or one of them fails.
func Run(ctx context.Context, cfg *config.Config) error {
	log := slog.With("component", "daemon")

	tp := telemetry.NewProvider(slog.Default())
	otel.SetTracerProvider(tp)
	defer func() { _ = tp.Shutdown(context.WithoutCancel(ctx)) }()

	profiles, err := catalog.Load(cfg.Catalog)
	if err != nil {
		return err
	}

	transport := gossip.NewGRPCTransport()
	defer func() { _ = transport.Close() }()

	opts := []node.Option{
		node.WithCatalog(profiles),
		node.WithTransport(transport),
		node.WithTracer(telemetry.Tracer()),
	}

	nodeID := cfg.NodeID
	if path := cfg.StatePath(); path != "" {
		if err := os.MkdirAll(cfg.StateDir, 0o700); err != nil {
			return fmt.Errorf("create state dir: %w", err)
		}
		store, err := sqlite.Open(path)
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()
		if nodeID == "" {
			if nodeID, err = store.NodeID(ctx); err != nil {
				return err
			}
		}
		opts = append(opts, node.WithAddressBook(store))
	}
	if nodeID == "" {
		nodeID = uuid.NewString()
	}

	runtime, err := docker.NewRuntime()
	if err != nil {
		return err
	}
	defer func() { _ = runtime.Close() }()

	// The collector needs the node as its source; exchanges only start
	// once the node runs, after the collector exists.
	var collector *metrics.Collector
	opts = append(opts, node.WithExchangeObserver(func(addr string, err error) {
		collector.ObserveExchange(addr, err)
	}))

	n := node.New(nodeConfig(cfg, nodeID), runtime, opts...)
	collector = metrics.NewCollector(n, nil, cfg.Gossip.StaleThreshold)
	registry := metrics.NewRegistry(collector)

	if err := os.MkdirAll(filepath.Dir(cfg.Socket), 0o755); err != nil {
		return fmt.Errorf("create socket dir: %w", err)
	}

	log.Info("Starting node.", "id", nodeID)
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return n.Run(ctx) })
	g.Go(func() error { return NewServer(n).ListenAndServe(ctx, cfg.Socket) })
	g.Go(func() error { return gossip.ListenAndServe(ctx, cfg.Gossip.Listen, n.GossipHandler()) })
	if cfg.API.HTTP != "" {
		httpAPI := NewHTTPAPI(n, n.Meter(), registry)
		g.Go(func() error { return httpAPI.ListenAndServe(ctx, cfg.API.HTTP) })
	}
	if cfg.Clock.NTPServer != "" {
		checker := ntp.NewChecker(cfg.Clock.NTPServer, cfg.Clock.CheckInterval, cfg.Clock.MaxOffset)
		registry.MustRegister(metrics.NewClockOffset(func() time.Duration { return checker.Status().Offset }))
		g.Go(func() error {
			checker.Run(ctx)
			return nil
		})
	}
	g.Go(func() error {
		select {
		case <-n.Started():
			// Notify systemd that the daemon is ready once the node runs.
			if _, err := systemd.SdNotify(false, systemd.SdNotifyReady); err != nil {
				log.Error("Failed to notify systemd that the daemon is ready.", "err", err)
			}
		case <-ctx.Done():
		}
		return nil
	})
	return g.Wait()
}

func nodeConfig(cfg *config.Config, nodeID string) node.Config {
	return node.Config{
		NodeID: nodeID,
		Gossip: gossip.Config{
			NodeID:         nodeID,
			Advertise:      cfg.Gossip.AdvertiseAddr(),
			Seeds:          cfg.Gossip.Seeds,
			Interval:       cfg.Gossip.Interval,
			Jitter:         cfg.Gossip.Jitter,
			PeerTimeout:    cfg.Gossip.PeerTimeout,
			EvictThreshold: cfg.Gossip.EvictThreshold,
			EvictInterval:  cfg.Gossip.EvictInterval,
		},
		PublishInterval:     cfg.Publish.Interval,
		EngineProbeInterval: cfg.Engine.ProbeInterval,
		OperationTimeout:    cfg.Engine.OperationTimeout,
		ShutdownGrace:       cfg.ShutdownGrace,
	}
}
