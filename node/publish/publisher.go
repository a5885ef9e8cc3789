package publish

import (
	"context"
	"log/slog"
	"time"

	"undocked"
	"undocked/internal/check"
)

type ServiceLister interface {
	List() []undocked.Service
}

type PeerLister interface {
	List() []undocked.PeerInfo
}

type StatsReader interface {
	Snapshot() map[string]undocked.ServiceStats
}

// Publisher composes node snapshots and publishes them on a fixed interval
// and whenever Notify is called. Composition only reads in-memory state.
type Publisher struct {
	nodeID   string
	services ServiceLister
	peers    PeerLister
	stats    StatsReader
	clock    undocked.Clock
	interval time.Duration
	topic    *Topic[undocked.NodeSnapshot]

	notify chan struct{}
	cancel context.CancelFunc
	done   chan struct{}
}

func NewPublisher(nodeID string, services ServiceLister, peers PeerLister, stats StatsReader,
	clock undocked.Clock, interval time.Duration, topic *Topic[undocked.NodeSnapshot],
) *Publisher {
	check.Assert(services != nil && peers != nil && stats != nil, "publish.NewPublisher: sources must not be nil")
	check.Assert(topic != nil, "publish.NewPublisher: topic must not be nil")
	check.Assert(interval > 0, "publish.NewPublisher: interval must be positive")
	if clock == nil {
		clock = undocked.RealClock{}
	}
	return &Publisher{
		nodeID:   nodeID,
		services: services,
		peers:    peers,
		stats:    stats,
		clock:    clock,
		interval: interval,
		topic:    topic,
		notify:   make(chan struct{}, 1),
	}
}

// Compose builds a fresh snapshot. Service stat mirrors come from the same
// stats read as the Stats map.
func (p *Publisher) Compose() undocked.NodeSnapshot {
	stats := p.stats.Snapshot()
	services := p.services.List()
	for i, svc := range services {
		if st, ok := stats[svc.ServiceID]; ok {
			services[i] = svc.WithStats(st)
		}
	}
	return undocked.NodeSnapshot{
		NodeID:   p.nodeID,
		Services: services,
		Peers:    p.peers.List(),
		Stats:    stats,
		TakenAt:  p.clock.Now(),
	}
}

// Notify requests an early publication. Bursts coalesce into one.
func (p *Publisher) Notify() {
	select {
	case p.notify <- struct{}{}:
	default:
	}
}

// PublishNow composes and publishes synchronously.
func (p *Publisher) PublishNow() undocked.NodeSnapshot {
	snap := p.Compose()
	p.topic.Publish(snap)
	return snap
}

// Start launches the publish loop.
func (p *Publisher) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	p.done = make(chan struct{})

	go func() {
		defer close(p.done)
		p.run(ctx)
	}()
}

// Stop cancels the loop and waits for it to exit.
func (p *Publisher) Stop() {
	if p.cancel != nil {
		p.cancel()
		<-p.done
	}
}

func (p *Publisher) run(ctx context.Context) {
	log := slog.With("component", "publisher")
	log.Debug("Starting.", "interval", p.interval)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.PublishNow()
	for {
		select {
		case <-ctx.Done():
			log.Debug("Stopped.")
			return
		case <-ticker.C:
		case <-p.notify:
		}
		p.PublishNow()
	}
}
