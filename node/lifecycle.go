package node

import (
	"context"
	"time"
)

const adoptTimeout = 15 * time.Second

// Run adopts containers left by a previous daemon, starts the engine
// watcher, the snapshot publisher and gossip, then blocks until ctx is
// cancelled. Containers keep running after shutdown.
func (n *Node) Run(ctx context.Context) error {
	n.adopt(ctx)

	n.publisher.Start(ctx)
	n.gossip.Start(ctx)

	n.workers.Add(1)
	go func() {
		defer n.workers.Done()
		n.watchEngine(n.baseCtx)
	}()

	close(n.started)
	n.log.Info("Node started.", "id", n.cfg.NodeID, "services", len(n.registry.List()))

	<-ctx.Done()
	n.shutdown()
	return nil
}

// adopt registers running labelled containers. Failures are logged; the
// node still starts with an empty registry.
func (n *Node) adopt(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, adoptTimeout)
	defer cancel()

	if !n.runtime.IsAvailable(ctx) {
		n.log.Warn("Container engine unavailable, skipping adoption.")
		return
	}
	running, err := n.runtime.List(ctx)
	if err != nil {
		n.log.Warn("List running containers failed.", "err", err)
		return
	}
	if skipped := n.registry.Adopt(running); len(skipped) > 0 {
		n.log.Warn("Some containers were not adopted.", "services", skipped)
	}
}

func (n *Node) shutdown() {
	done := make(chan struct{})
	go func() {
		n.gossip.Stop()
		n.publisher.Stop()
		n.cancelBase()
		n.workers.Wait()
		close(done)
	}()

	timer := time.NewTimer(n.cfg.ShutdownGrace)
	defer timer.Stop()
	select {
	case <-done:
		n.log.Info("Node stopped.")
	case <-timer.C:
		n.log.Warn("Node shutdown grace period elapsed.", "grace", n.cfg.ShutdownGrace)
	}

	n.statsTopic.Close()
	n.errorTopic.Close()
	n.engineTopic.Close()
}
