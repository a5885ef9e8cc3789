package node

import (
	"context"
	"errors"
	"fmt"
	"time"

	"undocked"
)

const enginePollInterval = 500 * time.Millisecond

// CheckEngine probes the container engine and always publishes the result.
func (n *Node) CheckEngine(ctx context.Context) undocked.EngineStatus {
	st := undocked.EngineStatus{Available: n.runtime.IsAvailable(ctx), At: n.clock.Now()}
	n.mu.Lock()
	n.engineUp = &st.Available
	n.mu.Unlock()
	n.engineTopic.Publish(st)
	return st
}

// probeEngine publishes only when availability differs from the last probe.
func (n *Node) probeEngine(ctx context.Context) {
	available := n.runtime.IsAvailable(ctx)
	if ctx.Err() != nil {
		return
	}

	n.mu.Lock()
	changed := n.engineUp == nil || *n.engineUp != available
	if changed {
		n.engineUp = &available
	}
	n.mu.Unlock()
	if !changed {
		return
	}

	if available {
		n.log.Info("Container engine available.")
	} else {
		n.log.Warn("Container engine unavailable.")
	}
	n.engineTopic.Publish(undocked.EngineStatus{Available: available, At: n.clock.Now()})
}

// StartEngine launches the container engine if it is not running and waits
// for it to answer, bounded by the operation timeout.
func (n *Node) StartEngine(ctx context.Context) (undocked.EngineStatus, error) {
	if n.runtime.IsAvailable(ctx) {
		return n.CheckEngine(ctx), nil
	}

	n.log.Info("Starting container engine.")
	if err := n.startEngine(ctx); err != nil {
		n.CheckEngine(ctx)
		return undocked.EngineStatus{}, fmt.Errorf("start engine: %w: %v", undocked.ErrEngineUnavailable, err)
	}

	ctx, cancel := context.WithTimeout(ctx, n.cfg.OperationTimeout)
	defer cancel()
	var err error
	if w, ok := n.runtime.(readyWaiter); ok {
		err = w.WaitReady(ctx)
	} else {
		err = n.pollAvailable(ctx)
	}
	if err != nil {
		n.CheckEngine(context.WithoutCancel(ctx))
		return undocked.EngineStatus{}, fmt.Errorf("start engine: %w", err)
	}
	return n.CheckEngine(ctx), nil
}

// readyWaiter is implemented by runtimes that can block until the engine
// answers.
type readyWaiter interface {
	WaitReady(ctx context.Context) error
}

func (n *Node) pollAvailable(ctx context.Context) error {
	for !n.runtime.IsAvailable(ctx) {
		if !sleepContext(ctx, enginePollInterval) {
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return fmt.Errorf("%w after %s", undocked.ErrTimeout, n.cfg.OperationTimeout)
			}
			return ctx.Err()
		}
	}
	return nil
}

func (n *Node) watchEngine(ctx context.Context) {
	ticker := time.NewTicker(n.cfg.EngineProbeInterval)
	defer ticker.Stop()

	n.probeEngine(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n.probeEngine(ctx)
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
