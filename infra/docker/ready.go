package docker

import (
	"context"
	"fmt"
	"time"

	"github.com/docker/docker/client"

	"undocked"
)

const readyPollInterval = time.Second

// WaitReady polls the engine until it answers a ping or ctx ends.
func (r *Runtime) WaitReady(ctx context.Context) error {
	ticker := time.NewTicker(readyPollInterval)
	defer ticker.Stop()
	for {
		_, err := r.cli.Ping(ctx)
		if err == nil {
			return nil
		}
		if !client.IsErrConnectionFailed(err) && ctx.Err() == nil {
			return fmt.Errorf("connect to docker daemon: %w: %v", undocked.ErrEngineUnavailable, err)
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("wait for docker daemon: %w", undocked.ErrTimeout)
		case <-ticker.C:
		}
	}
}
