package docker

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/containerd/errdefs"
	"github.com/docker/docker/client"

	"undocked"
)

var portConflictMarkers = []string{
	"port is already allocated",
	"address already in use",
	"ports are not available",
}

// classify maps a Docker API error onto the node error taxonomy. fallback is
// used for failures that match nothing more specific.
func classify(op string, err error, fallback error) error {
	if err == nil {
		return nil
	}
	// Already classified by a nested call.
	if undocked.Kind(err) != "Internal" {
		return fmt.Errorf("%s: %w", op, err)
	}
	var sentinel error
	switch {
	case client.IsErrConnectionFailed(err), errdefs.IsUnavailable(err):
		sentinel = undocked.ErrEngineUnavailable
	case errors.Is(err, context.DeadlineExceeded), errdefs.IsDeadlineExceeded(err):
		sentinel = undocked.ErrTimeout
	case isPortConflict(err):
		sentinel = undocked.ErrPortInUse
	case errdefs.IsConflict(err), errdefs.IsAlreadyExists(err):
		sentinel = undocked.ErrAlreadyExists
	case errdefs.IsNotFound(err) && fallback == undocked.ErrNotFound:
		sentinel = undocked.ErrNotFound
	default:
		sentinel = fallback
	}
	return fmt.Errorf("%s: %w: %v", op, sentinel, err)
}

func isPortConflict(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, m := range portConflictMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}
