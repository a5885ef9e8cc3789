//go:build darwin

package platform

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"
)

// StartEngine launches Docker Desktop. The engine becomes reachable some
// seconds after this returns.
func StartEngine(ctx context.Context) error {
	out, err := exec.CommandContext(ctx, "open", "-a", "Docker").CombinedOutput()
	if err != nil {
		return fmt.Errorf("open Docker Desktop: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

// EngineSocketAccessible reports whether a Docker Desktop socket is usable.
func EngineSocketAccessible() bool {
	candidates := []string{"/var/run/docker.sock"}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".docker", "run", "docker.sock"))
	}
	for _, path := range candidates {
		if unix.Access(path, unix.R_OK|unix.W_OK) == nil {
			return true
		}
	}
	return false
}
