//go:build linux

package platform

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"golang.org/x/sys/unix"
)

const engineSocket = "/var/run/docker.sock"

// StartEngine asks systemd to start dockerd.
func StartEngine(ctx context.Context) error {
	out, err := exec.CommandContext(ctx, "systemctl", "start", "docker").CombinedOutput()
	if err != nil {
		return fmt.Errorf("systemctl start docker: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

// EngineSocketAccessible reports whether the default Docker socket exists and
// is readable and writable by this process.
func EngineSocketAccessible() bool {
	return unix.Access(engineSocket, unix.R_OK|unix.W_OK) == nil
}
