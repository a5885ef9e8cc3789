//go:build darwin

package platform

import (
	"os"
	"path/filepath"
)

var (
	DaemonSocketPath = "/tmp/" + SocketName
	DaemonStateDir   = defaultStateDir()
)

func defaultStateDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "/usr/local/var/lib/undocked"
	}
	return filepath.Join(home, "Library", "Application Support", "undocked")
}
