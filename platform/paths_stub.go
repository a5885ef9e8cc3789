//go:build !linux && !darwin

package platform

import (
	"os"
	"path/filepath"
)

var (
	DaemonSocketPath = filepath.Join(os.TempDir(), SocketName)
	DaemonStateDir   = filepath.Join(os.TempDir(), "undocked")
)
