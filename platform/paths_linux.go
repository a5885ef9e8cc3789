//go:build linux

package platform

var (
	DaemonSocketPath = "/run/" + SocketName
	DaemonStateDir   = "/var/lib/undocked"
)
