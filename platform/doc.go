// Package platform holds OS-specific defaults and the container engine
// launcher.
//
// Platform split:
//   - linux: systemd-managed dockerd, socket at /var/run/docker.sock
//   - darwin: Docker Desktop, launched with open(1)
//   - other: engine launch unsupported
package platform
