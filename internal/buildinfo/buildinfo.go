// Package buildinfo carries version data stamped at link time.
package buildinfo

// Version is set with -ldflags "-X undocked/internal/buildinfo.Version=...".
var Version = "dev"
