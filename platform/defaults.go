package platform

import "errors"

const (
	SocketName        = "undockd.sock"
	StateFileName     = "undocked.db"
	DefaultGossipPort = 7946
	DefaultHTTPAddr   = "127.0.0.1:7947"
	DefaultGossipAddr = "0.0.0.0:7946"
)

// ErrUnsupported is returned by StartEngine on platforms without a known
// engine launcher.
var ErrUnsupported = errors.New("engine launch not supported on this platform")
