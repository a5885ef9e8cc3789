package undocked

import "time"

// PeerInfo is what this node knows about a remote node, as last reported
// over gossip. Services are opaque per-peer data: service ids are not assumed
// unique across the network.
type PeerInfo struct {
	ID       string    `json:"id"`
	Addr     string    `json:"addr,omitempty"`
	Services []Service `json:"services"`
	LastSeen time.Time `json:"lastSeen"`
}

// Clone returns a deep copy of p.
func (p PeerInfo) Clone() PeerInfo {
	p.Services = append([]Service(nil), p.Services...)
	return p
}

// StaleAt reports whether the peer has gone longer than threshold without
// contact as of now.
func (p PeerInfo) StaleAt(now time.Time, threshold time.Duration) bool {
	return now.Sub(p.LastSeen) > threshold
}
