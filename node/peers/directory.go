// Package peers keeps the local view of remote nodes learned via gossip.
package peers

import (
	"slices"
	"strings"
	"sync"
	"time"

	"undocked"
)

// Directory holds at most one entry per peer id. Upserts replace the entry
// wholesale; the latest receipt wins regardless of payload timestamps.
type Directory struct {
	mu    sync.RWMutex
	peers map[string]undocked.PeerInfo
}

func NewDirectory() *Directory {
	return &Directory{peers: make(map[string]undocked.PeerInfo)}
}

// Upsert records what peer id reported, stamped with the local receipt time.
func (d *Directory) Upsert(id, addr string, services []undocked.Service, lastSeen time.Time) {
	entry := undocked.PeerInfo{
		ID:       id,
		Addr:     addr,
		Services: slices.Clone(services),
		LastSeen: lastSeen,
	}
	d.mu.Lock()
	d.peers[id] = entry
	d.mu.Unlock()
}

// Get returns a copy of the entry for id.
func (d *Directory) Get(id string) (undocked.PeerInfo, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.peers[id]
	if !ok {
		return undocked.PeerInfo{}, false
	}
	return p.Clone(), true
}

// List returns copies of all entries sorted by id.
func (d *Directory) List() []undocked.PeerInfo {
	d.mu.RLock()
	out := make([]undocked.PeerInfo, 0, len(d.peers))
	for _, p := range d.peers {
		out = append(out, p.Clone())
	}
	d.mu.RUnlock()

	slices.SortFunc(out, func(a, b undocked.PeerInfo) int {
		return strings.Compare(a.ID, b.ID)
	})
	return out
}

func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.peers)
}

// EvictStale removes every peer with now - lastSeen > threshold and returns
// the removed entries sorted by id.
func (d *Directory) EvictStale(now time.Time, threshold time.Duration) []undocked.PeerInfo {
	d.mu.Lock()
	var evicted []undocked.PeerInfo
	for id, p := range d.peers {
		if p.StaleAt(now, threshold) {
			evicted = append(evicted, p)
			delete(d.peers, id)
		}
	}
	d.mu.Unlock()

	slices.SortFunc(evicted, func(a, b undocked.PeerInfo) int {
		return strings.Compare(a.ID, b.ID)
	})
	return evicted
}
