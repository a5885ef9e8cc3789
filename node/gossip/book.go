package gossip

import (
	"context"
	"slices"
	"sync"
)

// MemoryBook is an AddressBook that lives for the process lifetime.
type MemoryBook struct {
	mu    sync.Mutex
	addrs map[string]string
}

func NewMemoryBook() *MemoryBook {
	return &MemoryBook{addrs: make(map[string]string)}
}

func (b *MemoryBook) Addresses(context.Context) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.addrs))
	for _, addr := range b.addrs {
		out = append(out, addr)
	}
	slices.Sort(out)
	return slices.Compact(out), nil
}

func (b *MemoryBook) Learn(_ context.Context, peerID, addr string) error {
	b.mu.Lock()
	b.addrs[peerID] = addr
	b.mu.Unlock()
	return nil
}

func (b *MemoryBook) Forget(_ context.Context, peerID string) error {
	b.mu.Lock()
	delete(b.addrs, peerID)
	b.mu.Unlock()
	return nil
}
