// Package stats aggregates per-service traffic counters.
//
// An entry exists only between Track and Forget. Events for untracked
// services are dropped, so counters never outlive the service they describe.
package stats

import (
	"sync"

	"undocked"
	"undocked/internal/check"
)

// Event is a completed request observed by the traffic meter.
type Event struct {
	Bytes   int64
	IsError bool
}

type Aggregator struct {
	clock undocked.Clock

	mu    sync.Mutex
	stats map[string]*undocked.ServiceStats
}

func New(clock undocked.Clock) *Aggregator {
	if clock == nil {
		clock = undocked.RealClock{}
	}
	return &Aggregator{
		clock: clock,
		stats: make(map[string]*undocked.ServiceStats),
	}
}

// Track creates a zeroed entry for id. Tracking an already tracked id keeps
// its counters.
func (a *Aggregator) Track(id string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.stats[id]; ok {
		return
	}
	a.stats[id] = &undocked.ServiceStats{LastUpdate: a.clock.Now()}
}

// Forget drops the entry for id.
func (a *Aggregator) Forget(id string) {
	a.mu.Lock()
	delete(a.stats, id)
	a.mu.Unlock()
}

// Record applies one completed request. It reports false when id is not
// tracked.
func (a *Aggregator) Record(id string, ev Event) bool {
	check.Assert(ev.Bytes >= 0, "stats.Record: negative byte count")

	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.stats[id]
	if !ok {
		return false
	}
	s.Requests++
	if ev.IsError {
		s.Errors++
	}
	s.Bandwidth += ev.Bytes
	s.LastUpdate = a.clock.Now()
	return true
}

// ConnOpened increments the in-flight connection gauge for id.
func (a *Aggregator) ConnOpened(id string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.stats[id]
	if !ok {
		return false
	}
	s.ActiveConns++
	return true
}

// ConnClosed decrements the gauge; it never goes below zero.
func (a *Aggregator) ConnClosed(id string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if s, ok := a.stats[id]; ok && s.ActiveConns > 0 {
		s.ActiveConns--
	}
}

// Get returns the current counters for id.
func (a *Aggregator) Get(id string) (undocked.ServiceStats, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.stats[id]
	if !ok {
		return undocked.ServiceStats{}, false
	}
	return *s, true
}

// Snapshot returns a consistent copy of every entry.
func (a *Aggregator) Snapshot() map[string]undocked.ServiceStats {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[string]undocked.ServiceStats, len(a.stats))
	for id, s := range a.stats {
		out[id] = *s
	}
	return out
}
