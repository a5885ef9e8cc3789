// Package ntp compares the local clock with an NTP server. Gossip reports
// and service timestamps are stamped with the sender's clock, so a large
// offset makes them misleading on other nodes.
package ntp

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/beevik/ntp"

	"undocked"
	"undocked/internal/check"
)

const (
	DefaultServer    = "pool.ntp.org"
	DefaultInterval  = 5 * time.Minute
	DefaultThreshold = 500 * time.Millisecond
)

type Phase uint8

const (
	Unchecked Phase = iota + 1
	Healthy
	OffsetTooLarge
	Failed
)

func (p Phase) String() string {
	switch p {
	case Unchecked:
		return "unchecked"
	case Healthy:
		return "healthy"
	case OffsetTooLarge:
		return "offset_too_large"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

type Status struct {
	Offset    time.Duration
	Phase     Phase
	Error     string
	CheckedAt time.Time
}

// QueryFunc returns the offset of the local clock relative to server.
type QueryFunc func(server string) (time.Duration, error)

type Option func(*Checker)

func WithClock(clock undocked.Clock) Option {
	return func(c *Checker) { c.clock = clock }
}

func WithQuery(q QueryFunc) Option {
	return func(c *Checker) { c.query = q }
}

type Checker struct {
	server    string
	interval  time.Duration
	threshold time.Duration
	clock     undocked.Clock
	query     QueryFunc
	log       *slog.Logger

	mu     sync.RWMutex
	status Status
}

func NewChecker(server string, interval, threshold time.Duration, opts ...Option) *Checker {
	check.Assert(server != "", "ntp.NewChecker: server is required")
	check.Assert(interval > 0, "ntp.NewChecker: interval must be positive")
	c := &Checker{
		server:    server,
		interval:  interval,
		threshold: threshold,
		clock:     undocked.RealClock{},
		query:     query,
		log:       slog.With("component", "ntp"),
		status:    Status{Phase: Unchecked},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func query(server string) (time.Duration, error) {
	resp, err := ntp.Query(server)
	if err != nil {
		return 0, err
	}
	if err := resp.Validate(); err != nil {
		return 0, err
	}
	return resp.ClockOffset, nil
}

// Run checks immediately, then every interval until ctx is cancelled.
func (c *Checker) Run(ctx context.Context) {
	c.Check()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Check()
		}
	}
}

// Check queries the server once and records the result. Phase changes are
// logged.
func (c *Checker) Check() Status {
	offset, err := c.query(c.server)
	st := Status{Offset: offset, Phase: Healthy, CheckedAt: c.clock.Now()}
	switch {
	case err != nil:
		st = Status{Phase: Failed, Error: err.Error(), CheckedAt: st.CheckedAt}
	case offset.Abs() >= c.threshold:
		st.Phase = OffsetTooLarge
	}

	c.mu.Lock()
	prev := c.status.Phase
	c.status = st
	c.mu.Unlock()

	if st.Phase != prev {
		switch st.Phase {
		case Healthy:
			c.log.Debug("Clock in sync.", "offset", st.Offset)
		case OffsetTooLarge:
			c.log.Warn("Clock offset exceeds threshold.", "offset", st.Offset, "threshold", c.threshold)
		case Failed:
			c.log.Warn("NTP query failed.", "server", c.server, "err", st.Error)
		}
	}
	return st
}

func (c *Checker) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}
