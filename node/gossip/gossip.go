// Package gossip periodically exchanges node reports with peers and keeps the
// peer directory fresh. Delivery is best effort: failures are retried on the
// next round, and silent peers are evicted by a separate sweep.
package gossip

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"slices"
	"sync"
	"time"

	"undocked"
	"undocked/internal/check"
)

// Report is what a node advertises about itself.
type Report struct {
	ID       string
	Addr     string
	Services []undocked.Service
	SentAt   time.Time
}

// Transport sends our report to addr and returns the peer's report.
type Transport interface {
	Exchange(ctx context.Context, addr string, r Report) (Report, error)
}

// ConnForgetter is implemented by transports that hold per-address state.
// Forget releases it once the peer at addr has been evicted.
type ConnForgetter interface {
	Forget(addr string)
}

// Handler answers inbound exchanges.
type Handler interface {
	HandleReport(ctx context.Context, r Report) Report
}

// AddressBook remembers gossip addresses learned from peers.
type AddressBook interface {
	Addresses(ctx context.Context) ([]string, error)
	Learn(ctx context.Context, peerID, addr string) error
	Forget(ctx context.Context, peerID string) error
}

type Directory interface {
	Upsert(id, addr string, services []undocked.Service, lastSeen time.Time)
	EvictStale(now time.Time, threshold time.Duration) []undocked.PeerInfo
}

type ServiceLister interface {
	List() []undocked.Service
}

type Config struct {
	NodeID         string
	Advertise      string
	Seeds          []string
	Interval       time.Duration
	Jitter         time.Duration
	PeerTimeout    time.Duration
	EvictThreshold time.Duration
	EvictInterval  time.Duration
}

type Option func(*Exchanger)

func WithClock(clock undocked.Clock) Option {
	check.Assert(clock != nil, "WithClock: clock must not be nil")
	return func(e *Exchanger) { e.clock = clock }
}

func WithAddressBook(book AddressBook) Option {
	check.Assert(book != nil, "WithAddressBook: book must not be nil")
	return func(e *Exchanger) { e.book = book }
}

// WithOnChange registers a callback fired after the directory changes.
func WithOnChange(fn func()) Option {
	return func(e *Exchanger) { e.onChange = fn }
}

// WithOnExchange registers a callback fired after every outbound exchange.
func WithOnExchange(fn func(addr string, err error)) Option {
	return func(e *Exchanger) { e.onExchange = fn }
}

// Exchanger runs the gossip send and eviction loops and serves inbound
// reports.
type Exchanger struct {
	cfg       Config
	transport Transport
	directory Directory
	services  ServiceLister
	book      AddressBook
	clock     undocked.Clock
	log       *slog.Logger

	onChange   func()
	onExchange func(addr string, err error)

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var _ Handler = (*Exchanger)(nil)

func New(cfg Config, transport Transport, directory Directory, services ServiceLister, opts ...Option) *Exchanger {
	check.Assert(cfg.NodeID != "", "gossip.New: node id is required")
	check.Assert(transport != nil, "gossip.New: transport must not be nil")
	check.Assert(directory != nil && services != nil, "gossip.New: directory and services are required")
	e := &Exchanger{
		cfg:       cfg,
		transport: transport,
		directory: directory,
		services:  services,
		book:      NewMemoryBook(),
		clock:     undocked.RealClock{},
		log:       slog.With("component", "gossip"),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// LocalReport describes this node as of now.
func (e *Exchanger) LocalReport() Report {
	return Report{
		ID:       e.cfg.NodeID,
		Addr:     e.cfg.Advertise,
		Services: e.services.List(),
		SentAt:   e.clock.Now(),
	}
}

// HandleReport records an inbound report and replies with ours. Reports
// bearing our own id are not recorded.
func (e *Exchanger) HandleReport(ctx context.Context, r Report) Report {
	e.accept(ctx, r, r.Addr)
	return e.LocalReport()
}

// accept upserts a peer report stamped with local receipt time. fallbackAddr
// is used when the report carries no address.
func (e *Exchanger) accept(ctx context.Context, r Report, fallbackAddr string) bool {
	if r.ID == "" || r.ID == e.cfg.NodeID {
		return false
	}
	addr := r.Addr
	if addr == "" {
		addr = fallbackAddr
	}
	e.directory.Upsert(r.ID, addr, r.Services, e.clock.Now())
	if addr != "" && !slices.Contains(e.cfg.Seeds, addr) {
		if err := e.book.Learn(ctx, r.ID, addr); err != nil {
			e.log.Warn("Remember peer address failed.", "peer", r.ID, "addr", addr, "err", err)
		}
	}
	e.changed()
	return true
}

// KnownAddresses returns seeds plus learned addresses, excluding our own.
func (e *Exchanger) KnownAddresses(ctx context.Context) []string {
	learned, err := e.book.Addresses(ctx)
	if err != nil {
		e.log.Warn("Load peer addresses failed.", "err", err)
	}
	seen := make(map[string]struct{})
	var out []string
	for _, addr := range append(slices.Clone(e.cfg.Seeds), learned...) {
		if addr == "" || addr == e.cfg.Advertise {
			continue
		}
		if _, dup := seen[addr]; dup {
			continue
		}
		seen[addr] = struct{}{}
		out = append(out, addr)
	}
	slices.Sort(out)
	return out
}

// Round sends our report to every known address concurrently and returns the
// per-address failures. Each send is bounded by the peer timeout.
func (e *Exchanger) Round(ctx context.Context) map[string]error {
	addrs := e.KnownAddresses(ctx)
	if len(addrs) == 0 {
		return nil
	}
	local := e.LocalReport()

	var (
		mu       sync.Mutex
		failures map[string]error
		wg       sync.WaitGroup
	)
	for _, addr := range addrs {
		wg.Add(1)
		go func(addr string) {
			defer wg.Done()
			err := e.exchangeOne(ctx, addr, local)
			if e.onExchange != nil {
				e.onExchange(addr, err)
			}
			if err == nil {
				return
			}
			mu.Lock()
			if failures == nil {
				failures = make(map[string]error)
			}
			failures[addr] = err
			mu.Unlock()
		}(addr)
	}
	wg.Wait()
	return failures
}

func (e *Exchanger) exchangeOne(ctx context.Context, addr string, local Report) error {
	sendCtx := ctx
	if e.cfg.PeerTimeout > 0 {
		var cancel context.CancelFunc
		sendCtx, cancel = context.WithTimeout(ctx, e.cfg.PeerTimeout)
		defer cancel()
	}
	reply, err := e.transport.Exchange(sendCtx, addr, local)
	if err != nil {
		err = fmt.Errorf("exchange with %s: %w: %v", addr, undocked.ErrPeerUnreachable, err)
		if ctx.Err() == nil {
			e.log.Debug("Peer unreachable.", "addr", addr, "err", err)
		}
		return err
	}
	e.accept(ctx, reply, addr)
	return nil
}

// Sweep evicts peers silent for longer than the eviction threshold and
// forgets their learned addresses.
func (e *Exchanger) Sweep(ctx context.Context) []undocked.PeerInfo {
	evicted := e.directory.EvictStale(e.clock.Now(), e.cfg.EvictThreshold)
	for _, p := range evicted {
		e.log.Info("Peer evicted.", "peer", p.ID, "last_seen", p.LastSeen)
		if err := e.book.Forget(ctx, p.ID); err != nil {
			e.log.Warn("Forget peer address failed.", "peer", p.ID, "err", err)
		}
		if f, ok := e.transport.(ConnForgetter); ok && p.Addr != "" {
			f.Forget(p.Addr)
		}
	}
	if len(evicted) > 0 {
		e.changed()
	}
	return evicted
}

// Start launches the send and sweep loops.
func (e *Exchanger) Start(ctx context.Context) {
	check.Assert(e.cfg.Interval > 0 && e.cfg.EvictInterval > 0, "gossip.Start: intervals must be positive")
	ctx, e.cancel = context.WithCancel(ctx)

	e.wg.Add(2)
	go func() {
		defer e.wg.Done()
		e.sendLoop(ctx)
	}()
	go func() {
		defer e.wg.Done()
		e.sweepLoop(ctx)
	}()
}

// Stop cancels both loops and waits for them to exit.
func (e *Exchanger) Stop() {
	if e.cancel != nil {
		e.cancel()
		e.wg.Wait()
	}
}

func (e *Exchanger) sendLoop(ctx context.Context) {
	e.log.Debug("Starting.", "interval", e.cfg.Interval, "jitter", e.cfg.Jitter, "seeds", len(e.cfg.Seeds))
	for {
		failures := e.Round(ctx)
		if ctx.Err() != nil {
			return
		}
		if n := len(failures); n > 0 {
			errs := make([]error, 0, n)
			for _, err := range failures {
				errs = append(errs, err)
			}
			e.log.Debug("Gossip round finished with failures.", "failed", n, "err", errors.Join(errs...))
		}
		if !sleepContext(ctx, e.nextDelay()) {
			return
		}
	}
}

func (e *Exchanger) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.EvictInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.Sweep(ctx)
		}
	}
}

func (e *Exchanger) nextDelay() time.Duration {
	d := e.cfg.Interval
	if e.cfg.Jitter > 0 {
		d += time.Duration(rand.Int64N(int64(2*e.cfg.Jitter)+1)) - e.cfg.Jitter
	}
	if d <= 0 {
		d = e.cfg.Interval
	}
	return d
}

func (e *Exchanger) changed() {
	if e.onChange != nil {
		e.onChange()
	}
}

func sleepContext(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
