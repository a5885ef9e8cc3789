// Package node composes the service registry, stats aggregator, peer
// directory, gossip exchange and snapshot publisher into one local node.
package node

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"undocked"
	"undocked/internal/check"
	"undocked/node/catalog"
	"undocked/node/gossip"
	"undocked/node/peers"
	"undocked/node/publish"
	"undocked/node/registry"
	"undocked/node/stats"
	"undocked/node/traffic"
	"undocked/platform"
)

const (
	defaultPublishInterval     = 2 * time.Second
	defaultEngineProbeInterval = 10 * time.Second
	defaultOperationTimeout    = 60 * time.Second
	defaultShutdownGrace       = 10 * time.Second

	defaultGossipInterval = 5 * time.Second
	defaultPeerTimeout    = 2 * time.Second
	defaultEvictThreshold = 30 * time.Second
	defaultEvictInterval  = 10 * time.Second
)

// ContainerRuntime is the container engine the node drives.
type ContainerRuntime interface {
	IsAvailable(ctx context.Context) bool
	Start(ctx context.Context, spec undocked.ContainerSpec) (undocked.ContainerHandle, error)
	Stop(ctx context.Context, serviceID string) error
	Wait(ctx context.Context, serviceID string) (int64, error)
	StreamLogs(ctx context.Context, serviceID string) (<-chan string, error)
	List(ctx context.Context) ([]undocked.Service, error)
}

// Config holds the timing knobs of a node. Zero durations take defaults.
type Config struct {
	NodeID              string
	Gossip              gossip.Config
	PublishInterval     time.Duration
	EngineProbeInterval time.Duration
	OperationTimeout    time.Duration
	ShutdownGrace       time.Duration
}

func (c Config) withDefaults() Config {
	if c.PublishInterval <= 0 {
		c.PublishInterval = defaultPublishInterval
	}
	if c.EngineProbeInterval <= 0 {
		c.EngineProbeInterval = defaultEngineProbeInterval
	}
	if c.OperationTimeout <= 0 {
		c.OperationTimeout = defaultOperationTimeout
	}
	if c.ShutdownGrace <= 0 {
		c.ShutdownGrace = defaultShutdownGrace
	}
	if c.Gossip.Interval <= 0 {
		c.Gossip.Interval = defaultGossipInterval
	}
	if c.Gossip.PeerTimeout <= 0 {
		c.Gossip.PeerTimeout = defaultPeerTimeout
	}
	if c.Gossip.EvictThreshold <= 0 {
		c.Gossip.EvictThreshold = defaultEvictThreshold
	}
	if c.Gossip.EvictInterval <= 0 {
		c.Gossip.EvictInterval = defaultEvictInterval
	}
	c.Gossip.NodeID = c.NodeID
	return c
}

// Option configures a Node. Use these to inject test dependencies.
type Option func(*Node)

func WithClock(clock undocked.Clock) Option {
	check.Assert(clock != nil, "WithClock: clock must not be nil")
	return func(n *Node) { n.clock = clock }
}

// WithCatalog replaces the embedded service catalog.
func WithCatalog(c *catalog.Catalog) Option {
	check.Assert(c != nil, "WithCatalog: catalog must not be nil")
	return func(n *Node) { n.catalog = c }
}

// WithTransport sets the gossip transport. Defaults to gRPC.
func WithTransport(t gossip.Transport) Option {
	check.Assert(t != nil, "WithTransport: transport must not be nil")
	return func(n *Node) { n.transport = t }
}

// WithAddressBook persists learned gossip addresses.
func WithAddressBook(b gossip.AddressBook) Option {
	check.Assert(b != nil, "WithAddressBook: book must not be nil")
	return func(n *Node) { n.book = b }
}

func WithTracer(t trace.Tracer) Option {
	return func(n *Node) { n.tracer = t }
}

// WithEngineStarter overrides how the container engine is launched.
func WithEngineStarter(fn func(context.Context) error) Option {
	check.Assert(fn != nil, "WithEngineStarter: starter must not be nil")
	return func(n *Node) { n.startEngine = fn }
}

// WithExchangeObserver is told about every outbound gossip exchange.
func WithExchangeObserver(fn func(addr string, err error)) Option {
	return func(n *Node) { n.onExchange = fn }
}

// Node is a single daemon instance: local services, peers and stats.
type Node struct {
	cfg     Config
	runtime ContainerRuntime
	clock   undocked.Clock
	catalog *catalog.Catalog
	tracer  trace.Tracer
	log     *slog.Logger

	registry  *registry.Registry
	stats     *stats.Aggregator
	peers     *peers.Directory
	gossip    *gossip.Exchanger
	publisher *publish.Publisher
	meter     *traffic.Meter

	transport   gossip.Transport
	book        gossip.AddressBook
	startEngine func(context.Context) error
	onExchange  func(addr string, err error)

	statsTopic  *publish.Topic[undocked.NodeSnapshot]
	errorTopic  *publish.Topic[undocked.ServiceError]
	engineTopic *publish.Topic[undocked.EngineStatus]

	mu         sync.Mutex
	lifetimes  map[string]*lifetime
	engineUp   *bool
	workers    sync.WaitGroup
	baseCtx    context.Context
	cancelBase context.CancelFunc

	started chan struct{}
}

// New builds a node around runtime. Nothing runs until Run.
func New(cfg Config, runtime ContainerRuntime, opts ...Option) *Node {
	check.Assert(cfg.NodeID != "", "node.New: node id is required")
	check.Assert(runtime != nil, "node.New: runtime must not be nil")

	n := &Node{
		cfg:         cfg.withDefaults(),
		runtime:     runtime,
		clock:       undocked.RealClock{},
		catalog:     catalog.Default(),
		log:         slog.With("component", "node"),
		startEngine: platform.StartEngine,
		statsTopic:  publish.NewTopic[undocked.NodeSnapshot](),
		errorTopic:  publish.NewTopic[undocked.ServiceError](),
		engineTopic: publish.NewTopic[undocked.EngineStatus](),
		lifetimes:   make(map[string]*lifetime),
		started:     make(chan struct{}),
	}
	n.baseCtx, n.cancelBase = context.WithCancel(context.Background())
	for _, o := range opts {
		o(n)
	}
	if n.transport == nil {
		n.transport = gossip.NewGRPCTransport()
	}

	n.stats = stats.New(n.clock)
	n.peers = peers.NewDirectory()
	n.registry = registry.New(runtime,
		registry.WithClock(n.clock),
		registry.WithObserver(n),
		registry.WithOperationTimeout(n.cfg.OperationTimeout),
		registry.WithTracer(n.tracer),
	)
	n.publisher = publish.NewPublisher(n.cfg.NodeID, n.registry, n.peers, n.stats,
		n.clock, n.cfg.PublishInterval, n.statsTopic)

	gossipOpts := []gossip.Option{
		gossip.WithClock(n.clock),
		gossip.WithOnChange(n.publisher.Notify),
		gossip.WithOnExchange(n.onExchange),
	}
	if n.book != nil {
		gossipOpts = append(gossipOpts, gossip.WithAddressBook(n.book))
	}
	n.gossip = gossip.New(n.cfg.Gossip, n.transport, n.peers, n.registry, gossipOpts...)
	n.meter = traffic.New(n.registry, n.catalog, n.stats)
	return n
}

// ID returns the node id advertised over gossip.
func (n *Node) ID() string {
	return n.cfg.NodeID
}

// Started returns a channel that is closed once Run has adopted existing
// containers and started its loops.
func (n *Node) Started() <-chan struct{} {
	return n.started
}

// ListServices returns local services with their current stat mirrors.
func (n *Node) ListServices() []undocked.Service {
	current := n.stats.Snapshot()
	services := n.registry.List()
	for i, svc := range services {
		if st, ok := current[svc.ServiceID]; ok {
			services[i] = svc.WithStats(st)
		}
	}
	return services
}

// GetService returns one local service with its stat mirrors.
func (n *Node) GetService(id string) (undocked.Service, error) {
	svc, ok := n.registry.Get(id)
	if !ok {
		return undocked.Service{}, fmt.Errorf("get service %s: %w", id, undocked.ErrNotFound)
	}
	if st, ok := n.stats.Get(id); ok {
		svc = svc.WithStats(st)
	}
	return svc, nil
}

// GetPeers returns the peer directory sorted by id.
func (n *Node) GetPeers() []undocked.PeerInfo {
	return n.peers.List()
}

// ListRecommendedServices returns the catalog profiles flagged recommended.
func (n *Node) ListRecommendedServices() []undocked.ServiceProfile {
	return n.catalog.Recommended()
}

// Catalog returns every known profile.
func (n *Node) Catalog() []undocked.ServiceProfile {
	return n.catalog.List()
}

// AddProfile registers a new catalog profile. Existing profiles cannot be
// replaced.
func (n *Node) AddProfile(p undocked.ServiceProfile) (undocked.ServiceProfile, error) {
	added, err := n.catalog.Add(p)
	if err != nil {
		return undocked.ServiceProfile{}, err
	}
	n.log.Info("Profile added.", "profile", added.Name, "image", added.Image)
	return added, nil
}

// Snapshot composes a fresh snapshot without publishing it.
func (n *Node) Snapshot() undocked.NodeSnapshot {
	return n.publisher.Compose()
}

// LatestSnapshot returns the last published snapshot, composing one if
// nothing has been published yet.
func (n *Node) LatestSnapshot() undocked.NodeSnapshot {
	if snap, ok := n.statsTopic.Latest(); ok {
		return snap
	}
	return n.publisher.Compose()
}

// SubscribeStats delivers every published snapshot, starting with the latest.
func (n *Node) SubscribeStats(ctx context.Context) <-chan undocked.NodeSnapshot {
	return n.statsTopic.Subscribe(ctx)
}

// SubscribeErrors delivers service failures.
func (n *Node) SubscribeErrors(ctx context.Context) <-chan undocked.ServiceError {
	return n.errorTopic.Subscribe(ctx)
}

// SubscribeEngineStatus delivers container engine availability changes.
func (n *Node) SubscribeEngineStatus(ctx context.Context) <-chan undocked.EngineStatus {
	return n.engineTopic.Subscribe(ctx)
}

// Meter returns the metering reverse proxy for local services.
func (n *Node) Meter() *traffic.Meter {
	return n.meter
}

// GossipHandler answers inbound gossip exchanges.
func (n *Node) GossipHandler() gossip.Handler {
	return n.gossip
}
