package gossip

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"undocked/api"
)

// GRPCTransport sends reports over the Gossip gRPC service, caching one
// client connection per address.
type GRPCTransport struct {
	dialOpts []grpc.DialOption

	mu    sync.Mutex
	conns map[string]*grpc.ClientConn
}

var (
	_ Transport     = (*GRPCTransport)(nil)
	_ ConnForgetter = (*GRPCTransport)(nil)
)

func NewGRPCTransport(extra ...grpc.DialOption) *GRPCTransport {
	opts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
		api.CallOptions(),
	}
	return &GRPCTransport{
		dialOpts: append(opts, extra...),
		conns:    make(map[string]*grpc.ClientConn),
	}
}

func (t *GRPCTransport) Exchange(ctx context.Context, addr string, r Report) (Report, error) {
	conn, err := t.conn(addr)
	if err != nil {
		return Report{}, err
	}
	reply, err := api.NewGossipClient(conn).Exchange(ctx, toWire(r))
	if err != nil {
		return Report{}, fmt.Errorf("gossip exchange: %w", err)
	}
	return fromWire(reply), nil
}

func (t *GRPCTransport) conn(addr string) (*grpc.ClientConn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if c, ok := t.conns[addr]; ok {
		return c, nil
	}
	c, err := grpc.NewClient(addr, t.dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("create gossip client for %s: %w", addr, err)
	}
	t.conns[addr] = c
	return c, nil
}

// Forget closes the cached connection to addr, if any. A later exchange
// dials again.
func (t *GRPCTransport) Forget(addr string) {
	t.mu.Lock()
	c, ok := t.conns[addr]
	delete(t.conns, addr)
	t.mu.Unlock()
	if ok {
		_ = c.Close()
	}
}

// Close releases every cached connection.
func (t *GRPCTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for addr, c := range t.conns {
		_ = c.Close()
		delete(t.conns, addr)
	}
	return nil
}

type server struct {
	handler Handler
}

func (s server) Exchange(ctx context.Context, in *api.GossipReport) (*api.GossipReport, error) {
	return toWire(s.handler.HandleReport(ctx, fromWire(in))), nil
}

// Register attaches h to srv as the Gossip service.
func Register(srv *grpc.Server, h Handler) {
	srv.RegisterService(&api.GossipServiceDesc, server{handler: h})
}

// ListenAndServe serves inbound gossip on a TCP address until ctx is
// cancelled.
func ListenAndServe(ctx context.Context, addr string, h Handler) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen gossip %s: %w", addr, err)
	}

	srv := grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))
	Register(srv, h)

	go func() {
		<-ctx.Done()
		srv.GracefulStop()
	}()

	slog.Info("Gossip listening.", "addr", ln.Addr().String())
	if err := srv.Serve(ln); err != nil {
		return fmt.Errorf("serve gossip: %w", err)
	}
	return nil
}

func toWire(r Report) *api.GossipReport {
	return &api.GossipReport{ID: r.ID, Addr: r.Addr, Services: r.Services, SentAt: r.SentAt}
}

func fromWire(r *api.GossipReport) Report {
	if r == nil {
		return Report{}
	}
	return Report{ID: r.ID, Addr: r.Addr, Services: r.Services, SentAt: r.SentAt}
}
