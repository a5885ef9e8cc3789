// Package client is the Go SDK for the undockd daemon API.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"undocked"
	"undocked/api"
	"undocked/platform"
)

const envSocket = "UNDOCKED_SOCKET"

// DefaultSocketPath returns $UNDOCKED_SOCKET or the platform default.
func DefaultSocketPath() string {
	if fromEnv := strings.TrimSpace(os.Getenv(envSocket)); fromEnv != "" {
		return fromEnv
	}
	return platform.DaemonSocketPath
}

// API is what the CLI needs from a daemon.
type API interface {
	ListServices(ctx context.Context) ([]undocked.Service, error)
	GetPeers(ctx context.Context) ([]undocked.PeerInfo, error)
	ListRecommendedServices(ctx context.Context) ([]undocked.ServiceProfile, error)
	ListCatalog(ctx context.Context) ([]undocked.ServiceProfile, error)
	StartService(ctx context.Context, req StartRequest) (StartResult, error)
	StopService(ctx context.Context, serviceID string) error
	Snapshot(ctx context.Context) (undocked.NodeSnapshot, error)
	CheckEngine(ctx context.Context) (undocked.EngineStatus, error)
	StartEngine(ctx context.Context) (undocked.EngineStatus, error)
	Watch(ctx context.Context, types ...string) (*Stream[api.Event], error)
	StreamLogs(ctx context.Context, serviceID string) (*Stream[string], error)
}

// StartRequest launches Image, or the catalog profile Profile when set.
type StartRequest struct {
	ServiceID string
	Image     string
	HostPort  string
	Profile   string
}

type StartResult struct {
	Message string
	Service undocked.Service
}

var _ API = (*Client)(nil)

type Client struct {
	conn   *grpc.ClientConn
	daemon *api.DaemonClient
}

func NewUnix(socketPath string) (*Client, error) {
	return newClient("unix://"+socketPath)
}

// NewWithDialer connects through dialer instead of a socket path.
func NewWithDialer(dialer func(ctx context.Context, addr string) (net.Conn, error)) (*Client, error) {
	return newClient("passthrough:///undockd", grpc.WithContextDialer(dialer))
}

func newClient(target string, extra ...grpc.DialOption) (*Client, error) {
	opts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
		api.CallOptions(),
	}, extra...)
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("grpc dial %s: %w", target, err)
	}
	return &Client{conn: conn, daemon: api.NewDaemonClient(conn)}, nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) ListServices(ctx context.Context) ([]undocked.Service, error) {
	resp, err := c.daemon.ListServices(ctx, &api.Empty{})
	if err != nil {
		return nil, api.FromStatus(err)
	}
	return resp.Services, nil
}

func (c *Client) GetPeers(ctx context.Context) ([]undocked.PeerInfo, error) {
	resp, err := c.daemon.GetPeers(ctx, &api.Empty{})
	if err != nil {
		return nil, api.FromStatus(err)
	}
	return resp.Peers, nil
}

func (c *Client) ListRecommendedServices(ctx context.Context) ([]undocked.ServiceProfile, error) {
	resp, err := c.daemon.ListRecommendedServices(ctx, &api.Empty{})
	if err != nil {
		return nil, api.FromStatus(err)
	}
	return resp.Profiles, nil
}

// ListCatalog returns every profile in the daemon's catalog.
func (c *Client) ListCatalog(ctx context.Context) ([]undocked.ServiceProfile, error) {
	resp, err := c.daemon.ListCatalog(ctx, &api.Empty{})
	if err != nil {
		return nil, api.FromStatus(err)
	}
	return resp.Profiles, nil
}

func (c *Client) StartService(ctx context.Context, req StartRequest) (StartResult, error) {
	resp, err := c.daemon.StartService(ctx, &api.StartServiceRequest{
		ServiceID: req.ServiceID,
		Image:     req.Image,
		HostPort:  req.HostPort,
		Profile:   req.Profile,
	})
	if err != nil {
		return StartResult{}, api.FromStatus(err)
	}
	return StartResult{Message: resp.Message, Service: resp.Service}, nil
}

func (c *Client) StopService(ctx context.Context, serviceID string) error {
	_, err := c.daemon.StopService(ctx, &api.ServiceRef{ServiceID: serviceID})
	return api.FromStatus(err)
}

func (c *Client) Snapshot(ctx context.Context) (undocked.NodeSnapshot, error) {
	resp, err := c.daemon.GetSnapshot(ctx, &api.Empty{})
	if err != nil {
		return undocked.NodeSnapshot{}, api.FromStatus(err)
	}
	return resp.Snapshot, nil
}

func (c *Client) CheckEngine(ctx context.Context) (undocked.EngineStatus, error) {
	resp, err := c.daemon.CheckEngine(ctx, &api.Empty{})
	if err != nil {
		return undocked.EngineStatus{}, api.FromStatus(err)
	}
	return resp.Status, nil
}

func (c *Client) StartEngine(ctx context.Context) (undocked.EngineStatus, error) {
	resp, err := c.daemon.StartEngine(ctx, &api.Empty{})
	if err != nil {
		return undocked.EngineStatus{}, api.FromStatus(err)
	}
	return resp.Status, nil
}

// Watch streams daemon events, optionally filtered by type.
func (c *Client) Watch(ctx context.Context, types ...string) (*Stream[api.Event], error) {
	stream, err := c.daemon.Watch(ctx, &api.WatchRequest{Types: types})
	if err != nil {
		return nil, api.FromStatus(err)
	}
	return forward(ctx, stream, func(ev *api.Event) api.Event { return *ev }), nil
}

// StreamLogs follows the logs of a service.
func (c *Client) StreamLogs(ctx context.Context, serviceID string) (*Stream[string], error) {
	stream, err := c.daemon.StreamLogs(ctx, &api.ServiceRef{ServiceID: serviceID})
	if err != nil {
		return nil, api.FromStatus(err)
	}
	return forward(ctx, stream, func(l *api.LogLine) string { return l.Line }), nil
}

// Stream is a server stream delivered over a channel. C closes when the
// stream ends; Err then reports why.
type Stream[T any] struct {
	C <-chan T

	err  error
	done chan struct{}
}

// Err blocks until C is closed and returns the error that ended the stream,
// or nil on a clean end or cancellation.
func (s *Stream[T]) Err() error {
	<-s.done
	return s.err
}

func forward[In, Out any](ctx context.Context, stream api.ClientStream[In], conv func(*In) Out) *Stream[Out] {
	out := make(chan Out, 128)
	s := &Stream[Out]{C: out, done: make(chan struct{})}
	go func() {
		defer close(s.done)
		defer close(out)
		for {
			m, err := stream.Recv()
			if err != nil {
				if !errors.Is(err, io.EOF) && ctx.Err() == nil {
					s.err = api.FromStatus(err)
				}
				return
			}
			select {
			case <-ctx.Done():
				return
			case out <- conv(m):
			}
		}
	}()
	return s
}
