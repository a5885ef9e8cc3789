package daemon

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"

	"undocked"
	"undocked/api"
	"undocked/internal/fake"
	"undocked/node"
	"undocked/node/gossip"
	"undocked/pkg/sdk/client"
)

type silentTransport struct{}

func (silentTransport) Exchange(context.Context, string, gossip.Report) (gossip.Report, error) {
	return gossip.Report{}, errors.New("no network")
}

// runNode starts a node on a fake runtime and stops it when the test ends.
func runNode(t *testing.T, rt *fake.Runtime) *node.Node {
	t.Helper()
	n := node.New(node.Config{NodeID: "node-a", OperationTimeout: time.Second}, rt,
		node.WithTransport(silentTransport{}),
		node.WithClock(fake.NewClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = n.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	select {
	case <-n.Started():
	case <-time.After(2 * time.Second):
		t.Fatal("node did not start")
	}
	return n
}

func newGRPCClient(t *testing.T, n Node) *client.Client {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	srv.RegisterService(&api.DaemonServiceDesc, NewServer(n))
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)

	c, err := client.NewWithDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	})
	if err != nil {
		t.Fatalf("NewWithDialer() error = %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestServerStartAndStopService(t *testing.T) {
	rt := fake.NewRuntime()
	c := newGRPCClient(t, runNode(t, rt))
	ctx := context.Background()

	res, err := c.StartService(ctx, client.StartRequest{ServiceID: "web", Image: "nginx", HostPort: "8080"})
	if err != nil {
		t.Fatalf("StartService() error = %v", err)
	}
	if want := `Service "web" is now running on port 8080.`; res.Message != want {
		t.Fatalf("message = %q, want %q", res.Message, want)
	}
	if res.Service.Status != undocked.StatusRunning {
		t.Fatalf("status = %s, want running", res.Service.Status)
	}

	_, err = c.StartService(ctx, client.StartRequest{ServiceID: "api", Image: "nginx", HostPort: "8080"})
	if !errors.Is(err, undocked.ErrPortInUse) {
		t.Fatalf("second start error = %v, want PortInUse", err)
	}

	services, err := c.ListServices(ctx)
	if err != nil {
		t.Fatalf("ListServices() error = %v", err)
	}
	if len(services) != 1 || services[0].ServiceID != "web" {
		t.Fatalf("services = %+v, want [web]", services)
	}

	if err := c.StopService(ctx, "web"); err != nil {
		t.Fatalf("StopService() error = %v", err)
	}
	if rt.Running("web") {
		t.Fatal("container still running after stop")
	}
	if err := c.StopService(ctx, "web"); !errors.Is(err, undocked.ErrNotFound) {
		t.Fatalf("stop unknown error = %v, want NotFound", err)
	}
}

func TestServerStartFromProfile(t *testing.T) {
	c := newGRPCClient(t, runNode(t, fake.NewRuntime()))

	res, err := c.StartService(context.Background(), client.StartRequest{
		ServiceID: "translate", HostPort: "5000", Profile: "LibreTranslate",
	})
	if err != nil {
		t.Fatalf("StartService() error = %v", err)
	}
	if res.Service.Profile != "LibreTranslate" {
		t.Fatalf("profile = %q, want LibreTranslate", res.Service.Profile)
	}

	_, err = c.StartService(context.Background(), client.StartRequest{
		ServiceID: "x", HostPort: "5001", Profile: "nope",
	})
	if !errors.Is(err, undocked.ErrNotFound) {
		t.Fatalf("unknown profile error = %v, want NotFound", err)
	}
}

func TestServerWatchFiltersByType(t *testing.T) {
	c := newGRPCClient(t, runNode(t, fake.NewRuntime()))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, err := c.Watch(ctx, undocked.EventDockerStatus)
	if err != nil {
		t.Fatalf("Watch() error = %v", err)
	}
	select {
	case ev := <-stream.C:
		if ev.Type != undocked.EventDockerStatus || ev.Engine == nil {
			t.Fatalf("event = %+v, want docker-status", ev)
		}
		if !ev.Engine.Available {
			t.Fatal("engine reported unavailable")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no event received")
	}
}

func TestServerWatchRejectsUnknownType(t *testing.T) {
	c := newGRPCClient(t, runNode(t, fake.NewRuntime()))

	stream, err := c.Watch(context.Background(), "foo")
	if err != nil {
		t.Fatalf("Watch() error = %v", err)
	}
	for range stream.C {
	}
	if err := stream.Err(); !errors.Is(err, undocked.ErrInvalidArgument) {
		t.Fatalf("stream error = %v, want InvalidArgument", err)
	}
}

func TestServerStreamLogsUnknownService(t *testing.T) {
	c := newGRPCClient(t, runNode(t, fake.NewRuntime()))

	stream, err := c.StreamLogs(context.Background(), "ghost")
	if err != nil {
		t.Fatalf("StreamLogs() error = %v", err)
	}
	for range stream.C {
	}
	if err := stream.Err(); !errors.Is(err, undocked.ErrNotFound) {
		t.Fatalf("stream error = %v, want NotFound", err)
	}
}
