package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"slices"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"

	"undocked"
	"undocked/api"
)

type stubDaemon struct {
	api.DaemonServer
}

func (stubDaemon) ListServices(context.Context, *api.Empty) (*api.ServicesResponse, error) {
	return &api.ServicesResponse{Services: []undocked.Service{{ServiceID: "translate", HostPort: "5000"}}}, nil
}

func (stubDaemon) StartService(_ context.Context, in *api.StartServiceRequest) (*api.StartServiceResponse, error) {
	if in.HostPort == "5000" {
		return nil, api.ToStatus(fmt.Errorf("start service %s: %w", in.ServiceID, undocked.ErrPortInUse))
	}
	return &api.StartServiceResponse{Message: "ok", Service: undocked.Service{ServiceID: in.ServiceID, HostPort: in.HostPort}}, nil
}

func (stubDaemon) StreamLogs(in *api.ServiceRef, stream api.ServerStream[api.LogLine]) error {
	if in.ServiceID != "web" {
		return api.ToStatus(fmt.Errorf("stream logs %s: %w", in.ServiceID, undocked.ErrNotFound))
	}
	for _, l := range []string{"one", "two"} {
		if err := stream.Send(&api.LogLine{Line: l}); err != nil {
			return err
		}
	}
	return nil
}

func newTestClient(t *testing.T) *Client {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	srv.RegisterService(&api.DaemonServiceDesc, stubDaemon{})
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)

	c, err := NewWithDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	})
	if err != nil {
		t.Fatalf("NewWithDialer() error = %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestListServices(t *testing.T) {
	c := newTestClient(t)
	got, err := c.ListServices(context.Background())
	if err != nil {
		t.Fatalf("ListServices() error = %v", err)
	}
	if len(got) != 1 || got[0].ServiceID != "translate" {
		t.Fatalf("services = %+v, want [translate]", got)
	}
}

func TestStartServiceMapsErrorKind(t *testing.T) {
	c := newTestClient(t)
	_, err := c.StartService(context.Background(), StartRequest{ServiceID: "x", Image: "nginx", HostPort: "5000"})
	if !errors.Is(err, undocked.ErrPortInUse) {
		t.Fatalf("StartService() error = %v, want PortInUse", err)
	}

	res, err := c.StartService(context.Background(), StartRequest{ServiceID: "x", Image: "nginx", HostPort: "5001"})
	if err != nil {
		t.Fatalf("StartService() error = %v", err)
	}
	if res.Message != "ok" || res.Service.HostPort != "5001" {
		t.Fatalf("result = %+v", res)
	}
}

func TestStreamLogs(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	s, err := c.StreamLogs(ctx, "web")
	if err != nil {
		t.Fatalf("StreamLogs() error = %v", err)
	}
	var lines []string
	for l := range s.C {
		lines = append(lines, l)
	}
	if !slices.Equal(lines, []string{"one", "two"}) {
		t.Fatalf("lines = %v, want [one two]", lines)
	}
	if err := s.Err(); err != nil {
		t.Fatalf("Err() = %v, want nil", err)
	}

	s, err = c.StreamLogs(ctx, "ghost")
	if err != nil {
		t.Fatalf("StreamLogs(ghost) error = %v", err)
	}
	for range s.C {
	}
	if err := s.Err(); !errors.Is(err, undocked.ErrNotFound) {
		t.Fatalf("Err() = %v, want NotFound", err)
	}
}

func TestSSHArgs(t *testing.T) {
	got := sshArgs("deploy@box", SSHOptions{Port: 2222, SocketPath: "/run/undockd.sock"})
	want := []string{
		"-T", "-o", "BatchMode=yes", "-o", "StrictHostKeyChecking=accept-new",
		"-p", "2222", "deploy@box",
		"sudo", "-n", remoteDaemonPath, "dial-stdio", "--socket", "/run/undockd.sock",
	}
	if !slices.Equal(got, want) {
		t.Fatalf("sshArgs() = %v, want %v", got, want)
	}

	got = sshArgs("root@box", SSHOptions{SocketPath: "/run/undockd.sock"})
	if slices.Contains(got, "sudo") {
		t.Fatalf("sshArgs(root) = %v, want no sudo", got)
	}
}

func TestDefaultSocketPathFromEnv(t *testing.T) {
	t.Setenv(envSocket, "/tmp/custom.sock")
	if got := DefaultSocketPath(); got != "/tmp/custom.sock" {
		t.Fatalf("DefaultSocketPath() = %q, want /tmp/custom.sock", got)
	}
}
