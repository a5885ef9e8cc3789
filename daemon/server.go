package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"slices"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"

	"undocked"
	"undocked/api"
	"undocked/node"
)

// Node is what the daemon APIs need from the local node.
type Node interface {
	ListServices() []undocked.Service
	GetService(id string) (undocked.Service, error)
	GetPeers() []undocked.PeerInfo
	ListRecommendedServices() []undocked.ServiceProfile
	Catalog() []undocked.ServiceProfile
	AddProfile(p undocked.ServiceProfile) (undocked.ServiceProfile, error)
	Launch(ctx context.Context, req node.LaunchRequest) (undocked.Service, error)
	StopService(ctx context.Context, id string) (string, error)
	Snapshot() undocked.NodeSnapshot
	CheckEngine(ctx context.Context) undocked.EngineStatus
	StartEngine(ctx context.Context) (undocked.EngineStatus, error)
	StreamLogs(ctx context.Context, id string) (<-chan string, error)
	SubscribeStats(ctx context.Context) <-chan undocked.NodeSnapshot
	SubscribeErrors(ctx context.Context) <-chan undocked.ServiceError
	SubscribeEngineStatus(ctx context.Context) <-chan undocked.EngineStatus
}

var _ Node = (*node.Node)(nil)

// Server implements the gRPC daemon API on top of a Node.
type Server struct {
	node Node
	log  *slog.Logger
}

var _ api.DaemonServer = (*Server)(nil)

func NewServer(n Node) *Server {
	return &Server{node: n, log: slog.With("component", "api")}
}

func (s *Server) ListServices(context.Context, *api.Empty) (*api.ServicesResponse, error) {
	return &api.ServicesResponse{Services: s.node.ListServices()}, nil
}

func (s *Server) GetPeers(context.Context, *api.Empty) (*api.PeersResponse, error) {
	return &api.PeersResponse{Peers: s.node.GetPeers()}, nil
}

func (s *Server) ListRecommendedServices(context.Context, *api.Empty) (*api.ProfilesResponse, error) {
	return &api.ProfilesResponse{Profiles: s.node.ListRecommendedServices()}, nil
}

func (s *Server) ListCatalog(context.Context, *api.Empty) (*api.ProfilesResponse, error) {
	return &api.ProfilesResponse{Profiles: s.node.Catalog()}, nil
}

func (s *Server) StartService(ctx context.Context, req *api.StartServiceRequest) (*api.StartServiceResponse, error) {
	svc, err := s.node.Launch(ctx, launchRequest(req))
	if err != nil {
		return nil, api.ToStatus(err)
	}
	return &api.StartServiceResponse{Message: node.StartedMessage(svc), Service: svc}, nil
}

func (s *Server) StopService(ctx context.Context, req *api.ServiceRef) (*api.Empty, error) {
	if _, err := s.node.StopService(ctx, req.ServiceID); err != nil {
		return nil, api.ToStatus(err)
	}
	return &api.Empty{}, nil
}

func (s *Server) GetSnapshot(context.Context, *api.Empty) (*api.SnapshotResponse, error) {
	return &api.SnapshotResponse{Snapshot: s.node.Snapshot()}, nil
}

func (s *Server) CheckEngine(ctx context.Context, _ *api.Empty) (*api.EngineResponse, error) {
	return &api.EngineResponse{Status: s.node.CheckEngine(ctx)}, nil
}

func (s *Server) StartEngine(ctx context.Context, _ *api.Empty) (*api.EngineResponse, error) {
	st, err := s.node.StartEngine(ctx)
	if err != nil {
		return nil, api.ToStatus(err)
	}
	return &api.EngineResponse{Status: st, Message: "Container engine is running."}, nil
}

func (s *Server) Watch(req *api.WatchRequest, stream api.ServerStream[api.Event]) error {
	if err := validateEventTypes(req.Types); err != nil {
		return api.ToStatus(err)
	}
	ctx := stream.Context()
	for ev := range Events(ctx, s.node, req.Types) {
		if err := stream.Send(&ev); err != nil {
			return err
		}
	}
	return nil
}

func (s *Server) StreamLogs(req *api.ServiceRef, stream api.ServerStream[api.LogLine]) error {
	lines, err := s.node.StreamLogs(stream.Context(), req.ServiceID)
	if err != nil {
		return api.ToStatus(err)
	}
	for line := range lines {
		if err := stream.Send(&api.LogLine{Line: line}); err != nil {
			return err
		}
	}
	return nil
}

// ListenAndServe serves the gRPC API on a unix socket until ctx is
// cancelled.
func (s *Server) ListenAndServe(ctx context.Context, socketPath string) error {
	// Stale socket from a previous run.
	_ = os.Remove(socketPath)
	defer func() { _ = os.Remove(socketPath) }()

	ln, err := net.Listen("unix", socketPath)
	if err != nil {
		return fmt.Errorf("listen unix %s: %w", socketPath, err)
	}

	srv := grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))
	srv.RegisterService(&api.DaemonServiceDesc, s)

	go func() {
		<-ctx.Done()
		srv.GracefulStop()
	}()

	s.log.Info("API listening.", "socket", socketPath)
	if err := srv.Serve(ln); err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}

func launchRequest(req *api.StartServiceRequest) node.LaunchRequest {
	return node.LaunchRequest{
		ServiceID: req.ServiceID,
		Image:     req.Image,
		HostPort:  req.HostPort,
		Profile:   req.Profile,
	}
}

var eventNames = []string{undocked.EventServiceStats, undocked.EventServiceError, undocked.EventDockerStatus}

func validateEventTypes(types []string) error {
	for _, t := range types {
		if !slices.Contains(eventNames, t) {
			return fmt.Errorf("watch: %w: unknown event type %q, want one of %v",
				undocked.ErrInvalidArgument, t, eventNames)
		}
	}
	return nil
}

// Events merges the node's topics into one event stream, restricted to
// types when non-empty. The channel closes when ctx ends.
func Events(ctx context.Context, n Node, types []string) <-chan api.Event {
	want := func(t string) bool { return len(types) == 0 || slices.Contains(types, t) }

	var (
		stats  <-chan undocked.NodeSnapshot
		errs   <-chan undocked.ServiceError
		engine <-chan undocked.EngineStatus
	)
	if want(undocked.EventServiceStats) {
		stats = n.SubscribeStats(ctx)
	}
	if want(undocked.EventServiceError) {
		errs = n.SubscribeErrors(ctx)
	}
	if want(undocked.EventDockerStatus) {
		engine = n.SubscribeEngineStatus(ctx)
	}

	out := make(chan api.Event)
	go func() {
		defer close(out)
		for stats != nil || errs != nil || engine != nil {
			var ev api.Event
			select {
			case <-ctx.Done():
				return
			case snap, ok := <-stats:
				if !ok {
					stats = nil
					continue
				}
				ev = api.Event{Type: undocked.EventServiceStats, Stats: &snap}
			case e, ok := <-errs:
				if !ok {
					errs = nil
					continue
				}
				ev = api.Event{Type: undocked.EventServiceError, Error: &e}
			case st, ok := <-engine:
				if !ok {
					engine = nil
					continue
				}
				ev = api.Event{Type: undocked.EventDockerStatus, Engine: &st}
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}
