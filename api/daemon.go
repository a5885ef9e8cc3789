package api

import (
	"context"

	"google.golang.org/grpc"
)

const DaemonServiceName = "undocked.v1.Daemon"

// DaemonServer is implemented by the daemon's local control API.
type DaemonServer interface {
	ListServices(context.Context, *Empty) (*ServicesResponse, error)
	GetPeers(context.Context, *Empty) (*PeersResponse, error)
	ListRecommendedServices(context.Context, *Empty) (*ProfilesResponse, error)
	ListCatalog(context.Context, *Empty) (*ProfilesResponse, error)
	StartService(context.Context, *StartServiceRequest) (*StartServiceResponse, error)
	StopService(context.Context, *ServiceRef) (*Empty, error)
	GetSnapshot(context.Context, *Empty) (*SnapshotResponse, error)
	CheckEngine(context.Context, *Empty) (*EngineResponse, error)
	StartEngine(context.Context, *Empty) (*EngineResponse, error)
	Watch(*WatchRequest, ServerStream[Event]) error
	StreamLogs(*ServiceRef, ServerStream[LogLine]) error
}

func daemon(srv any) DaemonServer { return srv.(DaemonServer) }

// DaemonServiceDesc describes the daemon service for grpc.Server.RegisterService.
var DaemonServiceDesc = grpc.ServiceDesc{
	ServiceName: DaemonServiceName,
	HandlerType: (*DaemonServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryMethod(DaemonServiceName, "ListServices", func(srv any, ctx context.Context, in *Empty) (*ServicesResponse, error) {
			return daemon(srv).ListServices(ctx, in)
		}),
		unaryMethod(DaemonServiceName, "GetPeers", func(srv any, ctx context.Context, in *Empty) (*PeersResponse, error) {
			return daemon(srv).GetPeers(ctx, in)
		}),
		unaryMethod(DaemonServiceName, "ListRecommendedServices", func(srv any, ctx context.Context, in *Empty) (*ProfilesResponse, error) {
			return daemon(srv).ListRecommendedServices(ctx, in)
		}),
		unaryMethod(DaemonServiceName, "ListCatalog", func(srv any, ctx context.Context, in *Empty) (*ProfilesResponse, error) {
			return daemon(srv).ListCatalog(ctx, in)
		}),
		unaryMethod(DaemonServiceName, "StartService", func(srv any, ctx context.Context, in *StartServiceRequest) (*StartServiceResponse, error) {
			return daemon(srv).StartService(ctx, in)
		}),
		unaryMethod(DaemonServiceName, "StopService", func(srv any, ctx context.Context, in *ServiceRef) (*Empty, error) {
			return daemon(srv).StopService(ctx, in)
		}),
		unaryMethod(DaemonServiceName, "GetSnapshot", func(srv any, ctx context.Context, in *Empty) (*SnapshotResponse, error) {
			return daemon(srv).GetSnapshot(ctx, in)
		}),
		unaryMethod(DaemonServiceName, "CheckEngine", func(srv any, ctx context.Context, in *Empty) (*EngineResponse, error) {
			return daemon(srv).CheckEngine(ctx, in)
		}),
		unaryMethod(DaemonServiceName, "StartEngine", func(srv any, ctx context.Context, in *Empty) (*EngineResponse, error) {
			return daemon(srv).StartEngine(ctx, in)
		}),
	},
	Streams: []grpc.StreamDesc{
		serverStreamDesc("Watch", func(srv any, in *WatchRequest, stream ServerStream[Event]) error {
			return daemon(srv).Watch(in, stream)
		}),
		serverStreamDesc("StreamLogs", func(srv any, in *ServiceRef, stream ServerStream[LogLine]) error {
			return daemon(srv).StreamLogs(in, stream)
		}),
	},
	Metadata: "undocked/v1/daemon",
}

// DaemonClient is the client side of DaemonServiceDesc.
type DaemonClient struct {
	cc grpc.ClientConnInterface
}

func NewDaemonClient(cc grpc.ClientConnInterface) *DaemonClient {
	return &DaemonClient{cc: cc}
}

func daemonMethod(name string) string { return "/" + DaemonServiceName + "/" + name }

func (c *DaemonClient) ListServices(ctx context.Context, in *Empty, opts ...grpc.CallOption) (*ServicesResponse, error) {
	return invoke[ServicesResponse](ctx, c.cc, daemonMethod("ListServices"), in, opts...)
}

func (c *DaemonClient) GetPeers(ctx context.Context, in *Empty, opts ...grpc.CallOption) (*PeersResponse, error) {
	return invoke[PeersResponse](ctx, c.cc, daemonMethod("GetPeers"), in, opts...)
}

func (c *DaemonClient) ListRecommendedServices(ctx context.Context, in *Empty, opts ...grpc.CallOption) (*ProfilesResponse, error) {
	return invoke[ProfilesResponse](ctx, c.cc, daemonMethod("ListRecommendedServices"), in, opts...)
}

func (c *DaemonClient) ListCatalog(ctx context.Context, in *Empty, opts ...grpc.CallOption) (*ProfilesResponse, error) {
	return invoke[ProfilesResponse](ctx, c.cc, daemonMethod("ListCatalog"), in, opts...)
}

func (c *DaemonClient) StartService(ctx context.Context, in *StartServiceRequest, opts ...grpc.CallOption) (*StartServiceResponse, error) {
	return invoke[StartServiceResponse](ctx, c.cc, daemonMethod("StartService"), in, opts...)
}

func (c *DaemonClient) StopService(ctx context.Context, in *ServiceRef, opts ...grpc.CallOption) (*Empty, error) {
	return invoke[Empty](ctx, c.cc, daemonMethod("StopService"), in, opts...)
}

func (c *DaemonClient) GetSnapshot(ctx context.Context, in *Empty, opts ...grpc.CallOption) (*SnapshotResponse, error) {
	return invoke[SnapshotResponse](ctx, c.cc, daemonMethod("GetSnapshot"), in, opts...)
}

func (c *DaemonClient) CheckEngine(ctx context.Context, in *Empty, opts ...grpc.CallOption) (*EngineResponse, error) {
	return invoke[EngineResponse](ctx, c.cc, daemonMethod("CheckEngine"), in, opts...)
}

func (c *DaemonClient) StartEngine(ctx context.Context, in *Empty, opts ...grpc.CallOption) (*EngineResponse, error) {
	return invoke[EngineResponse](ctx, c.cc, daemonMethod("StartEngine"), in, opts...)
}

func (c *DaemonClient) Watch(ctx context.Context, in *WatchRequest, opts ...grpc.CallOption) (ClientStream[Event], error) {
	return openServerStream[Event](ctx, c.cc, &DaemonServiceDesc.Streams[0], daemonMethod("Watch"), in, opts...)
}

func (c *DaemonClient) StreamLogs(ctx context.Context, in *ServiceRef, opts ...grpc.CallOption) (ClientStream[LogLine], error) {
	return openServerStream[LogLine](ctx, c.cc, &DaemonServiceDesc.Streams[1], daemonMethod("StreamLogs"), in, opts...)
}
