package api

import (
	"context"
	"time"

	"google.golang.org/grpc"

	"undocked"
)

const GossipServiceName = "undocked.v1.Gossip"

// GossipReport is what a node advertises about itself on each exchange.
type GossipReport struct {
	ID       string             `json:"id"`
	Addr     string             `json:"addr,omitempty"`
	Services []undocked.Service `json:"services"`
	SentAt   time.Time          `json:"sentAt"`
}

type GossipServer interface {
	Exchange(context.Context, *GossipReport) (*GossipReport, error)
}

var GossipServiceDesc = grpc.ServiceDesc{
	ServiceName: GossipServiceName,
	HandlerType: (*GossipServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryMethod(GossipServiceName, "Exchange", func(srv any, ctx context.Context, in *GossipReport) (*GossipReport, error) {
			return srv.(GossipServer).Exchange(ctx, in)
		}),
	},
	Metadata: "undocked/v1/gossip",
}

type GossipClient struct {
	cc grpc.ClientConnInterface
}

func NewGossipClient(cc grpc.ClientConnInterface) *GossipClient {
	return &GossipClient{cc: cc}
}

func (c *GossipClient) Exchange(ctx context.Context, in *GossipReport, opts ...grpc.CallOption) (*GossipReport, error) {
	return invoke[GossipReport](ctx, c.cc, "/"+GossipServiceName+"/Exchange", in, opts...)
}
