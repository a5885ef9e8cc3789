package api

import (
	"context"

	"google.golang.org/grpc"
)

func unaryMethod[Req, Resp any](service, name string, call func(srv any, ctx context.Context, req *Req) (*Resp, error)) grpc.MethodDesc {
	fullMethod := "/" + service + "/" + name
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv, ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(srv, ctx, req.(*Req))
			})
		},
	}
}

// ServerStream is the send side of a server-streaming RPC.
type ServerStream[T any] interface {
	Send(*T) error
	Context() context.Context
}

type serverStream[T any] struct {
	grpc.ServerStream
}

func (s *serverStream[T]) Send(m *T) error { return s.ServerStream.SendMsg(m) }

func serverStreamDesc[Req, Resp any](name string, call func(srv any, req *Req, stream ServerStream[Resp]) error) grpc.StreamDesc {
	return grpc.StreamDesc{
		StreamName:    name,
		ServerStreams: true,
		Handler: func(srv any, stream grpc.ServerStream) error {
			in := new(Req)
			if err := stream.RecvMsg(in); err != nil {
				return err
			}
			return call(srv, in, &serverStream[Resp]{stream})
		},
	}
}

// ClientStream is the receive side of a server-streaming RPC.
type ClientStream[T any] interface {
	Recv() (*T, error)
}

type clientStream[T any] struct {
	grpc.ClientStream
}

func (s *clientStream[T]) Recv() (*T, error) {
	m := new(T)
	if err := s.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func invoke[Resp any](ctx context.Context, cc grpc.ClientConnInterface, method string, in any, opts ...grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	if err := cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func openServerStream[Resp any](ctx context.Context, cc grpc.ClientConnInterface, desc *grpc.StreamDesc, method string, in any, opts ...grpc.CallOption) (ClientStream[Resp], error) {
	stream, err := cc.NewStream(ctx, desc, method, opts...)
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return &clientStream[Resp]{stream}, nil
}
