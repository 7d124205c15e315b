package server

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "intentgate.v1.IntentGate"

// IntentGateServer is the server API. Messages are google.protobuf.Struct
// so the raw intent payload can travel as an opaque string field.
type IntentGateServer interface {
	Authorize(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Validate(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Hash(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type unaryCall func(IntentGateServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unary(method string, call unaryCall) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(IntentGateServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + method}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(IntentGateServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// ServiceDesc describes IntentGate for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*IntentGateServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Authorize", Handler: unary("Authorize", IntentGateServer.Authorize)},
		{MethodName: "Validate", Handler: unary("Validate", IntentGateServer.Validate)},
		{MethodName: "Hash", Handler: unary("Hash", IntentGateServer.Hash)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "intentgate/v1/intentgate.proto",
}

// Client is a thin IntentGate client.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps an established connection.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func (c *Client) invoke(ctx context.Context, method string, req *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/"+method, req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Authorize(ctx context.Context, req *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, "Authorize", req, opts...)
}

func (c *Client) Validate(ctx context.Context, req *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, "Validate", req, opts...)
}

func (c *Client) Hash(ctx context.Context, req *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, "Hash", req, opts...)
}
