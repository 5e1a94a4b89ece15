// Package v1 describes the OwnershipStore gRPC service remote contexts use
// to reach a shared store. Messages are google.protobuf.Struct values; the
// helpers in messages.go build and read them.
package v1

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	OwnershipStore_Get_FullMethodName    = "/tabsession.v1.OwnershipStore/Get"
	OwnershipStore_Set_FullMethodName    = "/tabsession.v1.OwnershipStore/Set"
	OwnershipStore_Remove_FullMethodName = "/tabsession.v1.OwnershipStore/Remove"
	OwnershipStore_Watch_FullMethodName  = "/tabsession.v1.OwnershipStore/Watch"
)

// OwnershipStoreClient is the client API for the OwnershipStore service.
type OwnershipStoreClient interface {
	Get(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	Set(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*emptypb.Empty, error)
	Remove(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*emptypb.Empty, error)
	Watch(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (OwnershipStore_WatchClient, error)
}

type ownershipStoreClient struct {
	cc grpc.ClientConnInterface
}

func NewOwnershipStoreClient(cc grpc.ClientConnInterface) OwnershipStoreClient {
	return &ownershipStoreClient{cc}
}

func (c *ownershipStoreClient) Get(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, OwnershipStore_Get_FullMethodName, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *ownershipStoreClient) Set(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*emptypb.Empty, error) {
	out := new(emptypb.Empty)
	if err := c.cc.Invoke(ctx, OwnershipStore_Set_FullMethodName, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *ownershipStoreClient) Remove(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*emptypb.Empty, error) {
	out := new(emptypb.Empty)
	if err := c.cc.Invoke(ctx, OwnershipStore_Remove_FullMethodName, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *ownershipStoreClient) Watch(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (OwnershipStore_WatchClient, error) {
	stream, err := c.cc.NewStream(ctx, &OwnershipStore_ServiceDesc.Streams[0], OwnershipStore_Watch_FullMethodName, opts...)
	if err != nil {
		return nil, err
	}
	x := &ownershipStoreWatchClient{stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}

type OwnershipStore_WatchClient interface {
	Recv() (*structpb.Struct, error)
	grpc.ClientStream
}

type ownershipStoreWatchClient struct {
	grpc.ClientStream
}

func (x *ownershipStoreWatchClient) Recv() (*structpb.Struct, error) {
	m := new(structpb.Struct)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

// OwnershipStoreServer is the server API for the OwnershipStore service.
type OwnershipStoreServer interface {
	Get(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Set(context.Context, *structpb.Struct) (*emptypb.Empty, error)
	Remove(context.Context, *structpb.Struct) (*emptypb.Empty, error)
	Watch(*structpb.Struct, OwnershipStore_WatchServer) error
}

func RegisterOwnershipStoreServer(s grpc.ServiceRegistrar, srv OwnershipStoreServer) {
	s.RegisterService(&OwnershipStore_ServiceDesc, srv)
}

func _OwnershipStore_Get_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(OwnershipStoreServer).Get(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: OwnershipStore_Get_FullMethodName,
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(OwnershipStoreServer).Get(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func _OwnershipStore_Set_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(OwnershipStoreServer).Set(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: OwnershipStore_Set_FullMethodName,
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(OwnershipStoreServer).Set(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func _OwnershipStore_Remove_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(OwnershipStoreServer).Remove(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: OwnershipStore_Remove_FullMethodName,
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(OwnershipStoreServer).Remove(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func _OwnershipStore_Watch_Handler(srv any, stream grpc.ServerStream) error {
	m := new(structpb.Struct)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(OwnershipStoreServer).Watch(m, &ownershipStoreWatchServer{stream})
}

type OwnershipStore_WatchServer interface {
	Send(*structpb.Struct) error
	grpc.ServerStream
}

type ownershipStoreWatchServer struct {
	grpc.ServerStream
}

func (x *ownershipStoreWatchServer) Send(m *structpb.Struct) error {
	return x.ServerStream.SendMsg(m)
}

// OwnershipStore_ServiceDesc is the grpc.ServiceDesc for the OwnershipStore service.
var OwnershipStore_ServiceDesc = grpc.ServiceDesc{
	ServiceName: "tabsession.v1.OwnershipStore",
	HandlerType: (*OwnershipStoreServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Get",
			Handler:    _OwnershipStore_Get_Handler,
		},
		{
			MethodName: "Set",
			Handler:    _OwnershipStore_Set_Handler,
		},
		{
			MethodName: "Remove",
			Handler:    _OwnershipStore_Remove_Handler,
		},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Watch",
			Handler:       _OwnershipStore_Watch_Handler,
			ServerStreams: true,
		},
	},
	Metadata: "tabsession/v1/store.proto",
}
