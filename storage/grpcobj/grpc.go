package grpcobj

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const serviceName = "keycircle.storage.objects.v1.Objects"

// ObjectsServer is the server API for the Objects gRPC service.
//
// Requests and replies are protobuf well-known wrapper types so the package
// builds without a protoc toolchain:
//
//	Put(BytesValue{object DER}) -> StringValue{digest CID}
//	Get(StringValue{digest CID}) -> BytesValue{object DER}
//	Has(StringValue{digest CID}) -> BoolValue
type ObjectsServer interface {
	Put(context.Context, *wrapperspb.BytesValue) (*wrapperspb.StringValue, error)
	Get(context.Context, *wrapperspb.StringValue) (*wrapperspb.BytesValue, error)
	Has(context.Context, *wrapperspb.StringValue) (*wrapperspb.BoolValue, error)
}

// UnimplementedObjectsServer can be embedded to have forward compatible implementations.
type UnimplementedObjectsServer struct{}

func (UnimplementedObjectsServer) Put(context.Context, *wrapperspb.BytesValue) (*wrapperspb.StringValue, error) {
	return nil, status.Error(codes.Unimplemented, "method Put not implemented")
}
func (UnimplementedObjectsServer) Get(context.Context, *wrapperspb.StringValue) (*wrapperspb.BytesValue, error) {
	return nil, status.Error(codes.Unimplemented, "method Get not implemented")
}
func (UnimplementedObjectsServer) Has(context.Context, *wrapperspb.StringValue) (*wrapperspb.BoolValue, error) {
	return nil, status.Error(codes.Unimplemented, "method Has not implemented")
}

// RegisterObjectsServer registers the Objects service on a gRPC server.
func RegisterObjectsServer(s grpc.ServiceRegistrar, srv ObjectsServer) {
	s.RegisterService(&Objects_ServiceDesc, srv)
}

// ObjectsClient is the client API for the Objects gRPC service.
type ObjectsClient interface {
	Put(ctx context.Context, in *wrapperspb.BytesValue, opts ...grpc.CallOption) (*wrapperspb.StringValue, error)
	Get(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*wrapperspb.BytesValue, error)
	Has(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*wrapperspb.BoolValue, error)
}

type objectsClient struct{ cc grpc.ClientConnInterface }

func NewObjectsClient(cc grpc.ClientConnInterface) ObjectsClient { return &objectsClient{cc: cc} }

func (c *objectsClient) Put(ctx context.Context, in *wrapperspb.BytesValue, opts ...grpc.CallOption) (*wrapperspb.StringValue, error) {
	out := new(wrapperspb.StringValue)
	if err := c.cc.Invoke(ctx, "/"+serviceName+"/Put", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *objectsClient) Get(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*wrapperspb.BytesValue, error) {
	out := new(wrapperspb.BytesValue)
	if err := c.cc.Invoke(ctx, "/"+serviceName+"/Get", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *objectsClient) Has(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*wrapperspb.BoolValue, error) {
	out := new(wrapperspb.BoolValue)
	if err := c.cc.Invoke(ctx, "/"+serviceName+"/Has", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func _Objects_Put_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ObjectsServer).Put(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/Put"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ObjectsServer).Put(ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}

func _Objects_Get_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ObjectsServer).Get(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/Get"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ObjectsServer).Get(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

func _Objects_Has_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ObjectsServer).Has(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/Has"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ObjectsServer).Has(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

// Objects_ServiceDesc is the grpc.ServiceDesc for the Objects service.
var Objects_ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*ObjectsServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Put", Handler: _Objects_Put_Handler},
		{MethodName: "Get", Handler: _Objects_Get_Handler},
		{MethodName: "Has", Handler: _Objects_Has_Handler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "objects.proto",
}
