package transport

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the gRPC service the Tester is registered under. Messages
// are google.protobuf.Struct:
//
//	Prettify  {xml}                     -> {xml}
//	Transform {xml, xslt, params{...}}  -> {output, diagnostics, failed}
const ServiceName = "xslttester.v1.Tester"

const (
	prettifyMethod  = "/" + ServiceName + "/Prettify"
	transformMethod = "/" + ServiceName + "/Transform"
)

// TesterServer is the server API for the Tester service.
type TesterServer interface {
	Prettify(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Transform(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

func RegisterTesterServer(s grpc.ServiceRegistrar, srv TesterServer) {
	s.RegisterService(&TesterServiceDesc, srv)
}

func prettifyHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(TesterServer).Prettify(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: prettifyMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(TesterServer).Prettify(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func transformHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(TesterServer).Transform(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: transformMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(TesterServer).Transform(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

var TesterServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*TesterServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Prettify", Handler: prettifyHandler},
		{MethodName: "Transform", Handler: transformHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "xslttester/v1/tester.proto",
}
