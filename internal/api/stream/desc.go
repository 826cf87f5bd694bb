package stream

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// Messages are google.protobuf.Struct values, so no generated code is
// needed on either side.
const (
	serviceName              = "openmatrix.v1.RouteService"
	getRoutesMethod          = "/" + serviceName + "/GetRoutes"
	streamRouteChangesMethod = "/" + serviceName + "/StreamRouteChanges"
)

// RouteServiceServer is the server API for RouteService.
type RouteServiceServer interface {
	// GetRoutes returns the last known routing of one device.
	GetRoutes(context.Context, *structpb.Struct) (*structpb.Struct, error)
	// StreamRouteChanges streams route and state events until the client
	// goes away.
	StreamRouteChanges(*structpb.Struct, grpc.ServerStreamingServer[structpb.Struct]) error
}

func RegisterRouteServiceServer(s grpc.ServiceRegistrar, srv RouteServiceServer) {
	s.RegisterService(&RouteService_ServiceDesc, srv)
}

func getRoutesHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(RouteServiceServer).GetRoutes(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: getRoutesMethod,
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(RouteServiceServer).GetRoutes(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func streamRouteChangesHandler(srv any, stream grpc.ServerStream) error {
	m := new(structpb.Struct)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(RouteServiceServer).StreamRouteChanges(m, &grpc.GenericServerStream[structpb.Struct, structpb.Struct]{ServerStream: stream})
}

var RouteService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*RouteServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "GetRoutes",
			Handler:    getRoutesHandler,
		},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "StreamRouteChanges",
			Handler:       streamRouteChangesHandler,
			ServerStreams: true,
		},
	},
	Metadata: "openmatrix/v1/route.proto",
}

// RouteClient calls RouteService.
type RouteClient struct {
	cc grpc.ClientConnInterface
}

func NewRouteClient(cc grpc.ClientConnInterface) *RouteClient {
	return &RouteClient{cc: cc}
}

func (c *RouteClient) GetRoutes(ctx context.Context, device string, opts ...grpc.CallOption) (*structpb.Struct, error) {
	in, err := structpb.NewStruct(map[string]any{"device": device})
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, getRoutesMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// StreamRouteChanges subscribes to events of device, or of all devices when
// device is empty. The first message received is of type "subscribed".
func (c *RouteClient) StreamRouteChanges(ctx context.Context, device string, opts ...grpc.CallOption) (grpc.ServerStreamingClient[structpb.Struct], error) {
	in, err := structpb.NewStruct(map[string]any{"device": device})
	if err != nil {
		return nil, err
	}
	stream, err := c.cc.NewStream(ctx, &RouteService_ServiceDesc.Streams[0], streamRouteChangesMethod, opts...)
	if err != nil {
		return nil, err
	}
	x := &grpc.GenericClientStream[structpb.Struct, structpb.Struct]{ClientStream: stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}
