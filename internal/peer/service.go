package peer

import (
	"context"

	"google.golang.org/grpc"
)

const serviceName = "fabrik.peer.Peer"

// Server is implemented by the handler backing the peer protocol's three
// RPCs (the "subset of C5" the LAN layer exposes).
type Server interface {
	Hello(ctx context.Context, req *HelloRequest) (*HelloResponse, error)
	Exists(ctx context.Context, req *ExistsRequest) (*ExistsResponse, error)
	Get(req *GetRequest, stream grpc.ServerStream) error
}

// RegisterPeerServer wires srv into s under a hand-built ServiceDesc, the
// same codegen-free pattern internal/layerrpc uses.
func RegisterPeerServer(s *grpc.Server, srv Server) {
	s.RegisterService(&serviceDesc, srv)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*Server)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Hello", Handler: helloHandler},
		{MethodName: "Exists", Handler: existsHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "Get", Handler: getStreamHandler, ServerStreams: true},
	},
}

func helloHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	req := new(HelloRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(Server).Hello(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/Hello"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(Server).Hello(ctx, req.(*HelloRequest))
	}
	return interceptor(ctx, req, info, handler)
}

func existsHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	req := new(ExistsRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(Server).Exists(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/Exists"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(Server).Exists(ctx, req.(*ExistsRequest))
	}
	return interceptor(ctx, req, info, handler)
}

func getStreamHandler(srv interface{}, stream grpc.ServerStream) error {
	req := new(GetRequest)
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	return srv.(Server).Get(req, stream)
}
