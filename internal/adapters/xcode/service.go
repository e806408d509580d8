package xcode

import (
	"context"

	"google.golang.org/grpc"
)

const (
	casServiceName = "fabrik.xcode.CAS"
	kvServiceName  = "fabrik.xcode.KV"
)

// CASServer is the Xcode content-addressable storage surface.
type CASServer interface {
	Exists(ctx context.Context, req *ExistsRequest) (*ExistsResponse, error)
	Get(req *GetRequest, stream grpc.ServerStream) error
	Put(stream grpc.ServerStream) error
}

// KVServer is the Xcode key/value surface.
type KVServer interface {
	KVGet(ctx context.Context, req *KVGetRequest) (*KVGetResponse, error)
	KVPut(ctx context.Context, req *KVPutRequest) (*KVPutResponse, error)
	KVExists(ctx context.Context, req *KVExistsRequest) (*KVExistsResponse, error)
}

// Server is implemented by the adapter's backend: both Xcode service
// surfaces.
type Server interface {
	CASServer
	KVServer
}

// RegisterServices wires srv's CAS and KV surfaces into s.
func RegisterServices(s *grpc.Server, srv Server) {
	s.RegisterService(&casServiceDesc, srv)
	s.RegisterService(&kvServiceDesc, srv)
}

var casServiceDesc = grpc.ServiceDesc{
	ServiceName: casServiceName,
	HandlerType: (*CASServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Exists", Handler: existsHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "Get", Handler: getStreamHandler, ServerStreams: true},
		{StreamName: "Put", Handler: putStreamHandler, ClientStreams: true},
	},
}

var kvServiceDesc = grpc.ServiceDesc{
	ServiceName: kvServiceName,
	HandlerType: (*KVServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "KVGet", Handler: kvGetHandler},
		{MethodName: "KVPut", Handler: kvPutHandler},
		{MethodName: "KVExists", Handler: kvExistsHandler},
	},
}

func existsHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	req := new(ExistsRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(Server).Exists(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + casServiceName + "/Exists"}
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

func putStreamHandler(srv interface{}, stream grpc.ServerStream) error {
	return srv.(Server).Put(stream)
}

func kvGetHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	req := new(KVGetRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(Server).KVGet(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + kvServiceName + "/KVGet"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(Server).KVGet(ctx, req.(*KVGetRequest))
	}
	return interceptor(ctx, req, info, handler)
}

func kvPutHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	req := new(KVPutRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(Server).KVPut(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + kvServiceName + "/KVPut"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(Server).KVPut(ctx, req.(*KVPutRequest))
	}
	return interceptor(ctx, req, info, handler)
}

func kvExistsHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	req := new(KVExistsRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(Server).KVExists(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + kvServiceName + "/KVExists"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(Server).KVExists(ctx, req.(*KVExistsRequest))
	}
	return interceptor(ctx, req, info, handler)
}
