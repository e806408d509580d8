package layerrpc

import (
	"context"

	"google.golang.org/grpc"
)

// serviceName is the fully-qualified name used to build method paths, kept
// stable so clients and servers built against different binaries still
// agree on the wire contract.
const serviceName = "fabrik.layerrpc.Layer"

// LayerServer is implemented by Server (internal/diskstore- or
// internal/composer-backed) to answer the inter-layer protocol.
type LayerServer interface {
	Exists(ctx context.Context, req *ExistsRequest) (*ExistsResponse, error)
	Info(ctx context.Context, req *InfoRequest) (*InfoResponse, error)
	Get(req *GetRequest, stream grpc.ServerStream) error
	Put(stream grpc.ServerStream) error
	Delete(ctx context.Context, req *DeleteRequest) (*DeleteResponse, error)
	GetStats(ctx context.Context, req *GetStatsRequest) (*StatsResponse, error)
	KVGet(ctx context.Context, req *KVGetRequest) (*KVGetResponse, error)
	KVPut(ctx context.Context, req *KVPutRequest) (*KVPutResponse, error)
	KVExists(ctx context.Context, req *KVExistsRequest) (*KVExistsResponse, error)
	KVDelete(ctx context.Context, req *KVDeleteRequest) (*KVDeleteResponse, error)
	KVList(req *KVListRequest, stream grpc.ServerStream) error
}

// RegisterLayerServer wires srv into s under the hand-built ServiceDesc
// below. There is no generated _grpc.pb.go because no protoc toolchain runs
// in this build; the ServiceDesc is ordinary data, which grpc-go has always
// supported constructing by hand.
func RegisterLayerServer(s *grpc.Server, srv LayerServer) {
	s.RegisterService(&serviceDesc, srv)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*LayerServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Exists", Handler: existsHandler},
		{MethodName: "Info", Handler: infoHandler},
		{MethodName: "Delete", Handler: deleteHandler},
		{MethodName: "GetStats", Handler: getStatsHandler},
		{MethodName: "KVGet", Handler: kvGetHandler},
		{MethodName: "KVPut", Handler: kvPutHandler},
		{MethodName: "KVExists", Handler: kvExistsHandler},
		{MethodName: "KVDelete", Handler: kvDeleteHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "Get", Handler: getStreamHandler, ServerStreams: true},
		{StreamName: "Put", Handler: putStreamHandler, ClientStreams: true},
		{StreamName: "KVList", Handler: kvListStreamHandler, ServerStreams: true},
	},
}

func existsHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	req := new(ExistsRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(LayerServer).Exists(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/Exists"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(LayerServer).Exists(ctx, req.(*ExistsRequest))
	}
	return interceptor(ctx, req, info, handler)
}

func infoHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	req := new(InfoRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(LayerServer).Info(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/Info"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(LayerServer).Info(ctx, req.(*InfoRequest))
	}
	return interceptor(ctx, req, info, handler)
}

func deleteHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	req := new(DeleteRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(LayerServer).Delete(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/Delete"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(LayerServer).Delete(ctx, req.(*DeleteRequest))
	}
	return interceptor(ctx, req, info, handler)
}

func getStatsHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	req := new(GetStatsRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(LayerServer).GetStats(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/GetStats"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(LayerServer).GetStats(ctx, req.(*GetStatsRequest))
	}
	return interceptor(ctx, req, info, handler)
}

func kvGetHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	req := new(KVGetRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(LayerServer).KVGet(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/KVGet"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(LayerServer).KVGet(ctx, req.(*KVGetRequest))
	}
	return interceptor(ctx, req, info, handler)
}

func kvPutHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	req := new(KVPutRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(LayerServer).KVPut(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/KVPut"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(LayerServer).KVPut(ctx, req.(*KVPutRequest))
	}
	return interceptor(ctx, req, info, handler)
}

func kvExistsHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	req := new(KVExistsRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(LayerServer).KVExists(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/KVExists"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(LayerServer).KVExists(ctx, req.(*KVExistsRequest))
	}
	return interceptor(ctx, req, info, handler)
}

func kvDeleteHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	req := new(KVDeleteRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(LayerServer).KVDelete(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/KVDelete"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(LayerServer).KVDelete(ctx, req.(*KVDeleteRequest))
	}
	return interceptor(ctx, req, info, handler)
}

func getStreamHandler(srv interface{}, stream grpc.ServerStream) error {
	req := new(GetRequest)
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	return srv.(LayerServer).Get(req, stream)
}

func putStreamHandler(srv interface{}, stream grpc.ServerStream) error {
	return srv.(LayerServer).Put(stream)
}

func kvListStreamHandler(srv interface{}, stream grpc.ServerStream) error {
	req := new(KVListRequest)
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	return srv.(LayerServer).KVList(req, stream)
}
