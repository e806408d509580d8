package bazel

import (
	"context"

	"google.golang.org/grpc"
)

const (
	casServiceName          = "build.bazel.remote.execution.v2.ContentAddressableStorage"
	actionCacheServiceName  = "build.bazel.remote.execution.v2.ActionCache"
	capabilitiesServiceName = "build.bazel.remote.execution.v2.Capabilities"
)

// CASServer is the subset of REAPI's ContentAddressableStorage this adapter
// implements.
type CASServer interface {
	FindMissingBlobs(ctx context.Context, req *FindMissingBlobsRequest) (*FindMissingBlobsResponse, error)
	BatchUpdateBlobs(ctx context.Context, req *BatchUpdateBlobsRequest) (*BatchUpdateBlobsResponse, error)
	BatchReadBlobs(ctx context.Context, req *BatchReadBlobsRequest) (*BatchReadBlobsResponse, error)
	GetTree(ctx context.Context, req *GetTreeRequest) (*GetTreeResponse, error)
}

// ActionCacheServer is REAPI's ActionCache, mapped onto the KV namespace.
type ActionCacheServer interface {
	GetActionResult(ctx context.Context, req *GetActionResultRequest) (*ActionResult, error)
	UpdateActionResult(ctx context.Context, req *UpdateActionResultRequest) (*ActionResult, error)
}

// CapabilitiesServer answers REAPI's capability negotiation RPC.
type CapabilitiesServer interface {
	GetCapabilities(ctx context.Context, req *GetCapabilitiesRequest) (*ServerCapabilities, error)
}

// Server is implemented by the adapter's backend: all three REAPI service
// surfaces this front end exposes.
type Server interface {
	CASServer
	ActionCacheServer
	CapabilitiesServer
}

// RegisterServices wires srv's three REAPI service surfaces into s under
// hand-built ServiceDescs, the same codegen-free pattern internal/layerrpc
// and internal/peer use.
func RegisterServices(s *grpc.Server, srv Server) {
	s.RegisterService(&casServiceDesc, srv)
	s.RegisterService(&actionCacheServiceDesc, srv)
	s.RegisterService(&capabilitiesServiceDesc, srv)
}

var casServiceDesc = grpc.ServiceDesc{
	ServiceName: casServiceName,
	HandlerType: (*CASServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "FindMissingBlobs", Handler: findMissingBlobsHandler},
		{MethodName: "BatchUpdateBlobs", Handler: batchUpdateBlobsHandler},
		{MethodName: "BatchReadBlobs", Handler: batchReadBlobsHandler},
		{MethodName: "GetTree", Handler: getTreeHandler},
	},
}

var actionCacheServiceDesc = grpc.ServiceDesc{
	ServiceName: actionCacheServiceName,
	HandlerType: (*ActionCacheServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetActionResult", Handler: getActionResultHandler},
		{MethodName: "UpdateActionResult", Handler: updateActionResultHandler},
	},
}

var capabilitiesServiceDesc = grpc.ServiceDesc{
	ServiceName: capabilitiesServiceName,
	HandlerType: (*CapabilitiesServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetCapabilities", Handler: getCapabilitiesHandler},
	},
}

func findMissingBlobsHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	req := new(FindMissingBlobsRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(Server).FindMissingBlobs(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + casServiceName + "/FindMissingBlobs"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(Server).FindMissingBlobs(ctx, req.(*FindMissingBlobsRequest))
	}
	return interceptor(ctx, req, info, handler)
}

func batchUpdateBlobsHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	req := new(BatchUpdateBlobsRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(Server).BatchUpdateBlobs(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + casServiceName + "/BatchUpdateBlobs"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(Server).BatchUpdateBlobs(ctx, req.(*BatchUpdateBlobsRequest))
	}
	return interceptor(ctx, req, info, handler)
}

func batchReadBlobsHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	req := new(BatchReadBlobsRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(Server).BatchReadBlobs(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + casServiceName + "/BatchReadBlobs"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(Server).BatchReadBlobs(ctx, req.(*BatchReadBlobsRequest))
	}
	return interceptor(ctx, req, info, handler)
}

func getTreeHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	req := new(GetTreeRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(Server).GetTree(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + casServiceName + "/GetTree"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(Server).GetTree(ctx, req.(*GetTreeRequest))
	}
	return interceptor(ctx, req, info, handler)
}

func getActionResultHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	req := new(GetActionResultRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(Server).GetActionResult(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + actionCacheServiceName + "/GetActionResult"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(Server).GetActionResult(ctx, req.(*GetActionResultRequest))
	}
	return interceptor(ctx, req, info, handler)
}

func updateActionResultHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	req := new(UpdateActionResultRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(Server).UpdateActionResult(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + actionCacheServiceName + "/UpdateActionResult"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(Server).UpdateActionResult(ctx, req.(*UpdateActionResultRequest))
	}
	return interceptor(ctx, req, info, handler)
}

func getCapabilitiesHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	req := new(GetCapabilitiesRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(Server).GetCapabilities(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + capabilitiesServiceName + "/GetCapabilities"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(Server).GetCapabilities(ctx, req.(*GetCapabilitiesRequest))
	}
	return interceptor(ctx, req, info, handler)
}
