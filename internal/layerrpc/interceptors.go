package layerrpc

import (
	"context"
	"errors"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/tuist/fabrik/internal/auth"
)

// writeMethods names the RPCs whose claims must authorize writes, checked
// in addition to plain authentication.
var writeMethods = map[string]bool{
	"/" + serviceName + "/Put":      true,
	"/" + serviceName + "/Delete":   true,
	"/" + serviceName + "/KVPut":    true,
	"/" + serviceName + "/KVDelete": true,
}

// AuthUnaryInterceptor validates the bearer token on every unary call
// through v, mapping auth.ErrUnauthenticated/ErrForbidden to the matching
// gRPC status codes at this single outermost edge, per the error-handling
// design's "adapters map sentinel -> protocol-native status only here" rule.
func AuthUnaryInterceptor(v auth.Validator) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		newCtx, err := authorize(ctx, v, info.FullMethod)
		if err != nil {
			return nil, err
		}
		return handler(newCtx, req)
	}
}

// AuthStreamInterceptor is AuthUnaryInterceptor's streaming counterpart.
func AuthStreamInterceptor(v auth.Validator) grpc.StreamServerInterceptor {
	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		ctx, err := authorize(ss.Context(), v, info.FullMethod)
		if err != nil {
			return err
		}
		return handler(srv, &wrappedStream{ServerStream: ss, ctx: ctx})
	}
}

func authorize(ctx context.Context, v auth.Validator, fullMethod string) (context.Context, error) {
	token, _ := auth.BearerTokenFromContext(ctx)
	claims, err := v.Validate(ctx, token)
	if err != nil {
		if errors.Is(err, auth.ErrUnauthenticated) {
			return nil, status.Error(codes.Unauthenticated, err.Error())
		}
		return nil, status.Error(codes.Internal, err.Error())
	}
	if writeMethods[fullMethod] {
		if err := auth.RequireWrite(claims); err != nil {
			return nil, status.Error(codes.PermissionDenied, err.Error())
		}
	}
	return ctx, nil
}

type wrappedStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (w *wrappedStream) Context() context.Context { return w.ctx }
