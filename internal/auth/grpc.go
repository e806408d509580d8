package auth

import (
	"context"
	"strings"

	"google.golang.org/grpc/metadata"
)

// BearerTokenFromContext extracts the token from an incoming gRPC request's
// "authorization: Bearer <token>" metadata, as set by internal/layerrpc's
// client interceptor.
func BearerTokenFromContext(ctx context.Context) (string, bool) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return "", false
	}
	vals := md.Get("authorization")
	if len(vals) == 0 {
		return "", false
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(vals[0], prefix) {
		return "", false
	}
	return strings.TrimPrefix(vals[0], prefix), true
}

// WithBearerToken returns outgoing gRPC call metadata carrying token, for
// use by internal/layerrpc.Client.
func WithBearerToken(ctx context.Context, token string) context.Context {
	return metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+token)
}
