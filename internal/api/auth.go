package api

import (
	"context"

	"github.com/grpc-ecosystem/go-grpc-middleware/v2/interceptors/auth"
	"github.com/grpc-ecosystem/go-grpc-middleware/v2/metadata"
	"google.golang.org/grpc"
)

// UserIDHeader carries the caller's identity. Authentication happens in front of this service.
const UserIDHeader = "x-user-id"

type userIDKey struct{}

// UserID returns the identity attached to ctx by the interceptors, or "".
func UserID(ctx context.Context) string {
	id, _ := ctx.Value(userIDKey{}).(string)
	return id
}

// identify never rejects a call: players are anonymous, and host operations check UserID.
func identify(ctx context.Context) (context.Context, error) {
	id := metadata.ExtractIncoming(ctx).Get(UserIDHeader)
	if id == "" {
		return ctx, nil
	}

	return context.WithValue(ctx, userIDKey{}, id), nil
}

// IdentityInterceptors attach the caller's identity to unary and streaming calls.
func IdentityInterceptors() []grpc.ServerOption {
	return []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(auth.UnaryServerInterceptor(identify)),
		grpc.ChainStreamInterceptor(auth.StreamServerInterceptor(identify)),
	}
}
