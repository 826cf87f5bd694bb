package stream

import (
	"context"
	"slices"
	"strings"

	"github.com/KevinKickass/OpenMatrixCore/internal/auth"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// authorize checks the bearer token in the "authorization" metadata and
// requires view permission.
func authorize(ctx context.Context, authService *auth.AuthService) error {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return status.Error(codes.Unauthenticated, "missing metadata")
	}
	values := md.Get("authorization")
	if len(values) == 0 {
		return status.Error(codes.Unauthenticated, "missing authorization")
	}

	token, found := strings.CutPrefix(values[0], "Bearer ")
	if !found {
		return status.Error(codes.Unauthenticated, "malformed authorization")
	}

	_, permissions, err := authService.ValidateToken(token)
	if err != nil {
		return status.Error(codes.Unauthenticated, "invalid or expired token")
	}
	if !slices.Contains(permissions, auth.PermView) {
		return status.Error(codes.PermissionDenied, "insufficient permissions")
	}
	return nil
}

// UnaryAuthInterceptor rejects unauthenticated unary calls.
func UnaryAuthInterceptor(authService *auth.AuthService) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if err := authorize(ctx, authService); err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

// StreamAuthInterceptor rejects unauthenticated streams.
func StreamAuthInterceptor(authService *auth.AuthService) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		if err := authorize(ss.Context(), authService); err != nil {
			return err
		}
		return handler(srv, ss)
	}
}

// NewServer builds a gRPC server with RouteService and token checks.
func NewServer(service *RouteService, authService *auth.AuthService) *grpc.Server {
	srv := grpc.NewServer(
		grpc.UnaryInterceptor(UnaryAuthInterceptor(authService)),
		grpc.StreamInterceptor(StreamAuthInterceptor(authService)),
	)
	RegisterRouteServiceServer(srv, service)
	return srv
}
