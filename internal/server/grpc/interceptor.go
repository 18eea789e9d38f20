package grpc

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/dmitrijs2005/metta/internal/common"
	"github.com/dmitrijs2005/metta/internal/server/auth"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

func (s *GRPCServer) loggingInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)

	s.logger.Debug(ctx, "rpc completed",
		"method", info.FullMethod,
		"code", status.Code(err).String(),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return resp, err
}

// accessTokenInterceptor resolves an optional bearer token. Calls without
// one pass through anonymously; a bad token is rejected.
func (s *GRPCServer) accessTokenInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	var accessToken string
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if values := md.Get("authorization"); len(values) > 0 {
			accessToken = strings.TrimSpace(values[0])
			if len(accessToken) > 7 && strings.EqualFold(accessToken[:7], "bearer ") {
				accessToken = strings.TrimSpace(accessToken[7:])
			}
		}
	}
	if accessToken == "" {
		return handler(ctx, req)
	}

	identity, err := s.ids.Identify(ctx, accessToken)
	if err != nil {
		if errors.Is(err, common.ErrorUnauthorized) {
			return nil, status.Error(codes.Unauthenticated, "invalid access token")
		}
		return nil, status.Error(codes.Internal, "internal error")
	}

	return handler(auth.WithIdentity(ctx, identity), req)
}
