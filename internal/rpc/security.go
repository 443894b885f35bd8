package rpc

import (
	"context"
	"crypto/subtle"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"wordle/server/internal/logging"
)

// SharedSecretMetadataKey carries the control plane secret.
const SharedSecretMetadataKey = "x-wordle-shared-secret"

// ServerOptions returns the interceptors enforcing secret. An empty secret
// leaves the control plane open.
func ServerOptions(secret string, logger *logging.Logger) []grpc.ServerOption {
	if logger == nil {
		logger = logging.L()
	}
	if strings.TrimSpace(secret) == "" {
		logger.Warn("gRPC control plane running without authentication")
		return nil
	}
	logger.Info("gRPC shared-secret authentication enabled")
	return []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(NewSharedSecretUnaryInterceptor(secret)),
		grpc.ChainStreamInterceptor(NewSharedSecretStreamInterceptor(secret)),
	}
}

// NewSharedSecretUnaryInterceptor rejects unary calls without the secret.
func NewSharedSecretUnaryInterceptor(secret string) grpc.UnaryServerInterceptor {
	normalized := strings.TrimSpace(secret)
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if err := checkSharedSecret(ctx, normalized); err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

// NewSharedSecretStreamInterceptor rejects streams without the secret.
func NewSharedSecretStreamInterceptor(secret string) grpc.StreamServerInterceptor {
	normalized := strings.TrimSpace(secret)
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		if err := checkSharedSecret(ss.Context(), normalized); err != nil {
			return err
		}
		return handler(srv, ss)
	}
}

func checkSharedSecret(ctx context.Context, secret string) error {
	if secret == "" {
		return status.Error(codes.Unauthenticated, "shared secret not configured")
	}
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return status.Error(codes.Unauthenticated, "missing metadata")
	}
	candidate := extractSharedSecret(md)
	if candidate == "" {
		return status.Error(codes.Unauthenticated, "missing shared secret")
	}
	if subtle.ConstantTimeCompare([]byte(candidate), []byte(secret)) != 1 {
		return status.Error(codes.Unauthenticated, "invalid shared secret")
	}
	return nil
}

func extractSharedSecret(md metadata.MD) string {
	if md == nil {
		return ""
	}
	for _, value := range md.Get(SharedSecretMetadataKey) {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	for _, value := range md.Get("authorization") {
		if strings.HasPrefix(strings.ToLower(value), "bearer ") {
			if token := strings.TrimSpace(value[7:]); token != "" {
				return token
			}
		}
	}
	return ""
}

// WithSharedSecret attaches secret to every outgoing call of a client.
func WithSharedSecret(secret string) grpc.DialOption {
	secret = strings.TrimSpace(secret)
	return grpc.WithChainUnaryInterceptor(func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		return invoker(withSecret(ctx, secret), method, req, reply, cc, opts...)
	})
}

// WithSharedSecretStream is the streaming counterpart of WithSharedSecret.
func WithSharedSecretStream(secret string) grpc.DialOption {
	secret = strings.TrimSpace(secret)
	return grpc.WithChainStreamInterceptor(func(ctx context.Context, desc *grpc.StreamDesc, cc *grpc.ClientConn, method string, streamer grpc.Streamer, opts ...grpc.CallOption) (grpc.ClientStream, error) {
		return streamer(withSecret(ctx, secret), desc, cc, method, opts...)
	})
}

func withSecret(ctx context.Context, secret string) context.Context {
	if secret == "" {
		return ctx
	}
	return metadata.AppendToOutgoingContext(ctx, SharedSecretMetadataKey, secret)
}
