// Package trace - gRPC interceptors for trace propagation.
package trace

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// UnaryServerInterceptor extracts trace context from incoming metadata and
// logs each call with its outcome.
func UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		ctx = extractMetadata(ctx)
		start := time.Now()
		resp, err := handler(ctx, req)
		Logger(ctx).Debug("grpc call",
			"method", info.FullMethod,
			"code", status.Code(err).String(),
			"duration", time.Since(start))
		return resp, err
	}
}

// StreamServerInterceptor extracts trace context for streaming calls.
func StreamServerInterceptor() grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		ctx := extractMetadata(ss.Context())
		Logger(ctx).Debug("grpc stream opened", "method", info.FullMethod)
		return handler(srv, &tracedStream{ServerStream: ss, ctx: ctx})
	}
}

type tracedStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *tracedStream) Context() context.Context { return s.ctx }

// extractMetadata builds a trace context from incoming gRPC metadata.
func extractMetadata(ctx context.Context) context.Context {
	m := make(map[string]string, 3)
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		for _, k := range []string{TraceIDKey, SpanIDKey, ParentSpanIDKey} {
			if v := md.Get(k); len(v) > 0 {
				m[k] = v[0]
			}
		}
	}
	return WithContext(ctx, FromMap(m))
}
