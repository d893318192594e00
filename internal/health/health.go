// Package health serves the gRPC health protocol with one service per video
// source.
package health

import (
	"context"
	"net"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"

	"github.com/GriffinCanCode/tetris-recorder/internal/trace"
)

// Server reports SERVING for a source while its pipeline runs. The overall
// service ("") is SERVING while any source runs.
type Server struct {
	grpc   *grpc.Server
	health *health.Server

	mu      sync.Mutex
	running map[string]bool
}

// New creates a health server with the given sources registered as
// NOT_SERVING.
func New(sources ...string) *Server {
	g := grpc.NewServer(
		grpc.ChainUnaryInterceptor(trace.UnaryServerInterceptor()),
		grpc.ChainStreamInterceptor(trace.StreamServerInterceptor()),
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    KeepaliveTime,
			Timeout: KeepaliveTimeout,
		}),
	)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(g, hs)

	s := &Server{grpc: g, health: hs, running: make(map[string]bool, len(sources))}
	for _, name := range sources {
		s.running[name] = false
		hs.SetServingStatus(name, healthpb.HealthCheckResponse_NOT_SERVING)
	}
	hs.SetServingStatus(OverallService, healthpb.HealthCheckResponse_NOT_SERVING)
	return s
}

// SetRunning updates the status of source and the overall status.
func (s *Server) SetRunning(source string, running bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.running[source] = running
	s.health.SetServingStatus(source, servingStatus(running))

	up := false
	for _, r := range s.running {
		up = up || r
	}
	s.health.SetServingStatus(OverallService, servingStatus(up))
}

func servingStatus(ok bool) healthpb.HealthCheckResponse_ServingStatus {
	if ok {
		return healthpb.HealthCheckResponse_SERVING
	}
	return healthpb.HealthCheckResponse_NOT_SERVING
}

// Serve accepts connections on lis until Shutdown.
func (s *Server) Serve(lis net.Listener) error {
	return s.grpc.Serve(lis)
}

// ListenAndServe listens on addr and serves until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	go func() {
		<-ctx.Done()
		s.Shutdown()
	}()
	trace.Logger(ctx).Info("health server listening", "addr", addr)
	return s.Serve(lis)
}

// Shutdown marks every service NOT_SERVING and stops gracefully.
func (s *Server) Shutdown() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}
