// Package health serves the standard gRPC health protocol for the risk
// service so orchestrators can check it without speaking HTTP. The service
// reports SERVING while engine mutations are accepted and NOT_SERVING while
// the comptroller module is paused or the server is draining.
package health

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the health service name reported alongside the overall ""
// entry.
const ServiceName = "stablerisk.comptroller.v1.Comptroller"

// PauseReporter is the slice of the comptroller service the health server
// watches.
type PauseReporter interface {
	ModulePaused() bool
}

// Server couples a gRPC server with the health service it exposes.
type Server struct {
	grpc   *grpc.Server
	health *grpchealth.Server
	source PauseReporter
	logger *slog.Logger

	mu      sync.Mutex
	current healthpb.HealthCheckResponse_ServingStatus
}

// New builds the gRPC server with tracing interceptors and registers the
// health service. Extra options, such as transport credentials, are appended.
func New(source PauseReporter, logger *slog.Logger, opts ...grpc.ServerOption) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	options := []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(otelgrpc.UnaryServerInterceptor()),
		grpc.ChainStreamInterceptor(otelgrpc.StreamServerInterceptor()),
	}
	options = append(options, opts...)
	srv := grpc.NewServer(options...)
	h := grpchealth.NewServer()
	healthpb.RegisterHealthServer(srv, h)
	s := &Server{
		grpc:    srv,
		health:  h,
		source:  source,
		logger:  logger.With(slog.String("component", "health")),
		current: healthpb.HealthCheckResponse_SERVICE_UNKNOWN,
	}
	s.Refresh()
	return s
}

// Refresh publishes the status derived from the module pause and returns it.
func (s *Server) Refresh() healthpb.HealthCheckResponse_ServingStatus {
	status := healthpb.HealthCheckResponse_SERVING
	if s.source == nil || s.source.ModulePaused() {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.mu.Lock()
	changed := status != s.current
	s.current = status
	s.mu.Unlock()
	if changed {
		s.health.SetServingStatus("", status)
		s.health.SetServingStatus(ServiceName, status)
		s.logger.Info("health status changed", slog.String("status", status.String()))
	}
	return status
}

// Watch refreshes the status every interval until ctx is done.
func (s *Server) Watch(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Refresh()
		}
	}
}

// Serve blocks serving gRPC on lis.
func (s *Server) Serve(lis net.Listener) error {
	return s.grpc.Serve(lis)
}

// Stop flips every status to NOT_SERVING so watchers drain, then stops
// gracefully. The server is stopped hard once ctx expires.
func (s *Server) Stop(ctx context.Context) {
	s.health.Shutdown()
	done := make(chan struct{})
	go func() {
		s.grpc.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn("forcing grpc stop")
		s.grpc.Stop()
	}
}
