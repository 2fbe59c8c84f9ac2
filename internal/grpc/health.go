package grpc

import (
	"context"
	"net"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	grpclib "google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"roomchat/internal/observability"
)

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// HealthServer serves grpc.health.v1 and tracks storage reachability.
type HealthServer struct {
	server  *grpclib.Server
	health  *health.Server
	service string
	db      Pinger
	log     zerolog.Logger
}

// NewHealthServer builds the gRPC server with tracing and metrics interceptors.
func NewHealthServer(service string, db Pinger, logger zerolog.Logger) *HealthServer {
	srv := grpclib.NewServer(
		grpclib.StatsHandler(otelgrpc.NewServerHandler()),
		grpclib.UnaryInterceptor(observability.GRPCServerMetricsUnaryInterceptor()),
	)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)

	return &HealthServer{
		server:  srv,
		health:  hs,
		service: service,
		db:      db,
		log:     logger.With().Str("component", "grpc").Logger(),
	}
}

// Check pings storage and updates the serving status.
func (h *HealthServer) Check(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	status := healthpb.HealthCheckResponse_SERVING
	if err := h.db.PingContext(ctx); err != nil {
		h.log.Warn().Err(err).Msg("storage unreachable")
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	h.health.SetServingStatus("", status)
	h.health.SetServingStatus(h.service, status)
	return status == healthpb.HealthCheckResponse_SERVING
}

// Watch re-checks health every interval until ctx ends.
func (h *HealthServer) Watch(ctx context.Context, interval time.Duration) {
	h.Check(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.Check(ctx)
		}
	}
}

// Serve blocks serving on lis.
func (h *HealthServer) Serve(lis net.Listener) error {
	h.log.Info().Str("addr", lis.Addr().String()).Msg("grpc listening")
	return h.server.Serve(lis)
}

// Stop marks the service as not serving and stops the server gracefully.
func (h *HealthServer) Stop() {
	h.health.Shutdown()
	h.server.GracefulStop()
}
