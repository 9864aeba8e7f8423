package observability

import (
	"context"
	"fmt"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// GRPCHealth exposes the standard grpc.health.v1 service so fleet tooling can
// check the terminal without speaking HTTP.
type GRPCHealth struct {
	server *grpc.Server
	health *health.Server
}

// NewGRPCHealth creates a health service that starts out NOT_SERVING
func NewGRPCHealth() *GRPCHealth {
	s := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(s, hs)
	hs.SetServingStatus(serviceName, healthpb.HealthCheckResponse_NOT_SERVING)

	return &GRPCHealth{server: s, health: hs}
}

// SetServing flips both the named service and the overall ("") status
func (g *GRPCHealth) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	g.health.SetServingStatus(serviceName, status)
	g.health.SetServingStatus("", status)
}

// Serve listens on addr until ctx is cancelled
func (g *GRPCHealth) Serve(ctx context.Context, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen for grpc health on %s: %w", addr, err)
	}
	return g.ServeListener(ctx, lis)
}

// ServeListener serves on an existing listener until ctx is cancelled
func (g *GRPCHealth) ServeListener(ctx context.Context, lis net.Listener) error {
	stop := context.AfterFunc(ctx, func() {
		g.health.Shutdown()
		g.server.GracefulStop()
	})
	defer stop()

	if err := g.server.Serve(lis); err != nil && err != grpc.ErrServerStopped {
		return err
	}
	return nil
}
