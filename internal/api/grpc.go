package api

import (
	"context"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// Health serves the standard gRPC health service. The overall status is
// NOT_SERVING until SetReady(true).
type Health struct {
	server *grpc.Server
	health *health.Server
	log    *zap.Logger
}

func NewHealth(log *zap.Logger) *Health {
	if log == nil {
		log = zap.NewNop()
	}
	gs := grpc.NewServer()
	hs := health.NewServer()
	hs.SetServingStatus("", grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	grpc_health_v1.RegisterHealthServer(gs, hs)
	reflection.Register(gs)
	return &Health{server: gs, health: hs, log: log.Named("grpc")}
}

// SetReady flips the overall serving status.
func (h *Health) SetReady(ready bool) {
	status := grpc_health_v1.HealthCheckResponse_NOT_SERVING
	if ready {
		status = grpc_health_v1.HealthCheckResponse_SERVING
	}
	h.health.SetServingStatus("", status)
}

// Track polls ready and mirrors it into the health status until ctx ends.
func (h *Health) Track(ctx context.Context, ready func() bool, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	last := false
	for {
		if now := ready(); now != last {
			h.SetReady(now)
			h.log.Info("serving status changed", zap.Bool("ready", now))
			last = now
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// ListenAndServe binds addr and serves until ctx is cancelled.
func (h *Health) ListenAndServe(ctx context.Context, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen gRPC: %w", err)
	}
	return h.Serve(ctx, lis)
}

// Serve serves on lis until ctx is cancelled, then drains in-flight RPCs.
func (h *Health) Serve(ctx context.Context, lis net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		h.log.Info("gRPC health listening", zap.String("addr", lis.Addr().String()))
		errCh <- h.server.Serve(lis)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("grpc serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	h.health.Shutdown()
	h.server.GracefulStop()
	return nil
}
