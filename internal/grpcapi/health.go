// Package grpcapi exposes the standard gRPC health service so supervisors
// and load balancers can probe the gate without speaking its HTTP API.
package grpcapi

import (
	"context"
	"errors"
	"log/slog"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceReplication reports whether the last replication cycle reached
// the remote store. The gate keeps serving while it is NOT_SERVING.
const ServiceReplication = "citadel.replication"

type HealthServer struct {
	logger *slog.Logger
	health *health.Server
	grpc   *grpc.Server
}

func NewHealthServer(logger *slog.Logger) *HealthServer {
	if logger == nil {
		logger = slog.Default()
	}
	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	hs.SetServingStatus(ServiceReplication, healthpb.HealthCheckResponse_UNKNOWN)

	srv := grpc.NewServer()
	healthpb.RegisterHealthServer(srv, hs)

	return &HealthServer{
		logger: logger.With("component", "grpcapi"),
		health: hs,
		grpc:   srv,
	}
}

// SetServing flips the overall status. The gate is serving once its
// session controller runs.
func (h *HealthServer) SetServing(up bool) {
	h.health.SetServingStatus("", status(up))
}

// SetRemote records the reachability seen by the replication worker.
func (h *HealthServer) SetRemote(up bool) {
	h.health.SetServingStatus(ServiceReplication, status(up))
}

// ListenAndServe binds addr and serves until ctx is cancelled.
func (h *HealthServer) ListenAndServe(ctx context.Context, addr string) error {
	var lc net.ListenConfig
	lis, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	return h.Serve(ctx, lis)
}

// Serve serves on lis until ctx is cancelled, then drains in-flight calls.
func (h *HealthServer) Serve(ctx context.Context, lis net.Listener) error {
	h.logger.Info("grpc listening", "addr", lis.Addr().String())

	errCh := make(chan error, 1)
	go func() { errCh <- h.grpc.Serve(lis) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		h.health.Shutdown()
		h.grpc.GracefulStop()
		if err := <-errCh; err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return err
		}
		return nil
	}
}

func status(up bool) healthpb.HealthCheckResponse_ServingStatus {
	if up {
		return healthpb.HealthCheckResponse_SERVING
	}
	return healthpb.HealthCheckResponse_NOT_SERVING
}
