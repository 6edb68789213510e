package handler

import (
	"context"
	"log"
	"time"

	"google.golang.org/grpc/codes"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
)

// checkTimeout bounds each dependency check.
const checkTimeout = 2 * time.Second

// Pinger checks the backing store (e.g. *sql.DB).
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Server implements grpc.health.v1.Health for readiness/liveness. The empty service name
// and every name in services report the same status.
type Server struct {
	healthpb.UnimplementedHealthServer
	pinger   Pinger
	services map[string]bool
}

// NewServer returns a health server. pinger may be nil (memory store).
func NewServer(pinger Pinger, services ...string) *Server {
	known := map[string]bool{"": true}
	for _, s := range services {
		known[s] = true
	}
	return &Server{pinger: pinger, services: known}
}

// Check returns SERVING when the store answers a ping, NOT_SERVING otherwise.
func (s *Server) Check(ctx context.Context, req *healthpb.HealthCheckRequest) (*healthpb.HealthCheckResponse, error) {
	if !s.services[req.GetService()] {
		return nil, status.Errorf(codes.NotFound, "unknown service %q", req.GetService())
	}
	if s.pinger != nil {
		pingCtx, cancel := context.WithTimeout(ctx, checkTimeout)
		defer cancel()
		if err := s.pinger.PingContext(pingCtx); err != nil {
			log.Printf("health: store ping failed: %v", err)
			return &healthpb.HealthCheckResponse{Status: healthpb.HealthCheckResponse_NOT_SERVING}, nil
		}
	}
	return &healthpb.HealthCheckResponse{Status: healthpb.HealthCheckResponse_SERVING}, nil
}
