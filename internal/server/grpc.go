package server

import (
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	challengehandler "stepup-challenge/internal/challenge/handler"
	healthhandler "stepup-challenge/internal/health/handler"
	"stepup-challenge/internal/server/interceptors"
	"stepup-challenge/internal/telemetry"
)

// Deps holds optional service dependencies for gRPC handlers.
type Deps struct {
	// Sessions backs ChallengeService. If nil, challenge RPCs return Unimplemented.
	Sessions challengehandler.Sessions
	// HealthPinger is used by the health service for readiness (e.g. *sql.DB). If nil, Check skips the store ping.
	HealthPinger healthhandler.Pinger
}

// RegisterServices registers all gRPC services with the given server.
//
// Service → handler mapping:
//   - stepup.challenge.v1.ChallengeService → internal/challenge/handler
//   - grpc.health.v1.Health                → internal/health/handler
func RegisterServices(s grpc.ServiceRegistrar, deps Deps) {
	challengehandler.RegisterChallengeServiceServer(s, challengehandler.NewServer(deps.Sessions))
	healthpb.RegisterHealthServer(s, healthhandler.NewServer(deps.HealthPinger, challengehandler.ServiceName))
}

// SkipTelemetryMethods are not reported as grpc_request events.
var SkipTelemetryMethods = map[string]bool{
	healthpb.Health_Check_FullMethodName: true,
	healthpb.Health_Watch_FullMethodName: true,
}

// NewGRPCServer returns a server with the session and telemetry interceptors and, when
// tracing is true, the OpenTelemetry stats handler. emitter may be nil.
func NewGRPCServer(emitter telemetry.EventEmitter, tracing bool) *grpc.Server {
	opts := []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(
			interceptors.SessionUnary(),
			interceptors.TelemetryUnary(emitter, SkipTelemetryMethods),
		),
	}
	if tracing {
		opts = append(opts, grpc.StatsHandler(otelgrpc.NewServerHandler()))
	}
	return grpc.NewServer(opts...)
}
