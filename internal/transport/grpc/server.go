package grpc

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

type ServerConfig struct {
	RequestTimeout time.Duration
}

// NewServer builds a gRPC server with the availability service, the standard
// health service and OpenTelemetry instrumentation registered.
func NewServer(svc availabilityService, log *slog.Logger, cfg ServerConfig, opts ...grpc.ServerOption) (*grpc.Server, *health.Server) {
	base := []grpc.ServerOption{
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(
			RequestIDInterceptor(),
			DefaultRequestTimeoutInterceptor(cfg.RequestTimeout),
		),
	}
	s := grpc.NewServer(append(base, opts...)...)
	RegisterAvailabilityServiceServer(s, NewAvailabilityServer(svc, log))

	hs := health.NewServer()
	healthpb.RegisterHealthServer(s, hs)
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(AvailabilityServiceName, healthpb.HealthCheckResponse_SERVING)
	return s, hs
}

// ReadyCheck is a named dependency check feeding the health service.
type ReadyCheck struct {
	Name  string
	Check func(context.Context) error
}

// WatchReadiness runs the checks every interval until ctx is done and flips
// the availability service between SERVING and NOT_SERVING.
func WatchReadiness(ctx context.Context, hs *health.Server, log *slog.Logger, interval time.Duration, checks ...ReadyCheck) {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	log = log.With(slog.String("component", "grpc.health"))

	serving := true
	probe := func() {
		healthy := true
		for _, check := range checks {
			if check.Check == nil {
				continue
			}
			cctx, cancel := context.WithTimeout(ctx, 2*time.Second)
			err := check.Check(cctx)
			cancel()
			if err != nil {
				healthy = false
				log.Warn("readiness check failed", slog.String("check", check.Name), slog.Any("err", err))
			}
		}
		if healthy == serving {
			return
		}
		serving = healthy
		st := healthpb.HealthCheckResponse_SERVING
		if !healthy {
			st = healthpb.HealthCheckResponse_NOT_SERVING
		}
		hs.SetServingStatus(AvailabilityServiceName, st)
		log.Info("serving status changed", slog.String("status", st.String()))
	}

	probe()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			probe()
		}
	}
}
