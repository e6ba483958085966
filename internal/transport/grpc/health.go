package transportgrpc

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const defaultReadinessInterval = 10 * time.Second

// ReadinessCheck probes a dependency the served methods rely on.
type ReadinessCheck func(ctx context.Context) error

// WatchReadiness keeps the health service in step with the dependency checks until ctx ends.
// The overall status and the device trust service flip together.
func (s *Server) WatchReadiness(ctx context.Context, interval time.Duration, checks map[string]ReadinessCheck, logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = defaultReadinessInterval
	}

	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last := healthpb.HealthCheckResponse_UNKNOWN
	for {
		current := s.probe(ctx, interval, names, checks, logger)
		if current != last {
			s.Health.SetServingStatus("", current)
			s.Health.SetServingStatus(deviceTrustServiceName, current)
			logger.Info("gRPC serving status changed", zap.String("status", current.String()))
			last = current
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Server) probe(ctx context.Context, timeout time.Duration, names []string, checks map[string]ReadinessCheck, logger *zap.Logger) healthpb.HealthCheckResponse_ServingStatus {
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	for _, name := range names {
		if err := checks[name](probeCtx); err != nil {
			logger.Warn("readiness check failed", zap.String("check", name), zap.Error(err))
			return healthpb.HealthCheckResponse_NOT_SERVING
		}
	}
	return healthpb.HealthCheckResponse_SERVING
}
