package transportgrpc

import (
	"fmt"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	grpcinterceptors "github.com/leadrgg/leadr-core/internal/transport/grpc/interceptors"
)

// DefaultPublicMethods lists the methods callable without a device token.
var DefaultPublicMethods = []string{
	healthpb.Health_Check_FullMethodName,
	healthpb.Health_Watch_FullMethodName,
	"/grpc.reflection.v1.ServerReflection/ServerReflectionInfo",
	"/grpc.reflection.v1alpha.ServerReflection/ServerReflectionInfo",
	deviceTrustValidateTokenMethod,
}

// ServerDependencies encapsulates services required by the gRPC server layer.
type ServerDependencies struct {
	DeviceAuth     grpcinterceptors.DeviceAuthenticator
	Metrics        *grpcinterceptors.GRPCMetrics
	TracerProvider trace.TracerProvider
	Logger         *zap.Logger
	PublicMethods  []string // methods that don't require authentication
}

// Server bundles the gRPC server with its health service.
type Server struct {
	*grpc.Server
	Health *health.Server
}

// NewServer wires gRPC services with authentication enforced through interceptors.
func NewServer(deps ServerDependencies) (*Server, error) {
	if deps.DeviceAuth == nil {
		return nil, fmt.Errorf("device authenticator is required")
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	public := deps.PublicMethods
	if public == nil {
		public = DefaultPublicMethods
	}

	auth := grpcinterceptors.NewAuthInterceptor(deps.DeviceAuth, grpcinterceptors.AuthOptions{
		Logger:       logger,
		AllowMethods: public,
	})

	var tracing []otelgrpc.Option
	if deps.TracerProvider != nil {
		tracing = append(tracing, otelgrpc.WithTracerProvider(deps.TracerProvider))
	}

	server := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler(tracing...)),
		grpc.ChainUnaryInterceptor(deps.Metrics.UnaryServerInterceptor(), auth.UnaryServerInterceptor()),
		grpc.ChainStreamInterceptor(deps.Metrics.StreamServerInterceptor(), auth.StreamServerInterceptor()),
	)

	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(server, healthServer)
	RegisterDeviceTrustServer(server, NewDeviceTrustServer(deps.DeviceAuth, logger))

	// Register reflection service for tools like grpcurl.
	reflection.Register(server)

	return &Server{Server: server, Health: healthServer}, nil
}

// Stop marks every service as not serving and drains in-flight calls.
func (s *Server) Stop() {
	s.Health.Shutdown()
	s.GracefulStop()
}
