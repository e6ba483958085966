package interceptors

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/leadrgg/leadr-core/internal/core/domain"
	"github.com/leadrgg/leadr-core/internal/usecase"
)

const (
	authorizationKey = "authorization"
	bearerScheme     = "bearer"
)

var errMissingToken = errors.New("authorization token required")

// DeviceAuthenticator resolves a device access token to the owning device.
type DeviceAuthenticator interface {
	ValidateAccessToken(ctx context.Context, token string) (*domain.Device, error)
}

// AuthOptions fine-tunes interceptor behaviour.
type AuthOptions struct {
	AllowMethods []string
	Logger       *zap.Logger
}

// AuthInterceptor authenticates callers with device access tokens.
type AuthInterceptor struct {
	devices DeviceAuthenticator
	logger  *zap.Logger
	allow   map[string]struct{}
}

// NewAuthInterceptor constructs a new AuthInterceptor instance.
func NewAuthInterceptor(devices DeviceAuthenticator, opts AuthOptions) *AuthInterceptor {
	allow := make(map[string]struct{}, len(opts.AllowMethods))
	for _, method := range opts.AllowMethods {
		if method = strings.TrimSpace(method); method != "" {
			allow[method] = struct{}{}
		}
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &AuthInterceptor{devices: devices, logger: logger, allow: allow}
}

// UnaryServerInterceptor returns a unary interceptor that enforces device authentication.
func (ai *AuthInterceptor) UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		ctx, err := ai.authenticate(ctx, info.FullMethod)
		if err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

// StreamServerInterceptor applies the same rules to streaming methods.
func (ai *AuthInterceptor) StreamServerInterceptor() grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		ctx, err := ai.authenticate(ss.Context(), info.FullMethod)
		if err != nil {
			return err
		}
		return handler(srv, &authenticatedStream{ServerStream: ss, ctx: ctx})
	}
}

func (ai *AuthInterceptor) authenticate(ctx context.Context, method string) (context.Context, error) {
	if ai == nil || ai.devices == nil {
		return ctx, nil
	}
	if _, ok := ai.allow[method]; ok {
		return ctx, nil
	}

	token, err := tokenFromMetadata(ctx)
	if err != nil {
		ai.logger.Debug("gRPC authentication failed", zap.String("method", method), zap.Error(err))
		return nil, status.Error(codes.Unauthenticated, "unauthenticated")
	}

	device, err := ai.devices.ValidateAccessToken(ctx, token)
	if err != nil {
		if errors.Is(err, usecase.ErrUnauthenticated) {
			ai.logger.Debug("gRPC device token rejected", zap.String("method", method))
			return nil, status.Error(codes.Unauthenticated, "unauthenticated")
		}
		ai.logger.Error("gRPC device token validation failed", zap.String("method", method), zap.Error(err))
		return nil, status.Error(codes.Unavailable, "authentication unavailable")
	}

	return WithDevice(ctx, device), nil
}

type authenticatedStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *authenticatedStream) Context() context.Context { return s.ctx }

type deviceContextKey struct{}

// WithDevice returns a derived context carrying the authenticated device.
func WithDevice(ctx context.Context, device *domain.Device) context.Context {
	if device == nil {
		return ctx
	}
	return context.WithValue(ctx, deviceContextKey{}, device)
}

// DeviceFromContext extracts the authenticated device when present.
func DeviceFromContext(ctx context.Context) (*domain.Device, bool) {
	if ctx == nil {
		return nil, false
	}
	device, ok := ctx.Value(deviceContextKey{}).(*domain.Device)
	return device, ok && device != nil
}

func tokenFromMetadata(ctx context.Context) (string, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return "", errMissingToken
	}

	// metadata keys are lower-cased on the wire
	values := md.Get(authorizationKey)
	if len(values) == 0 || strings.TrimSpace(values[0]) == "" {
		return "", errMissingToken
	}

	scheme, token, found := strings.Cut(strings.TrimSpace(values[0]), " ")
	if !found || !strings.EqualFold(scheme, bearerScheme) {
		return "", errors.New("invalid authorization header")
	}
	if token = strings.TrimSpace(token); token == "" {
		return "", errMissingToken
	}
	return token, nil
}
