package transportgrpc

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/leadrgg/leadr-core/internal/core/domain"
	grpcinterceptors "github.com/leadrgg/leadr-core/internal/transport/grpc/interceptors"
	"github.com/leadrgg/leadr-core/internal/usecase"
)

const (
	deviceTrustServiceName         = "leadr.client.v1.DeviceTrust"
	deviceTrustValidateTokenMethod = "/" + deviceTrustServiceName + "/ValidateToken"
	deviceTrustWhoAmIMethod        = "/" + deviceTrustServiceName + "/WhoAmI"
)

// DeviceTrustService lets game servers check device tokens presented by their players.
type DeviceTrustService interface {
	ValidateToken(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error)
	WhoAmI(ctx context.Context, req *emptypb.Empty) (*structpb.Struct, error)
}

// DeviceTrustServer implements DeviceTrustService on top of the device session store.
type DeviceTrustServer struct {
	devices grpcinterceptors.DeviceAuthenticator
	logger  *zap.Logger
}

// NewDeviceTrustServer constructs a DeviceTrustServer instance.
func NewDeviceTrustServer(devices grpcinterceptors.DeviceAuthenticator, logger *zap.Logger) *DeviceTrustServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DeviceTrustServer{devices: devices, logger: logger}
}

// ValidateToken reports whether the access token belongs to an active device session.
// Invalid tokens are a normal answer, not an RPC error.
func (s *DeviceTrustServer) ValidateToken(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	token := strings.TrimSpace(req.GetValue())
	if token == "" {
		return invalidToken("token is required")
	}

	device, err := s.devices.ValidateAccessToken(ctx, token)
	if err != nil {
		if errors.Is(err, usecase.ErrUnauthenticated) {
			return invalidToken("token is not valid")
		}
		s.logger.Error("device token validation failed", zap.Error(err))
		return nil, status.Error(codes.Unavailable, "failed to validate token")
	}

	fields := deviceFields(*device)
	fields["valid"] = true
	return structpb.NewStruct(fields)
}

// WhoAmI describes the device authenticated by the call's bearer token.
func (s *DeviceTrustServer) WhoAmI(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	device, ok := grpcinterceptors.DeviceFromContext(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "unauthenticated")
	}
	return structpb.NewStruct(deviceFields(*device))
}

func invalidToken(reason string) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{"valid": false, "error": reason})
}

func deviceFields(device domain.Device) map[string]any {
	fields := map[string]any{
		"id":           device.ID,
		"account_id":   device.AccountID,
		"game_id":      device.GameID,
		"device_id":    device.ClientDeviceID,
		"status":       string(device.Status),
		"last_seen_at": device.LastSeenAt.UTC().Format(time.RFC3339),
	}
	if device.Platform != nil {
		fields["platform"] = *device.Platform
	}
	return fields
}

// RegisterDeviceTrustServer registers the device trust service on the gRPC server.
func RegisterDeviceTrustServer(s grpc.ServiceRegistrar, srv DeviceTrustService) {
	s.RegisterService(&deviceTrustServiceDesc, srv)
}

var deviceTrustServiceDesc = grpc.ServiceDesc{
	ServiceName: deviceTrustServiceName,
	HandlerType: (*DeviceTrustService)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ValidateToken", Handler: validateTokenHandler},
		{MethodName: "WhoAmI", Handler: whoAmIHandler},
	},
	Streams: []grpc.StreamDesc{},
}

func validateTokenHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(DeviceTrustService).ValidateToken(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: deviceTrustValidateTokenMethod}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return srv.(DeviceTrustService).ValidateToken(ctx, req.(*wrapperspb.StringValue))
	})
}

func whoAmIHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(DeviceTrustService).WhoAmI(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: deviceTrustWhoAmIMethod}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return srv.(DeviceTrustService).WhoAmI(ctx, req.(*emptypb.Empty))
	})
}
