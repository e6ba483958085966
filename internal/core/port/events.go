package port

import (
	"context"

	"github.com/leadrgg/leadr-core/internal/core/domain"
)

// EventPublisher publishes domain events to the message bus.
type EventPublisher interface {
	PublishSessionStarted(ctx context.Context, event domain.DeviceSessionStartedEvent) error
	PublishSessionRotated(ctx context.Context, event domain.DeviceSessionRotatedEvent) error
	PublishSessionRevoked(ctx context.Context, event domain.DeviceSessionRevokedEvent) error
	PublishDeviceStatusChanged(ctx context.Context, event domain.DeviceStatusChangedEvent) error
	PublishScoreScreened(ctx context.Context, event domain.ScoreScreenedEvent) error
	PublishAPIKeyRevoked(ctx context.Context, event domain.APIKeyRevokedEvent) error
}
