package kafka

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/leadrgg/leadr-core/internal/core/domain"
	"github.com/leadrgg/leadr-core/internal/core/port"
)

// StubPublisher logs events instead of sending them to Kafka. Used when no brokers are configured.
type StubPublisher struct {
	logger *zap.Logger
}

var _ port.EventPublisher = (*StubPublisher)(nil)

// NewStubPublisher constructs a development-friendly event publisher.
func NewStubPublisher(logger *zap.Logger) *StubPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StubPublisher{logger: logger}
}

func (p *StubPublisher) logEvent(eventType, accountID, subjectID string, at time.Time, fields ...zap.Field) {
	if at.IsZero() {
		at = time.Now().UTC()
	}
	p.logger.Info("Stub event published", append([]zap.Field{
		zap.String("event_type", eventType),
		zap.String("account_id", accountID),
		zap.String("subject_id", subjectID),
		zap.Time("timestamp", at.UTC()),
	}, fields...)...)
}

func (p *StubPublisher) PublishSessionStarted(_ context.Context, event domain.DeviceSessionStartedEvent) error {
	p.logEvent(TopicSessionStarted, event.AccountID, event.DeviceID, event.StartedAt,
		zap.String("session_id", event.SessionID),
		zap.Bool("device_created", event.DeviceCreated),
	)
	return nil
}

func (p *StubPublisher) PublishSessionRotated(_ context.Context, event domain.DeviceSessionRotatedEvent) error {
	p.logEvent(TopicSessionRotated, event.AccountID, event.DeviceID, event.RotatedAt,
		zap.String("session_id", event.SessionID),
		zap.Int("token_version", event.TokenVersion),
	)
	return nil
}

func (p *StubPublisher) PublishSessionRevoked(_ context.Context, event domain.DeviceSessionRevokedEvent) error {
	p.logEvent(TopicSessionRevoked, event.AccountID, event.DeviceID, event.RevokedAt,
		zap.String("session_id", event.SessionID),
		zap.String("revoked_by", event.RevokedBy),
	)
	return nil
}

func (p *StubPublisher) PublishDeviceStatusChanged(_ context.Context, event domain.DeviceStatusChangedEvent) error {
	p.logEvent(TopicDeviceStatusChange, event.AccountID, event.DeviceID, event.ChangedAt,
		zap.String("previous_status", string(event.PreviousStatus)),
		zap.String("status", string(event.Status)),
	)
	return nil
}

func (p *StubPublisher) PublishScoreScreened(_ context.Context, event domain.ScoreScreenedEvent) error {
	topic := TopicScoreFlagged
	if event.Action == domain.FlagActionReject {
		topic = TopicScoreRejected
	}
	p.logEvent(topic, event.AccountID, event.DeviceID, event.ScreenedAt,
		zap.String("flag_id", event.FlagID),
		zap.String("flag_type", string(event.FlagType)),
		zap.String("confidence", string(event.Confidence)),
	)
	return nil
}

func (p *StubPublisher) PublishAPIKeyRevoked(_ context.Context, event domain.APIKeyRevokedEvent) error {
	p.logEvent(TopicAPIKeyRevoked, event.AccountID, event.KeyID, event.RevokedAt,
		zap.String("key_prefix", event.KeyPrefix),
	)
	return nil
}
