package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/leadrgg/leadr-core/internal/core/domain"
	"github.com/leadrgg/leadr-core/internal/core/port"
	"github.com/leadrgg/leadr-core/internal/infra/config"
	"github.com/leadrgg/leadr-core/internal/infra/telemetry"
)

const schemaVersion = "1.0"

const (
	TopicSessionStarted     = "device.session.started"
	TopicSessionRotated     = "device.session.rotated"
	TopicSessionRevoked     = "device.session.revoked"
	TopicDeviceStatusChange = "device.status.changed"
	TopicScoreFlagged       = "score.flagged"
	TopicScoreRejected      = "score.rejected"
	TopicAPIKeyRevoked      = "api_key.revoked"
)

// EventPublisher implements port.EventPublisher using Kafka. Messages are keyed by device or key id
// so every event about one subject lands on the same partition.
type EventPublisher struct {
	producer *Producer
	logger   *zap.Logger
	appCfg   config.AppSettings
}

var _ port.EventPublisher = (*EventPublisher)(nil)

// NewEventPublisher constructs a Kafka-backed event publisher.
func NewEventPublisher(producer *Producer, appCfg config.AppSettings, logger *zap.Logger) *EventPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventPublisher{producer: producer, appCfg: appCfg, logger: logger}
}

type envelopeMetadata map[string]string

type eventEnvelope struct {
	EventID   string           `json:"event_id"`
	EventType string           `json:"event_type"`
	AccountID string           `json:"account_id,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
	Version   string           `json:"version"`
	Payload   any              `json:"payload"`
	Metadata  envelopeMetadata `json:"metadata,omitempty"`
}

func (p *EventPublisher) publish(ctx context.Context, eventID, eventType, accountID, key string, ts time.Time, payload any) error {
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	if eventID == "" {
		eventID = uuid.NewString()
	}

	metadata := envelopeMetadata{
		"service":     p.appCfg.Name,
		"environment": p.appCfg.Env,
	}
	if traceID := telemetry.TraceIDFromContext(ctx); traceID != "" {
		metadata["trace_id"] = traceID
	}

	body, err := json.Marshal(eventEnvelope{
		EventID:   eventID,
		EventType: eventType,
		AccountID: accountID,
		Timestamp: ts.UTC(),
		Version:   schemaVersion,
		Payload:   payload,
		Metadata:  metadata,
	})
	if err != nil {
		return fmt.Errorf("marshal event envelope: %w", err)
	}

	message := &sarama.ProducerMessage{
		Topic: p.producer.TopicName(eventType),
		Value: sarama.ByteEncoder(body),
	}
	if key != "" {
		message.Key = sarama.StringEncoder(key)
	}

	select {
	case p.producer.Input() <- message:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *EventPublisher) PublishSessionStarted(ctx context.Context, event domain.DeviceSessionStartedEvent) error {
	payload := struct {
		SessionID     string    `json:"session_id"`
		DeviceID      string    `json:"device_id"`
		GameID        string    `json:"game_id"`
		DeviceCreated bool      `json:"device_created"`
		Platform      *string   `json:"platform,omitempty"`
		StartedAt     time.Time `json:"started_at"`
		IPAddress     *string   `json:"ip_address,omitempty"`
	}{
		SessionID:     event.SessionID,
		DeviceID:      event.DeviceID,
		GameID:        event.GameID,
		DeviceCreated: event.DeviceCreated,
		Platform:      event.Platform,
		StartedAt:     event.StartedAt.UTC(),
		IPAddress:     event.IPAddress,
	}
	return p.publish(ctx, event.EventID, TopicSessionStarted, event.AccountID, event.DeviceID, event.StartedAt, payload)
}

func (p *EventPublisher) PublishSessionRotated(ctx context.Context, event domain.DeviceSessionRotatedEvent) error {
	payload := struct {
		SessionID    string    `json:"session_id"`
		DeviceID     string    `json:"device_id"`
		TokenVersion int       `json:"token_version"`
		RotatedAt    time.Time `json:"rotated_at"`
	}{
		SessionID:    event.SessionID,
		DeviceID:     event.DeviceID,
		TokenVersion: event.TokenVersion,
		RotatedAt:    event.RotatedAt.UTC(),
	}
	return p.publish(ctx, event.EventID, TopicSessionRotated, event.AccountID, event.DeviceID, event.RotatedAt, payload)
}

func (p *EventPublisher) PublishSessionRevoked(ctx context.Context, event domain.DeviceSessionRevokedEvent) error {
	payload := struct {
		SessionID string    `json:"session_id"`
		DeviceID  string    `json:"device_id"`
		RevokedAt time.Time `json:"revoked_at"`
		RevokedBy string    `json:"revoked_by"`
	}{
		SessionID: event.SessionID,
		DeviceID:  event.DeviceID,
		RevokedAt: event.RevokedAt.UTC(),
		RevokedBy: event.RevokedBy,
	}
	return p.publish(ctx, event.EventID, TopicSessionRevoked, event.AccountID, event.DeviceID, event.RevokedAt, payload)
}

func (p *EventPublisher) PublishDeviceStatusChanged(ctx context.Context, event domain.DeviceStatusChangedEvent) error {
	payload := struct {
		DeviceID       string    `json:"device_id"`
		GameID         string    `json:"game_id"`
		PreviousStatus string    `json:"previous_status"`
		Status         string    `json:"status"`
		ChangedAt      time.Time `json:"changed_at"`
		ChangedBy      string    `json:"changed_by"`
	}{
		DeviceID:       event.DeviceID,
		GameID:         event.GameID,
		PreviousStatus: string(event.PreviousStatus),
		Status:         string(event.Status),
		ChangedAt:      event.ChangedAt.UTC(),
		ChangedBy:      event.ChangedBy,
	}
	return p.publish(ctx, event.EventID, TopicDeviceStatusChange, event.AccountID, event.DeviceID, event.ChangedAt, payload)
}

// PublishScoreScreened routes FLAG verdicts to score.flagged and REJECT verdicts to score.rejected.
func (p *EventPublisher) PublishScoreScreened(ctx context.Context, event domain.ScoreScreenedEvent) error {
	topic := TopicScoreFlagged
	if event.Action == domain.FlagActionReject {
		topic = TopicScoreRejected
	}

	payload := struct {
		FlagID     string         `json:"flag_id"`
		ScoreID    *string        `json:"score_id,omitempty"`
		BoardID    string         `json:"board_id"`
		DeviceID   string         `json:"device_id"`
		Action     string         `json:"action"`
		FlagType   string         `json:"flag_type"`
		Confidence string         `json:"confidence"`
		Reason     string         `json:"reason"`
		Metadata   map[string]any `json:"metadata,omitempty"`
		ScreenedAt time.Time      `json:"screened_at"`
	}{
		FlagID:     event.FlagID,
		ScoreID:    event.ScoreID,
		BoardID:    event.BoardID,
		DeviceID:   event.DeviceID,
		Action:     string(event.Action),
		FlagType:   string(event.FlagType),
		Confidence: string(event.Confidence),
		Reason:     event.Reason,
		Metadata:   event.Metadata,
		ScreenedAt: event.ScreenedAt.UTC(),
	}
	return p.publish(ctx, event.EventID, topic, event.AccountID, event.DeviceID, event.ScreenedAt, payload)
}

func (p *EventPublisher) PublishAPIKeyRevoked(ctx context.Context, event domain.APIKeyRevokedEvent) error {
	payload := struct {
		KeyID     string    `json:"key_id"`
		KeyPrefix string    `json:"key_prefix"`
		RevokedAt time.Time `json:"revoked_at"`
	}{
		KeyID:     event.KeyID,
		KeyPrefix: event.KeyPrefix,
		RevokedAt: event.RevokedAt.UTC(),
	}
	return p.publish(ctx, event.EventID, TopicAPIKeyRevoked, event.AccountID, event.KeyID, event.RevokedAt, payload)
}
