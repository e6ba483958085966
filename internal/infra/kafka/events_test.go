package kafka

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap/zaptest"

	"github.com/leadrgg/leadr-core/internal/core/domain"
	"github.com/leadrgg/leadr-core/internal/infra/config"
)

type fakeAsyncProducer struct {
	input  chan *sarama.ProducerMessage
	errors chan *sarama.ProducerError
}

func newFakeAsyncProducer() *fakeAsyncProducer {
	return &fakeAsyncProducer{
		input:  make(chan *sarama.ProducerMessage, 1),
		errors: make(chan *sarama.ProducerError, 1),
	}
}

func (f *fakeAsyncProducer) AsyncClose() {}

func (f *fakeAsyncProducer) Close() error { return nil }

func (f *fakeAsyncProducer) Input() chan<- *sarama.ProducerMessage { return f.input }

func (f *fakeAsyncProducer) Successes() <-chan *sarama.ProducerMessage { return nil }

func (f *fakeAsyncProducer) Errors() <-chan *sarama.ProducerError { return f.errors }

func (f *fakeAsyncProducer) IsTransactional() bool { return false }

func (f *fakeAsyncProducer) BeginTxn() error { return nil }

func (f *fakeAsyncProducer) CommitTxn() error { return nil }

func (f *fakeAsyncProducer) AbortTxn() error { return nil }

func (f *fakeAsyncProducer) AddOffsetsToTxn(offsets map[string][]*sarama.PartitionOffsetMetadata, groupID string) error {
	return nil
}

func (f *fakeAsyncProducer) AddMessageToTxn(msg *sarama.ConsumerMessage, groupID string, metadata *string) error {
	return nil
}

func (f *fakeAsyncProducer) TxnStatus() sarama.ProducerTxnStatusFlag {
	return sarama.ProducerTxnStatusFlag(0)
}

func newTestPublisher(t *testing.T) (*EventPublisher, *fakeAsyncProducer) {
	t.Helper()

	asyncProducer := newFakeAsyncProducer()
	producer := newProducer(asyncProducer, config.KafkaSettings{TopicPrefix: "leadr"}, zaptest.NewLogger(t))
	t.Cleanup(func() { _ = producer.Close() })

	publisher := NewEventPublisher(producer, config.AppSettings{Name: "leadr-core", Env: "test"}, zaptest.NewLogger(t))
	return publisher, asyncProducer
}

func receive(t *testing.T, producer *fakeAsyncProducer) (*sarama.ProducerMessage, map[string]any) {
	t.Helper()

	select {
	case msg := <-producer.input:
		body, err := msg.Value.Encode()
		if err != nil {
			t.Fatalf("Value.Encode returned error: %v", err)
		}
		var envelope map[string]any
		if err := json.Unmarshal(body, &envelope); err != nil {
			t.Fatalf("failed to unmarshal envelope: %v", err)
		}
		return msg, envelope
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
	}
	return nil, nil
}

func TestPublishSessionStarted(t *testing.T) {
	publisher, producer := newTestPublisher(t)

	startedAt := time.Date(2025, 11, 3, 12, 0, 0, 0, time.UTC)
	event := domain.DeviceSessionStartedEvent{
		EventID:       "event-1",
		SessionID:     "sess-1",
		DeviceID:      "dev-1",
		GameID:        "game-1",
		AccountID:     "acc-1",
		DeviceCreated: true,
		StartedAt:     startedAt,
	}

	if err := publisher.PublishSessionStarted(context.Background(), event); err != nil {
		t.Fatalf("PublishSessionStarted returned error: %v", err)
	}

	msg, envelope := receive(t, producer)
	if msg.Topic != "leadr.device.session.started" {
		t.Fatalf("unexpected topic: %s", msg.Topic)
	}
	key, err := msg.Key.Encode()
	if err != nil || string(key) != "dev-1" {
		t.Fatalf("expected message keyed by device, got %q (%v)", key, err)
	}
	if envelope["event_id"] != "event-1" || envelope["event_type"] != TopicSessionStarted {
		t.Fatalf("unexpected envelope header %v", envelope)
	}
	if envelope["account_id"] != "acc-1" || envelope["version"] != schemaVersion {
		t.Fatalf("unexpected envelope %v", envelope)
	}
	if envelope["timestamp"] != startedAt.Format(time.RFC3339Nano) {
		t.Fatalf("unexpected timestamp %v", envelope["timestamp"])
	}

	payload, ok := envelope["payload"].(map[string]any)
	if !ok {
		t.Fatalf("payload not a map: %T", envelope["payload"])
	}
	if payload["session_id"] != "sess-1" || payload["device_created"] != true {
		t.Fatalf("unexpected payload %v", payload)
	}

	metadata, ok := envelope["metadata"].(map[string]any)
	if !ok {
		t.Fatalf("metadata not a map: %T", envelope["metadata"])
	}
	if metadata["service"] != "leadr-core" || metadata["environment"] != "test" {
		t.Fatalf("unexpected metadata %v", metadata)
	}
}

func TestPublishScoreScreenedRoutesByAction(t *testing.T) {
	publisher, producer := newTestPublisher(t)

	scoreID := "score-1"
	flagged := domain.ScoreScreenedEvent{
		FlagID:     "flag-1",
		ScoreID:    &scoreID,
		AccountID:  "acc-1",
		BoardID:    "board-1",
		DeviceID:   "dev-1",
		Action:     domain.FlagActionFlag,
		FlagType:   domain.FlagTypeDuplicate,
		Confidence: domain.FlagConfidenceMedium,
		ScreenedAt: time.Now(),
	}
	if err := publisher.PublishScoreScreened(context.Background(), flagged); err != nil {
		t.Fatalf("PublishScoreScreened returned error: %v", err)
	}
	msg, envelope := receive(t, producer)
	if msg.Topic != "leadr.score.flagged" {
		t.Fatalf("unexpected topic %s", msg.Topic)
	}
	if envelope["event_id"] == "" {
		t.Fatal("expected a generated event id")
	}

	rejected := flagged
	rejected.ScoreID = nil
	rejected.Action = domain.FlagActionReject
	rejected.FlagType = domain.FlagTypeRateLimit
	if err := publisher.PublishScoreScreened(context.Background(), rejected); err != nil {
		t.Fatalf("PublishScoreScreened returned error: %v", err)
	}
	msg, envelope = receive(t, producer)
	if msg.Topic != "leadr.score.rejected" {
		t.Fatalf("unexpected topic %s", msg.Topic)
	}
	payload := envelope["payload"].(map[string]any)
	if _, present := payload["score_id"]; present {
		t.Fatalf("rejected submissions carry no score id, got %v", payload["score_id"])
	}
}

func TestPublishRespectsContextCancellation(t *testing.T) {
	publisher, producer := newTestPublisher(t)

	// fill the single-slot input so the next send blocks
	producer.input <- &sarama.ProducerMessage{}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := publisher.PublishAPIKeyRevoked(ctx, domain.APIKeyRevokedEvent{KeyID: "key-1", AccountID: "acc-1"})
	if err != context.Canceled {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestTopicName(t *testing.T) {
	producer := &Producer{cfg: config.KafkaSettings{TopicPrefix: "leadr"}}
	if got := producer.TopicName("score.flagged"); got != "leadr.score.flagged" {
		t.Fatalf("unexpected topic %s", got)
	}
	if got := producer.TopicName("leadr.score.flagged"); got != "leadr.score.flagged" {
		t.Fatalf("prefix applied twice: %s", got)
	}

	bare := &Producer{}
	if got := bare.TopicName("score.flagged"); got != "score.flagged" {
		t.Fatalf("unexpected topic %s", got)
	}
}
