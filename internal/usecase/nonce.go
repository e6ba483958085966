package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/leadrgg/leadr-core/internal/core/domain"
	"github.com/leadrgg/leadr-core/internal/core/port"
	"github.com/leadrgg/leadr-core/internal/repository"
)

// DefaultNonceTTL is used when the service is built without a positive TTL.
const DefaultNonceTTL = 60 * time.Second

// NonceService issues and consumes single-use request nonces.
type NonceService struct {
	nonces  port.NonceRepository
	metrics port.TrustMetrics
	logger  *zap.Logger
	ttl     time.Duration
	now     func() time.Time
}

// NewNonceService constructs a nonce guard.
func NewNonceService(nonces port.NonceRepository, ttl time.Duration, logger *zap.Logger) *NonceService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = DefaultNonceTTL
	}
	return &NonceService{
		nonces: nonces,
		logger: logger,
		ttl:    ttl,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the service clock (useful for tests).
func (s *NonceService) WithClock(clock func() time.Time) *NonceService {
	if clock != nil {
		s.now = clock
	}
	return s
}

// WithMetrics attaches outcome counters.
func (s *NonceService) WithMetrics(metrics port.TrustMetrics) *NonceService {
	s.metrics = metrics
	return s
}

// Issue creates a pending nonce bound to deviceID.
func (s *NonceService) Issue(ctx context.Context, deviceID string) (*domain.Nonce, error) {
	if strings.TrimSpace(deviceID) == "" {
		return nil, fmt.Errorf("%w: device id is required", ErrValidation)
	}

	nonce := domain.NewNonce(uuid.NewString(), deviceID, uuid.NewString(), s.ttl, s.now())
	if err := s.nonces.Create(ctx, nonce); err != nil {
		return nil, fmt.Errorf("create nonce: %w", err)
	}
	s.observe("issued")
	return &nonce, nil
}

// Consume transitions the nonce to used exactly once. Every failure matches both
// ErrNoncePrecondition and the specific nonce sentinel.
func (s *NonceService) Consume(ctx context.Context, value, deviceID string) error {
	value = strings.TrimSpace(value)
	if _, err := uuid.Parse(value); err != nil {
		return s.reject(ErrNonceNotFound, deviceID)
	}

	nonce, err := s.nonces.GetByValue(ctx, value)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return s.reject(ErrNonceNotFound, deviceID)
		}
		return fmt.Errorf("get nonce: %w", err)
	}

	now := s.now()
	used, err := nonce.Consume(deviceID, now)
	if err != nil {
		return s.reject(translateNonceError(err), deviceID)
	}

	if err := s.nonces.MarkUsed(ctx, used.ID, now); err != nil {
		if !errors.Is(err, repository.ErrConflict) {
			return fmt.Errorf("mark nonce used: %w", err)
		}
		return s.reject(s.observedFailure(ctx, value, deviceID, now), deviceID)
	}

	s.observe("consumed")
	return nil
}

// SweepExpired deletes pending nonces whose expiry lies more than olderThan in the past.
// Used nonces are kept for audit.
func (s *NonceService) SweepExpired(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan < 0 {
		return 0, fmt.Errorf("%w: older than must not be negative", ErrValidation)
	}
	deleted, err := s.nonces.DeletePendingExpiredBefore(ctx, s.now().Add(-olderThan))
	if err != nil {
		return 0, fmt.Errorf("sweep nonces: %w", err)
	}
	return deleted, nil
}

// observedFailure re-reads a nonce after a lost conditional update and reports why it lost.
func (s *NonceService) observedFailure(ctx context.Context, value, deviceID string, now time.Time) error {
	current, err := s.nonces.GetByValue(ctx, value)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrNonceNotFound
		}
		s.logger.Warn("Failed to re-read nonce after conflict", zap.Error(err))
		return ErrNonceAlreadyUsed
	}
	if _, err := current.Consume(deviceID, now); err != nil {
		return translateNonceError(err)
	}
	return ErrNonceAlreadyUsed
}

func (s *NonceService) reject(reason error, deviceID string) error {
	s.observe(nonceOutcome(reason))
	s.logger.Debug("Nonce rejected", zap.String("device_id", deviceID), zap.Error(reason))
	return fmt.Errorf("%w: %w", ErrNoncePrecondition, reason)
}

func (s *NonceService) observe(outcome string) {
	if s.metrics != nil {
		s.metrics.ObserveNonce(outcome)
	}
}

func translateNonceError(err error) error {
	switch {
	case errors.Is(err, domain.ErrNonceDeviceMismatch):
		return ErrNonceDeviceMismatch
	case errors.Is(err, domain.ErrNonceUsed):
		return ErrNonceAlreadyUsed
	case errors.Is(err, domain.ErrNonceExpired):
		return ErrNonceExpired
	default:
		return ErrNonceNotFound
	}
}

func nonceOutcome(reason error) string {
	switch {
	case errors.Is(reason, ErrNonceDeviceMismatch):
		return "device_mismatch"
	case errors.Is(reason, ErrNonceAlreadyUsed):
		return "already_used"
	case errors.Is(reason, ErrNonceExpired):
		return "expired"
	default:
		return "not_found"
	}
}
