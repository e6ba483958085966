package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/leadrgg/leadr-core/internal/core/domain"
	"github.com/leadrgg/leadr-core/internal/core/port"
	"github.com/leadrgg/leadr-core/internal/infra/security"
	"github.com/leadrgg/leadr-core/internal/repository"
)

// IssueAPIKeyInput describes a new account API key.
type IssueAPIKeyInput struct {
	AccountID string
	UserID    string
	Name      string
	ExpiresAt *time.Time
}

// APIKeyService issues and authenticates account API keys.
type APIKeyService struct {
	keys   port.APIKeyRepository
	events port.EventPublisher
	logger *zap.Logger
	pepper []byte
	now    func() time.Time

	// concurrent requests presenting the same key share one lookup
	lookups singleflight.Group
}

// NewAPIKeyService constructs the authenticator. pepper keys the stored HMAC digests.
func NewAPIKeyService(keys port.APIKeyRepository, events port.EventPublisher, pepper string, logger *zap.Logger) *APIKeyService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &APIKeyService{
		keys:   keys,
		events: events,
		logger: logger,
		pepper: []byte(pepper),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the service clock (useful for tests).
func (s *APIKeyService) WithClock(clock func() time.Time) *APIKeyService {
	if clock != nil {
		s.now = clock
	}
	return s
}

// Issue creates a key and returns its plaintext. The plaintext is never stored or returned again.
func (s *APIKeyService) Issue(ctx context.Context, input IssueAPIKeyInput) (*domain.APIKey, string, error) {
	input.Name = strings.TrimSpace(input.Name)
	if input.AccountID == "" || input.UserID == "" || input.Name == "" {
		return nil, "", fmt.Errorf("%w: account, user and name are required", ErrValidation)
	}

	now := s.now()
	if input.ExpiresAt != nil && !input.ExpiresAt.After(now) {
		return nil, "", fmt.Errorf("%w: expiry must be in the future", ErrValidation)
	}

	plaintext, err := security.GenerateAPIKey()
	if err != nil {
		return nil, "", err
	}
	prefix, _ := security.APIKeyPrefix(plaintext)

	var expiresAt *time.Time
	if input.ExpiresAt != nil {
		exp := input.ExpiresAt.UTC()
		expiresAt = &exp
	}

	key := domain.APIKey{
		ID:        uuid.NewString(),
		AccountID: input.AccountID,
		UserID:    input.UserID,
		Name:      input.Name,
		KeyHash:   security.HashSecret(plaintext, s.pepper),
		KeyPrefix: prefix,
		Status:    domain.APIKeyStatusActive,
		ExpiresAt: expiresAt,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.keys.Create(ctx, key); err != nil {
		return nil, "", fmt.Errorf("create api key: %w", err)
	}

	s.logger.Info("API key issued",
		zap.String("key_id", key.ID),
		zap.String("account_id", key.AccountID),
		zap.String("key_prefix", key.KeyPrefix),
	)
	return &key, plaintext, nil
}

// Authenticate resolves a plaintext key. Usage is recorded only when every check passes.
func (s *APIKeyService) Authenticate(ctx context.Context, plaintext string) (*domain.APIKey, error) {
	plaintext = strings.TrimSpace(plaintext)
	prefix, ok := security.APIKeyPrefix(plaintext)
	if !ok {
		return nil, ErrUnauthenticated
	}

	lookup := s.lookups.DoChan(prefix, func() (any, error) {
		// Shared by every caller of this prefix, so it must outlive any one caller's cancellation.
		return s.keys.GetByPrefix(context.WithoutCancel(ctx), prefix)
	})
	var res singleflight.Result
	select {
	case res = <-lookup:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	found, err := res.Val, res.Err
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrUnauthenticated
		}
		return nil, fmt.Errorf("get api key: %w", err)
	}
	shared := *found.(*domain.APIKey)
	key := &shared

	if !security.VerifySecret(plaintext, key.KeyHash, s.pepper) {
		return nil, ErrUnauthenticated
	}

	now := s.now()
	if !key.Usable(now) {
		return nil, ErrUnauthenticated
	}

	if err := s.keys.RecordUsage(ctx, key.ID, now); err != nil {
		s.logger.Warn("Failed to record api key usage", zap.String("key_id", key.ID), zap.Error(err))
		return key, nil
	}
	used := key.Used(now)
	return &used, nil
}

// Get returns a key owned by accountID.
func (s *APIKeyService) Get(ctx context.Context, accountID, keyID string) (*domain.APIKey, error) {
	key, err := s.keys.Get(ctx, keyID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrAPIKeyNotFound
		}
		return nil, fmt.Errorf("get api key: %w", err)
	}
	if key.AccountID != accountID {
		return nil, ErrAPIKeyNotFound
	}
	return key, nil
}

// List returns the account's keys, optionally narrowed to a status.
func (s *APIKeyService) List(ctx context.Context, accountID string, status *domain.APIKeyStatus) ([]domain.APIKey, error) {
	if status != nil && !status.Valid() {
		return nil, ErrInvalidStatus
	}
	keys, err := s.keys.ListByAccount(ctx, accountID, status)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	return keys, nil
}

// CountActive returns the number of active, unexpired keys of the account.
func (s *APIKeyService) CountActive(ctx context.Context, accountID string) (int, error) {
	count, err := s.keys.CountActive(ctx, accountID, s.now())
	if err != nil {
		return 0, fmt.Errorf("count api keys: %w", err)
	}
	return count, nil
}

// UpdateStatus moves a key to status. Setting revoked publishes a revocation event.
func (s *APIKeyService) UpdateStatus(ctx context.Context, accountID, keyID string, status domain.APIKeyStatus) (*domain.APIKey, error) {
	if !status.Valid() {
		return nil, ErrInvalidStatus
	}

	key, err := s.Get(ctx, accountID, keyID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	next := key.WithStatus(status, now)
	if next.Status == key.Status && next.UpdatedAt.Equal(key.UpdatedAt) {
		return key, nil
	}

	if err := s.keys.UpdateStatus(ctx, keyID, status, now); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrAPIKeyNotFound
		}
		return nil, fmt.Errorf("update api key status: %w", err)
	}

	if status == domain.APIKeyStatusRevoked {
		s.publishRevoked(ctx, next, now)
	}
	return &next, nil
}

// Revoke disables a key.
func (s *APIKeyService) Revoke(ctx context.Context, accountID, keyID string) (*domain.APIKey, error) {
	return s.UpdateStatus(ctx, accountID, keyID, domain.APIKeyStatusRevoked)
}

func (s *APIKeyService) publishRevoked(ctx context.Context, key domain.APIKey, at time.Time) {
	if s.events == nil {
		return
	}
	event := domain.APIKeyRevokedEvent{
		EventID:   uuid.NewString(),
		KeyID:     key.ID,
		AccountID: key.AccountID,
		KeyPrefix: key.KeyPrefix,
		RevokedAt: at,
	}
	if err := s.events.PublishAPIKeyRevoked(ctx, event); err != nil {
		s.logger.Warn("Failed to publish api key revoked event", zap.String("key_id", key.ID), zap.Error(err))
	}
}
