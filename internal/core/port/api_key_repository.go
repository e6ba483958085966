package port

import (
	"context"
	"time"

	"github.com/leadrgg/leadr-core/internal/core/domain"
)

// APIKeyRepository persists account API keys.
type APIKeyRepository interface {
	Create(ctx context.Context, key domain.APIKey) error
	Get(ctx context.Context, keyID string) (*domain.APIKey, error)
	GetByPrefix(ctx context.Context, prefix string) (*domain.APIKey, error)
	ListByAccount(ctx context.Context, accountID string, status *domain.APIKeyStatus) ([]domain.APIKey, error)
	CountActive(ctx context.Context, accountID string, at time.Time) (int, error)
	UpdateStatus(ctx context.Context, keyID string, status domain.APIKeyStatus, at time.Time) error
	RecordUsage(ctx context.Context, keyID string, at time.Time) error
}
