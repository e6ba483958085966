package port

import (
	"context"
	"time"

	"github.com/leadrgg/leadr-core/internal/core/domain"
)

// NonceRepository persists single-use nonces.
type NonceRepository interface {
	Create(ctx context.Context, nonce domain.Nonce) error
	GetByValue(ctx context.Context, value string) (*domain.Nonce, error)
	// MarkUsed transitions a pending, unexpired nonce to used. repository.ErrConflict signals
	// that another caller won or the nonce expired meanwhile.
	MarkUsed(ctx context.Context, nonceID string, at time.Time) error
	DeletePendingExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
