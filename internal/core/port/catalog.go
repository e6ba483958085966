package port

import (
	"context"

	"github.com/leadrgg/leadr-core/internal/core/domain"
)

// GameReader resolves games owned by the account CRUD layer.
type GameReader interface {
	Get(ctx context.Context, gameID string) (*domain.Game, error)
}

// BoardReader resolves boards owned by the account CRUD layer.
type BoardReader interface {
	Get(ctx context.Context, boardID string) (*domain.Board, error)
}

// ScoreWriter stores accepted submissions.
type ScoreWriter interface {
	Create(ctx context.Context, score domain.Score) error
}
