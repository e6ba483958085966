package port

import (
	"context"

	"github.com/leadrgg/leadr-core/internal/core/domain"
)

// SubmissionMetaFilter narrows submission ledger listings.
type SubmissionMetaFilter struct {
	AccountID string
	DeviceID  string
	BoardID   string
}

// SubmissionMetaRepository persists the per device and board submission ledger.
type SubmissionMetaRepository interface {
	Get(ctx context.Context, metaID string) (*domain.ScoreSubmissionMeta, error)
	GetByDeviceAndBoard(ctx context.Context, deviceID, boardID string) (*domain.ScoreSubmissionMeta, error)
	List(ctx context.Context, filter SubmissionMetaFilter) ([]domain.ScoreSubmissionMeta, error)
	Create(ctx context.Context, meta domain.ScoreSubmissionMeta) error
	Update(ctx context.Context, meta domain.ScoreSubmissionMeta) error
}

// ScoreFlagFilter narrows flag listings within an account.
type ScoreFlagFilter struct {
	Status   *domain.FlagStatus
	BoardID  string
	DeviceID string
}

// ScoreFlagRepository persists anti-cheat detections.
type ScoreFlagRepository interface {
	Create(ctx context.Context, flag domain.ScoreFlag) error
	Get(ctx context.Context, flagID string) (*domain.ScoreFlag, error)
	List(ctx context.Context, accountID string, filter ScoreFlagFilter) ([]domain.ScoreFlag, error)
	Update(ctx context.Context, flag domain.ScoreFlag) error
}
