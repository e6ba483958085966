package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/leadrgg/leadr-core/internal/core/domain"
	"github.com/leadrgg/leadr-core/internal/core/port"
	"github.com/leadrgg/leadr-core/internal/repository"
)

// ReviewInput is a moderator's outcome for a flag.
type ReviewInput struct {
	Status     domain.FlagStatus
	Decision   *string
	ReviewerID *string
}

// ScoreFlagService lists and reviews anti-cheat detections.
type ScoreFlagService struct {
	flags  port.ScoreFlagRepository
	logger *zap.Logger
	now    func() time.Time
}

// NewScoreFlagService constructs the review service.
func NewScoreFlagService(flags port.ScoreFlagRepository, logger *zap.Logger) *ScoreFlagService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ScoreFlagService{
		flags:  flags,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the service clock (useful for tests).
func (s *ScoreFlagService) WithClock(clock func() time.Time) *ScoreFlagService {
	if clock != nil {
		s.now = clock
	}
	return s
}

// List returns the account's flags, newest first.
func (s *ScoreFlagService) List(ctx context.Context, accountID string, filter port.ScoreFlagFilter) ([]domain.ScoreFlag, error) {
	if filter.Status != nil && !filter.Status.Valid() {
		return nil, ErrInvalidStatus
	}
	flags, err := s.flags.List(ctx, accountID, filter)
	if err != nil {
		return nil, fmt.Errorf("list score flags: %w", err)
	}
	return flags, nil
}

// Get returns a flag owned by accountID.
func (s *ScoreFlagService) Get(ctx context.Context, accountID, flagID string) (*domain.ScoreFlag, error) {
	flag, err := s.flags.Get(ctx, flagID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrFlagNotFound
		}
		return nil, fmt.Errorf("get score flag: %w", err)
	}
	if flag.AccountID != accountID {
		return nil, ErrFlagNotFound
	}
	return flag, nil
}

// Review records a moderator outcome and stamps the review time.
func (s *ScoreFlagService) Review(ctx context.Context, accountID, flagID string, input ReviewInput) (*domain.ScoreFlag, error) {
	flag, err := s.Get(ctx, accountID, flagID)
	if err != nil {
		return nil, err
	}

	reviewed, err := flag.Review(input.Status, input.Decision, input.ReviewerID, s.now())
	if err != nil {
		return nil, ErrInvalidStatus
	}
	if err := s.save(ctx, reviewed); err != nil {
		return nil, err
	}

	s.logger.Info("Score flag reviewed",
		zap.String("flag_id", reviewed.ID),
		zap.String("status", string(reviewed.Status)),
	)
	return &reviewed, nil
}

// Update amends status or decision without stamping a review.
func (s *ScoreFlagService) Update(ctx context.Context, accountID, flagID string, status *domain.FlagStatus, decision *string) (*domain.ScoreFlag, error) {
	flag, err := s.Get(ctx, accountID, flagID)
	if err != nil {
		return nil, err
	}

	amended, err := flag.Amend(status, decision, s.now())
	if err != nil {
		return nil, ErrInvalidStatus
	}
	if err := s.save(ctx, amended); err != nil {
		return nil, err
	}
	return &amended, nil
}

func (s *ScoreFlagService) save(ctx context.Context, flag domain.ScoreFlag) error {
	if err := s.flags.Update(ctx, flag); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrFlagNotFound
		}
		return fmt.Errorf("update score flag: %w", err)
	}
	return nil
}
