package usecase

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/leadrgg/leadr-core/internal/core/domain"
	"github.com/leadrgg/leadr-core/internal/core/port"
	"github.com/leadrgg/leadr-core/internal/repository"
)

// SubmitInput is a score submitted by an authenticated device.
type SubmitInput struct {
	AccountID    string
	GameID       string
	BoardID      string
	DeviceID     string
	PlayerName   string
	Value        float64
	ValueDisplay *string
	Metadata     map[string]any
	TrustTier    domain.TrustTier
}

// SubmissionResult reports the outcome of a submission. Score is nil when the verdict rejected it.
// Verdict is nil when the game has anti-cheat disabled.
type SubmissionResult struct {
	Score   *domain.Score
	Verdict *domain.AntiCheatResult
	Flag    *domain.ScoreFlag
}

// Rejected reports whether the submission was refused and nothing was stored.
func (r SubmissionResult) Rejected() bool {
	return r.Verdict != nil && r.Verdict.IsReject()
}

// SubmissionService screens and stores score submissions.
type SubmissionService struct {
	boards    port.BoardReader
	games     port.GameReader
	writes    port.SubmissionTransactor
	antiCheat *AntiCheatService
	events    port.EventPublisher
	logger    *zap.Logger

	defaultTier domain.TrustTier
	now         func() time.Time
}

// NewSubmissionService wires the orchestrator. Scores, ledger rows and flags are written through
// writes so a submission is stored completely or not at all.
func NewSubmissionService(
	boards port.BoardReader,
	games port.GameReader,
	writes port.SubmissionTransactor,
	antiCheat *AntiCheatService,
	events port.EventPublisher,
	logger *zap.Logger,
) *SubmissionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SubmissionService{
		boards:      boards,
		games:       games,
		writes:      writes,
		antiCheat:   antiCheat,
		events:      events,
		logger:      logger,
		defaultTier: domain.TrustTierB,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the service clock (useful for tests).
func (s *SubmissionService) WithClock(clock func() time.Time) *SubmissionService {
	if clock != nil {
		s.now = clock
	}
	return s
}

// WithDefaultTrustTier sets the tier applied when the caller supplies none.
func (s *SubmissionService) WithDefaultTrustTier(tier domain.TrustTier) *SubmissionService {
	if tier.Valid() {
		s.defaultTier = tier
	}
	return s
}

// Submit validates board ownership, screens the submission when the game enables anti-cheat and
// stores accepted or flagged scores. A rejection is returned as data with no score stored.
func (s *SubmissionService) Submit(ctx context.Context, input SubmitInput) (_ *SubmissionResult, err error) {
	ctx, span := tracer.Start(ctx, "SubmissionService.Submit", trace.WithAttributes(
		attribute.String("leadr.board_id", input.BoardID),
		attribute.String("leadr.device_id", input.DeviceID),
	))
	defer func() { endSpan(span, err) }()

	input.PlayerName = strings.TrimSpace(input.PlayerName)
	if input.BoardID == "" || input.DeviceID == "" || input.PlayerName == "" {
		return nil, fmt.Errorf("%w: board, device and player name are required", ErrValidation)
	}
	if math.IsNaN(input.Value) || math.IsInf(input.Value, 0) {
		return nil, fmt.Errorf("%w: score value must be finite", ErrValidation)
	}

	board, err := s.boards.Get(ctx, input.BoardID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrBoardNotFound
		}
		return nil, fmt.Errorf("get board: %w", err)
	}
	if board.AccountID != input.AccountID || board.GameID != input.GameID {
		return nil, ErrBoardMismatch
	}

	game, err := s.games.Get(ctx, input.GameID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrGameNotFound
		}
		return nil, fmt.Errorf("get game: %w", err)
	}

	tier := input.TrustTier
	if tier == "" {
		tier = s.defaultTier
	}

	result := &SubmissionResult{}
	if game.AntiCheatEnabled {
		verdict, err := s.antiCheat.CheckSubmission(ctx, Candidate{
			DeviceID: input.DeviceID,
			BoardID:  input.BoardID,
			Value:    input.Value,
		}, tier)
		if err != nil {
			return nil, err
		}
		result.Verdict = &verdict
		span.SetAttributes(attribute.String("leadr.verdict", string(verdict.Action)))

		if verdict.IsReject() {
			flag, ok := s.newFlag(nil, input, verdict)
			if !ok {
				return result, nil
			}
			err := s.writes.RunInTx(ctx, func(ctx context.Context, w port.SubmissionWriters) error {
				return w.Flags.Create(ctx, flag)
			})
			if err != nil {
				return nil, fmt.Errorf("record rejection flag: %w", err)
			}
			result.Flag = &flag
			s.publishScreened(ctx, flag, verdict)
			return result, nil
		}
	}

	now := s.now()
	score := domain.Score{
		ID:           uuid.NewString(),
		AccountID:    input.AccountID,
		GameID:       input.GameID,
		BoardID:      input.BoardID,
		DeviceID:     input.DeviceID,
		PlayerName:   input.PlayerName,
		Value:        input.Value,
		ValueDisplay: input.ValueDisplay,
		Metadata:     input.Metadata,
		CreatedAt:    now,
	}
	if score.Metadata == nil {
		score.Metadata = map[string]any{}
	}

	var flag *domain.ScoreFlag
	if result.Verdict != nil && result.Verdict.Action == domain.FlagActionFlag {
		if f, ok := s.newFlag(&score.ID, input, *result.Verdict); ok {
			flag = &f
		}
	}

	if err := s.store(ctx, score, result.Verdict != nil, flag, now); err != nil {
		return nil, err
	}
	result.Score = &score
	result.Flag = flag

	if flag != nil {
		s.publishScreened(ctx, *flag, *result.Verdict)
	}
	return result, nil
}

// store writes the score, its ledger entry and its flag in one transaction. A concurrent first
// submission for the same device and board wins the ledger's unique index and aborts this
// transaction; the retry records onto the winner's row.
func (s *SubmissionService) store(ctx context.Context, score domain.Score, screened bool, flag *domain.ScoreFlag, at time.Time) error {
	write := func(ctx context.Context, w port.SubmissionWriters) error {
		if err := w.Scores.Create(ctx, score); err != nil {
			return fmt.Errorf("create score: %w", err)
		}
		if !screened {
			return nil
		}
		if err := recordSubmission(ctx, w.Meta, score, at); err != nil {
			return err
		}
		if flag != nil {
			if err := w.Flags.Create(ctx, *flag); err != nil {
				return fmt.Errorf("create score flag: %w", err)
			}
		}
		return nil
	}

	err := s.writes.RunInTx(ctx, write)
	if errors.Is(err, repository.ErrConflict) {
		err = s.writes.RunInTx(ctx, write)
	}
	return err
}

func recordSubmission(ctx context.Context, meta port.SubmissionMetaRepository, score domain.Score, at time.Time) error {
	existing, err := meta.GetByDeviceAndBoard(ctx, score.DeviceID, score.BoardID)
	switch {
	case err == nil:
		if err := meta.Update(ctx, existing.Record(score, at)); err != nil {
			return fmt.Errorf("update submission metadata: %w", err)
		}
		return nil
	case !errors.Is(err, repository.ErrNotFound):
		return fmt.Errorf("get submission metadata: %w", err)
	}

	if err := meta.Create(ctx, domain.NewSubmissionMeta(uuid.NewString(), score, at)); err != nil {
		return fmt.Errorf("create submission metadata: %w", err)
	}
	return nil
}

func (s *SubmissionService) newFlag(scoreID *string, input SubmitInput, verdict domain.AntiCheatResult) (domain.ScoreFlag, bool) {
	return domain.NewScoreFlag(uuid.NewString(), domain.FlagSubject{
		ScoreID:   scoreID,
		AccountID: input.AccountID,
		BoardID:   input.BoardID,
		DeviceID:  input.DeviceID,
	}, verdict, s.now())
}

func (s *SubmissionService) publishScreened(ctx context.Context, flag domain.ScoreFlag, verdict domain.AntiCheatResult) {
	if s.events == nil {
		return
	}
	event := domain.ScoreScreenedEvent{
		EventID:    uuid.NewString(),
		FlagID:     flag.ID,
		ScoreID:    flag.ScoreID,
		AccountID:  flag.AccountID,
		BoardID:    flag.BoardID,
		DeviceID:   flag.DeviceID,
		Action:     verdict.Action,
		FlagType:   flag.FlagType,
		Confidence: flag.Confidence,
		Reason:     verdict.Reason,
		Metadata:   flag.Metadata,
		ScreenedAt: flag.CreatedAt,
	}
	if err := s.events.PublishScoreScreened(ctx, event); err != nil {
		s.logger.Warn("Failed to publish score screened event", zap.String("flag_id", flag.ID), zap.Error(err))
	}
}
