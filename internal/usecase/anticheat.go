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

// Policy holds the anti-cheat thresholds.
type Policy struct {
	TierLimits        map[domain.TrustTier]int
	RateLimitWindow   time.Duration
	DuplicateWindow   time.Duration
	VelocityThreshold time.Duration
}

// DefaultPolicy returns the stock thresholds. Velocity detection is off.
func DefaultPolicy() Policy {
	return Policy{
		TierLimits: map[domain.TrustTier]int{
			domain.TrustTierA: 100,
			domain.TrustTierB: 50,
			domain.TrustTierC: 20,
		},
		RateLimitWindow: time.Hour,
		DuplicateWindow: 30 * time.Second,
	}
}

// Candidate is a score about to be stored.
type Candidate struct {
	DeviceID string
	BoardID  string
	Value    float64
}

// Evaluate screens a candidate against the device's ledger for the board. meta is nil for the
// first submission. Checks run in order and stop at the first non-accept verdict.
//
// The rate limit window is anchored to the last stored submission rather than a rolling log:
// a device submitting just under once per window never sees its count age out.
func Evaluate(policy Policy, candidate Candidate, tier domain.TrustTier, meta *domain.ScoreSubmissionMeta, now time.Time) domain.AntiCheatResult {
	if meta == nil {
		return domain.Accept()
	}
	if result := checkRateLimit(policy, tier, *meta, now); !result.IsAccept() {
		return result
	}
	if result := checkDuplicate(policy, candidate, *meta, now); !result.IsAccept() {
		return result
	}
	return checkVelocity(policy, *meta, now)
}

// RateLimited reports whether a ledger with count submissions, the last at lastAt, has reached
// limit inside window.
func RateLimited(limit, count int, lastAt time.Time, window time.Duration, now time.Time) bool {
	if lastAt.Before(now.Add(-window)) {
		return false
	}
	return count >= limit
}

func checkRateLimit(policy Policy, tier domain.TrustTier, meta domain.ScoreSubmissionMeta, now time.Time) domain.AntiCheatResult {
	limit := policy.TierLimits[tier]
	if !RateLimited(limit, meta.SubmissionCount, meta.LastSubmissionAt, policy.RateLimitWindow, now) {
		return domain.Accept()
	}
	return domain.Detection(
		domain.FlagActionReject,
		domain.FlagTypeRateLimit,
		domain.FlagConfidenceHigh,
		fmt.Sprintf("Device exceeded rate limit of %d submissions per %s for this board", limit, policy.RateLimitWindow),
		map[string]any{
			"limit":             limit,
			"submissions_count": meta.SubmissionCount,
			"trust_tier":        string(tier),
			"window_start":      meta.LastSubmissionAt.UTC().Format(time.RFC3339Nano),
		},
	)
}

func checkDuplicate(policy Policy, candidate Candidate, meta domain.ScoreSubmissionMeta, now time.Time) domain.AntiCheatResult {
	if meta.LastScoreValue == nil || *meta.LastScoreValue != candidate.Value {
		return domain.Accept()
	}
	if meta.LastSubmissionAt.Before(now.Add(-policy.DuplicateWindow)) {
		return domain.Accept()
	}
	windowSeconds := int(policy.DuplicateWindow.Seconds())
	return domain.Detection(
		domain.FlagActionFlag,
		domain.FlagTypeDuplicate,
		domain.FlagConfidenceMedium,
		fmt.Sprintf("Duplicate score value (%v) submitted within %d seconds", candidate.Value, windowSeconds),
		map[string]any{
			"score_value":            candidate.Value,
			"previous_submission_at": meta.LastSubmissionAt.UTC().Format(time.RFC3339Nano),
			"window_seconds":         windowSeconds,
		},
	)
}

func checkVelocity(policy Policy, meta domain.ScoreSubmissionMeta, now time.Time) domain.AntiCheatResult {
	if policy.VelocityThreshold <= 0 {
		return domain.Accept()
	}
	sinceLast := now.Sub(meta.LastSubmissionAt)
	if sinceLast >= policy.VelocityThreshold {
		return domain.Accept()
	}
	return domain.Detection(
		domain.FlagActionFlag,
		domain.FlagTypeVelocity,
		domain.FlagConfidenceHigh,
		fmt.Sprintf("Rapid-fire submission detected: %.2fs between submissions (threshold: %.0fs)",
			sinceLast.Seconds(), policy.VelocityThreshold.Seconds()),
		map[string]any{
			"time_since_last_submission": sinceLast.Seconds(),
			"velocity_threshold":         policy.VelocityThreshold.Seconds(),
			"last_submission_at":         meta.LastSubmissionAt.UTC().Format(time.RFC3339Nano),
		},
	)
}

// AntiCheatService screens submissions and exposes the submission ledger.
type AntiCheatService struct {
	meta    port.SubmissionMetaRepository
	boards  port.BoardReader
	metrics port.TrustMetrics
	logger  *zap.Logger
	policy  Policy
	now     func() time.Time
}

// NewAntiCheatService constructs the engine. Missing tier limits fall back to DefaultPolicy.
func NewAntiCheatService(meta port.SubmissionMetaRepository, boards port.BoardReader, policy Policy, logger *zap.Logger) *AntiCheatService {
	if logger == nil {
		logger = zap.NewNop()
	}
	defaults := DefaultPolicy()
	if policy.TierLimits == nil {
		policy.TierLimits = defaults.TierLimits
	}
	if policy.RateLimitWindow <= 0 {
		policy.RateLimitWindow = defaults.RateLimitWindow
	}
	if policy.DuplicateWindow <= 0 {
		policy.DuplicateWindow = defaults.DuplicateWindow
	}
	return &AntiCheatService{
		meta:   meta,
		boards: boards,
		logger: logger,
		policy: policy,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the service clock (useful for tests).
func (s *AntiCheatService) WithClock(clock func() time.Time) *AntiCheatService {
	if clock != nil {
		s.now = clock
	}
	return s
}

// WithMetrics attaches verdict counters.
func (s *AntiCheatService) WithMetrics(metrics port.TrustMetrics) *AntiCheatService {
	s.metrics = metrics
	return s
}

// CheckSubmission loads the ledger for the candidate and returns the verdict. The ledger is
// never modified here.
func (s *AntiCheatService) CheckSubmission(ctx context.Context, candidate Candidate, tier domain.TrustTier) (domain.AntiCheatResult, error) {
	if !tier.Valid() {
		return domain.AntiCheatResult{}, fmt.Errorf("%w: unknown trust tier %q", ErrValidation, tier)
	}

	var meta *domain.ScoreSubmissionMeta
	found, err := s.meta.GetByDeviceAndBoard(ctx, candidate.DeviceID, candidate.BoardID)
	switch {
	case err == nil:
		meta = found
	case !errors.Is(err, repository.ErrNotFound):
		return domain.AntiCheatResult{}, fmt.Errorf("get submission metadata: %w", err)
	}

	result := Evaluate(s.policy, candidate, tier, meta, s.now())
	s.observe(result)
	if !result.IsAccept() {
		s.logger.Info("Submission screened",
			zap.String("action", string(result.Action)),
			zap.String("flag_type", string(*result.FlagType)),
			zap.String("device_id", candidate.DeviceID),
			zap.String("board_id", candidate.BoardID),
			zap.String("trust_tier", string(tier)),
		)
	}
	return result, nil
}

// GetSubmissionMeta returns a ledger row whose board belongs to accountID.
func (s *AntiCheatService) GetSubmissionMeta(ctx context.Context, accountID, metaID string) (*domain.ScoreSubmissionMeta, error) {
	meta, err := s.meta.Get(ctx, metaID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrSubmissionMetaNotFound
		}
		return nil, fmt.Errorf("get submission metadata: %w", err)
	}

	board, err := s.boards.Get(ctx, meta.BoardID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrSubmissionMetaNotFound
		}
		return nil, fmt.Errorf("get board: %w", err)
	}
	if board.AccountID != accountID {
		return nil, ErrSubmissionMetaNotFound
	}
	return meta, nil
}

// ListSubmissionMeta returns the account's ledger rows, optionally narrowed to a device or board.
func (s *AntiCheatService) ListSubmissionMeta(ctx context.Context, filter port.SubmissionMetaFilter) ([]domain.ScoreSubmissionMeta, error) {
	if filter.AccountID == "" {
		return nil, fmt.Errorf("%w: account id is required", ErrValidation)
	}
	rows, err := s.meta.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list submission metadata: %w", err)
	}
	return rows, nil
}

func (s *AntiCheatService) observe(result domain.AntiCheatResult) {
	if s.metrics == nil {
		return
	}
	flagType := ""
	if result.FlagType != nil {
		flagType = string(*result.FlagType)
	}
	s.metrics.ObserveVerdict(string(result.Action), flagType)
}
