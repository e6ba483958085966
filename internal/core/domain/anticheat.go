package domain

import (
	"errors"
	"time"
)

// TrustTier classifies how verified a device is. It only selects anti-cheat thresholds.
type TrustTier string

const (
	TrustTierA TrustTier = "A"
	TrustTierB TrustTier = "B"
	TrustTierC TrustTier = "C"
)

// Valid reports whether the tier is known.
func (t TrustTier) Valid() bool {
	return t == TrustTierA || t == TrustTierB || t == TrustTierC
}

// FlagAction is the verdict of the anti-cheat engine.
type FlagAction string

const (
	FlagActionAccept FlagAction = "ACCEPT"
	FlagActionFlag   FlagAction = "FLAG"
	FlagActionReject FlagAction = "REJECT"
)

// FlagType names the detection that produced a verdict.
type FlagType string

const (
	FlagTypeRateLimit       FlagType = "RATE_LIMIT"
	FlagTypeDuplicate       FlagType = "DUPLICATE"
	FlagTypeVelocity        FlagType = "VELOCITY"
	FlagTypeOutlier         FlagType = "OUTLIER"
	FlagTypeImpossibleValue FlagType = "IMPOSSIBLE_VALUE"
	FlagTypePattern         FlagType = "PATTERN"
	FlagTypeProgression     FlagType = "PROGRESSION"
	FlagTypeCluster         FlagType = "CLUSTER"
)

// FlagConfidence expresses how certain a detection is.
type FlagConfidence string

const (
	FlagConfidenceLow    FlagConfidence = "LOW"
	FlagConfidenceMedium FlagConfidence = "MEDIUM"
	FlagConfidenceHigh   FlagConfidence = "HIGH"
)

// FlagStatus is the human review state of a recorded flag.
type FlagStatus string

const (
	FlagStatusPending        FlagStatus = "PENDING"
	FlagStatusConfirmedCheat FlagStatus = "CONFIRMED_CHEAT"
	FlagStatusFalsePositive  FlagStatus = "FALSE_POSITIVE"
	FlagStatusDismissed      FlagStatus = "DISMISSED"
)

// Valid reports whether the status is a known review state.
func (s FlagStatus) Valid() bool {
	switch s {
	case FlagStatusPending, FlagStatusConfirmedCheat, FlagStatusFalsePositive, FlagStatusDismissed:
		return true
	}
	return false
}

// ErrInvalidFlagStatus is returned when a review carries an unknown status.
var ErrInvalidFlagStatus = errors.New("invalid flag status")

// AntiCheatResult is an immutable verdict. It is never stored directly.
type AntiCheatResult struct {
	Action     FlagAction
	FlagType   *FlagType
	Confidence *FlagConfidence
	Reason     string
	Metadata   map[string]any
}

// Accept is the verdict for a clean submission.
func Accept() AntiCheatResult {
	return AntiCheatResult{Action: FlagActionAccept}
}

// Detection builds a non-accept verdict.
func Detection(action FlagAction, flagType FlagType, confidence FlagConfidence, reason string, metadata map[string]any) AntiCheatResult {
	return AntiCheatResult{
		Action:     action,
		FlagType:   &flagType,
		Confidence: &confidence,
		Reason:     reason,
		Metadata:   metadata,
	}
}

// IsAccept reports whether the verdict lets the submission through without a flag.
func (r AntiCheatResult) IsAccept() bool { return r.Action == FlagActionAccept }

// IsReject reports whether the submission must not be stored.
func (r AntiCheatResult) IsReject() bool { return r.Action == FlagActionReject }

// ScoreSubmissionMeta is the rolling per device and board submission ledger backing
// rate limiting and duplicate detection.
type ScoreSubmissionMeta struct {
	ID               string
	ScoreID          string
	DeviceID         string
	BoardID          string
	SubmissionCount  int
	LastSubmissionAt time.Time
	LastScoreValue   *float64
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// NewSubmissionMeta opens the ledger on the first stored submission.
func NewSubmissionMeta(id string, score Score, at time.Time) ScoreSubmissionMeta {
	value := score.Value
	return ScoreSubmissionMeta{
		ID:               id,
		ScoreID:          score.ID,
		DeviceID:         score.DeviceID,
		BoardID:          score.BoardID,
		SubmissionCount:  1,
		LastSubmissionAt: at,
		LastScoreValue:   &value,
		CreatedAt:        at,
		UpdatedAt:        at,
	}
}

// Record returns the ledger after another stored submission.
func (m ScoreSubmissionMeta) Record(score Score, at time.Time) ScoreSubmissionMeta {
	value := score.Value
	next := m
	next.ScoreID = score.ID
	next.SubmissionCount = m.SubmissionCount + 1
	next.LastSubmissionAt = at
	next.LastScoreValue = &value
	next.UpdatedAt = at
	return next
}

// ScoreFlag is a recorded detection awaiting or carrying a human review.
// ScoreID is nil for rejected submissions, which are never stored as scores.
type ScoreFlag struct {
	ID               string
	ScoreID          *string
	AccountID        string
	BoardID          string
	DeviceID         string
	FlagType         FlagType
	Confidence       FlagConfidence
	Metadata         map[string]any
	Status           FlagStatus
	ReviewerID       *string
	ReviewerDecision *string
	ReviewedAt       *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// FlagSubject identifies what a detection was raised against.
type FlagSubject struct {
	ScoreID   *string
	AccountID string
	BoardID   string
	DeviceID  string
}

// NewScoreFlag records a non-accept verdict. Accept verdicts carry no flag type and return false.
func NewScoreFlag(id string, subject FlagSubject, result AntiCheatResult, at time.Time) (ScoreFlag, bool) {
	if result.IsAccept() || result.FlagType == nil {
		return ScoreFlag{}, false
	}
	confidence := FlagConfidenceMedium
	if result.Confidence != nil {
		confidence = *result.Confidence
	}
	metadata := result.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	return ScoreFlag{
		ID:         id,
		ScoreID:    copyString(subject.ScoreID),
		AccountID:  subject.AccountID,
		BoardID:    subject.BoardID,
		DeviceID:   subject.DeviceID,
		FlagType:   *result.FlagType,
		Confidence: confidence,
		Metadata:   metadata,
		Status:     FlagStatusPending,
		CreatedAt:  at,
		UpdatedAt:  at,
	}, true
}

// Review returns the flag carrying a reviewer's outcome. Nil decision or reviewer keep the stored values.
func (f ScoreFlag) Review(status FlagStatus, decision, reviewerID *string, at time.Time) (ScoreFlag, error) {
	if !status.Valid() {
		return f, ErrInvalidFlagStatus
	}
	next := f
	next.Status = status
	if decision != nil {
		next.ReviewerDecision = copyString(decision)
	}
	if reviewerID != nil {
		next.ReviewerID = copyString(reviewerID)
	}
	next.ReviewedAt = copyTime(&at)
	next.UpdatedAt = at
	return next, nil
}

// Amend returns the flag with an optional status and decision changed without stamping a review.
func (f ScoreFlag) Amend(status *FlagStatus, decision *string, at time.Time) (ScoreFlag, error) {
	next := f
	if status != nil {
		if !status.Valid() {
			return f, ErrInvalidFlagStatus
		}
		next.Status = *status
	}
	if decision != nil {
		next.ReviewerDecision = copyString(decision)
	}
	next.UpdatedAt = at
	return next, nil
}
