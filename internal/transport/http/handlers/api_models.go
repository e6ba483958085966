package handlers

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/leadrgg/leadr-core/internal/core/domain"
	"github.com/leadrgg/leadr-core/internal/transport/http/middleware"
	"github.com/leadrgg/leadr-core/internal/usecase"
)

// ErrorResponse represents a generic error payload with trace ID for debugging.
type ErrorResponse struct {
	Error   string `json:"error"`
	TraceID string `json:"trace_id,omitempty"`
}

// NewErrorResponse creates an error response with trace ID from context
func NewErrorResponse(c *gin.Context, errorMsg string) ErrorResponse {
	return ErrorResponse{
		Error:   errorMsg,
		TraceID: middleware.GetTraceID(c),
	}
}

// StartSessionRequest identifies a game install asking for tokens.
type StartSessionRequest struct {
	GameID   string         `json:"game_id" binding:"required"`
	DeviceID string         `json:"device_id" binding:"required"`
	Platform *string        `json:"platform"`
	Metadata map[string]any `json:"metadata"`
}

// RefreshTokenRequest represents the payload to rotate a device session.
type RefreshTokenRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

// DeviceResponse is the public view of a device.
type DeviceResponse struct {
	ID          string              `json:"id"`
	GameID      string              `json:"game_id"`
	AccountID   string              `json:"account_id"`
	DeviceID    string              `json:"device_id"`
	Platform    *string             `json:"platform,omitempty"`
	Status      domain.DeviceStatus `json:"status"`
	FirstSeenAt time.Time           `json:"first_seen_at"`
	LastSeenAt  time.Time           `json:"last_seen_at"`
	Metadata    map[string]any      `json:"metadata"`
	CreatedAt   time.Time           `json:"created_at"`
	UpdatedAt   time.Time           `json:"updated_at"`
}

func newDeviceResponse(d domain.Device) DeviceResponse {
	metadata := d.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	return DeviceResponse{
		ID:          d.ID,
		GameID:      d.GameID,
		AccountID:   d.AccountID,
		DeviceID:    d.ClientDeviceID,
		Platform:    d.Platform,
		Status:      d.Status,
		FirstSeenAt: d.FirstSeenAt,
		LastSeenAt:  d.LastSeenAt,
		Metadata:    metadata,
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
	}
}

// StartSessionResponse carries the device and its first token pair.
type StartSessionResponse struct {
	Device           DeviceResponse `json:"device"`
	SessionID        string         `json:"session_id"`
	AccessToken      string         `json:"access_token"`
	RefreshToken     string         `json:"refresh_token"`
	TokenType        string         `json:"token_type"`
	ExpiresIn        int            `json:"expires_in"`
	RefreshExpiresIn int            `json:"refresh_expires_in"`
}

// RefreshTokenResponse carries a rotated token pair.
type RefreshTokenResponse struct {
	AccessToken      string `json:"access_token"`
	RefreshToken     string `json:"refresh_token"`
	TokenType        string `json:"token_type"`
	ExpiresIn        int    `json:"expires_in"`
	RefreshExpiresIn int    `json:"refresh_expires_in"`
}

// NonceResponse hands a single-use nonce to the client.
type NonceResponse struct {
	NonceValue string    `json:"nonce_value"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// DeviceSessionResponse never exposes token hashes.
type DeviceSessionResponse struct {
	ID               string     `json:"id"`
	DeviceID         string     `json:"device_id"`
	AccessExpiresAt  time.Time  `json:"expires_at"`
	RefreshExpiresAt time.Time  `json:"refresh_expires_at"`
	TokenVersion     int        `json:"token_version"`
	IPAddress        *string    `json:"ip_address,omitempty"`
	UserAgent        *string    `json:"user_agent,omitempty"`
	RevokedAt        *time.Time `json:"revoked_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

func newDeviceSessionResponse(s domain.DeviceSession) DeviceSessionResponse {
	return DeviceSessionResponse{
		ID:               s.ID,
		DeviceID:         s.DeviceID,
		AccessExpiresAt:  s.AccessExpiresAt,
		RefreshExpiresAt: s.RefreshExpiresAt,
		TokenVersion:     s.TokenVersion,
		IPAddress:        s.IP,
		UserAgent:        s.UserAgent,
		RevokedAt:        s.RevokedAt,
		CreatedAt:        s.CreatedAt,
		UpdatedAt:        s.UpdatedAt,
	}
}

// SubmitScoreRequest is a score posted by an authenticated device.
type SubmitScoreRequest struct {
	BoardID      string         `json:"board_id" binding:"required"`
	PlayerName   string         `json:"player_name" binding:"required"`
	Value        *float64       `json:"value" binding:"required"`
	ValueDisplay *string        `json:"value_display"`
	Metadata     map[string]any `json:"metadata"`
}

// ScoreResponse is a stored score.
type ScoreResponse struct {
	ID           string         `json:"id"`
	AccountID    string         `json:"account_id"`
	GameID       string         `json:"game_id"`
	BoardID      string         `json:"board_id"`
	DeviceID     string         `json:"device_id"`
	PlayerName   string         `json:"player_name"`
	Value        float64        `json:"value"`
	ValueDisplay *string        `json:"value_display,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

// VerdictResponse is the anti-cheat outcome of a submission.
type VerdictResponse struct {
	Action     domain.FlagAction      `json:"action"`
	FlagType   *domain.FlagType       `json:"flag_type,omitempty"`
	Confidence *domain.FlagConfidence `json:"confidence,omitempty"`
	Reason     string                 `json:"reason,omitempty"`
	Metadata   map[string]any         `json:"metadata,omitempty"`
}

// SubmitScoreResponse is returned for stored scores. Verdict is omitted for unscreened games.
type SubmitScoreResponse struct {
	Score   *ScoreResponse   `json:"score,omitempty"`
	Verdict *VerdictResponse `json:"verdict,omitempty"`
	FlagID  *string          `json:"flag_id,omitempty"`
}

func newSubmitScoreResponse(result usecase.SubmissionResult) SubmitScoreResponse {
	var response SubmitScoreResponse
	if s := result.Score; s != nil {
		response.Score = &ScoreResponse{
			ID:           s.ID,
			AccountID:    s.AccountID,
			GameID:       s.GameID,
			BoardID:      s.BoardID,
			DeviceID:     s.DeviceID,
			PlayerName:   s.PlayerName,
			Value:        s.Value,
			ValueDisplay: s.ValueDisplay,
			Metadata:     s.Metadata,
			CreatedAt:    s.CreatedAt,
		}
	}
	if v := result.Verdict; v != nil {
		response.Verdict = &VerdictResponse{
			Action:     v.Action,
			FlagType:   v.FlagType,
			Confidence: v.Confidence,
			Reason:     v.Reason,
			Metadata:   v.Metadata,
		}
	}
	if result.Flag != nil {
		id := result.Flag.ID
		response.FlagID = &id
	}
	return response
}

// CreateAPIKeyRequest names a new key for the caller's account.
type CreateAPIKeyRequest struct {
	Name      string     `json:"name" binding:"required"`
	ExpiresAt *time.Time `json:"expires_at"`
}

// UpdateAPIKeyRequest changes a key's status.
type UpdateAPIKeyRequest struct {
	Status domain.APIKeyStatus `json:"status" binding:"required"`
}

// APIKeyResponse excludes the hash; the plaintext key is only part of CreateAPIKeyResponse.
type APIKeyResponse struct {
	ID         string              `json:"id"`
	AccountID  string              `json:"account_id"`
	Name       string              `json:"name"`
	Prefix     string              `json:"prefix"`
	Status     domain.APIKeyStatus `json:"status"`
	LastUsedAt *time.Time          `json:"last_used_at,omitempty"`
	ExpiresAt  *time.Time          `json:"expires_at,omitempty"`
	CreatedAt  time.Time           `json:"created_at"`
	UpdatedAt  time.Time           `json:"updated_at"`
}

func newAPIKeyResponse(k domain.APIKey) APIKeyResponse {
	return APIKeyResponse{
		ID:         k.ID,
		AccountID:  k.AccountID,
		Name:       k.Name,
		Prefix:     k.KeyPrefix,
		Status:     k.Status,
		LastUsedAt: k.LastUsedAt,
		ExpiresAt:  k.ExpiresAt,
		CreatedAt:  k.CreatedAt,
		UpdatedAt:  k.UpdatedAt,
	}
}

// CreateAPIKeyResponse is the only response that ever carries the plaintext key.
type CreateAPIKeyResponse struct {
	APIKeyResponse
	Key string `json:"key"`
}

// CountResponse wraps a single count.
type CountResponse struct {
	Count int `json:"count"`
}

// ScoreFlagResponse is a detection with its review state.
type ScoreFlagResponse struct {
	ID               string                `json:"id"`
	ScoreID          *string               `json:"score_id"`
	AccountID        string                `json:"account_id"`
	BoardID          string                `json:"board_id"`
	DeviceID         string                `json:"device_id"`
	FlagType         domain.FlagType       `json:"flag_type"`
	Confidence       domain.FlagConfidence `json:"confidence"`
	Metadata         map[string]any        `json:"metadata"`
	Status           domain.FlagStatus     `json:"status"`
	ReviewerID       *string               `json:"reviewer_id,omitempty"`
	ReviewerDecision *string               `json:"reviewer_decision,omitempty"`
	ReviewedAt       *time.Time            `json:"reviewed_at,omitempty"`
	CreatedAt        time.Time             `json:"created_at"`
	UpdatedAt        time.Time             `json:"updated_at"`
}

func newScoreFlagResponse(f domain.ScoreFlag) ScoreFlagResponse {
	return ScoreFlagResponse{
		ID:               f.ID,
		ScoreID:          f.ScoreID,
		AccountID:        f.AccountID,
		BoardID:          f.BoardID,
		DeviceID:         f.DeviceID,
		FlagType:         f.FlagType,
		Confidence:       f.Confidence,
		Metadata:         f.Metadata,
		Status:           f.Status,
		ReviewerID:       f.ReviewerID,
		ReviewerDecision: f.ReviewerDecision,
		ReviewedAt:       f.ReviewedAt,
		CreatedAt:        f.CreatedAt,
		UpdatedAt:        f.UpdatedAt,
	}
}

// UpdateScoreFlagRequest amends a flag without stamping a review.
type UpdateScoreFlagRequest struct {
	Status           *domain.FlagStatus `json:"status"`
	ReviewerDecision *string            `json:"reviewer_decision"`
}

// ReviewScoreFlagRequest records a moderator decision.
type ReviewScoreFlagRequest struct {
	Status           domain.FlagStatus `json:"status" binding:"required"`
	ReviewerDecision *string           `json:"reviewer_decision"`
}

// SubmissionMetaResponse is the per device and board submission ledger.
type SubmissionMetaResponse struct {
	ID               string    `json:"id"`
	ScoreID          string    `json:"score_id"`
	DeviceID         string    `json:"device_id"`
	BoardID          string    `json:"board_id"`
	SubmissionCount  int       `json:"submission_count"`
	LastSubmissionAt time.Time `json:"last_submission_at"`
	LastScoreValue   *float64  `json:"last_score_value,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

func newSubmissionMetaResponse(m domain.ScoreSubmissionMeta) SubmissionMetaResponse {
	return SubmissionMetaResponse{
		ID:               m.ID,
		ScoreID:          m.ScoreID,
		DeviceID:         m.DeviceID,
		BoardID:          m.BoardID,
		SubmissionCount:  m.SubmissionCount,
		LastSubmissionAt: m.LastSubmissionAt,
		LastScoreValue:   m.LastScoreValue,
		CreatedAt:        m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
	}
}

// ListResponse wraps collection endpoints.
type ListResponse[T any] struct {
	Items []T `json:"items"`
	Total int `json:"total"`
}

func newListResponse[S any, T any](items []S, convert func(S) T) ListResponse[T] {
	out := make([]T, 0, len(items))
	for _, item := range items {
		out = append(out, convert(item))
	}
	return ListResponse[T]{Items: out, Total: len(out)}
}

// HealthResponse is returned by the liveness probe.
type HealthResponse struct {
	Status    string    `json:"status"`
	StartedAt time.Time `json:"started_at"`
}

// ReadinessResponse reports the state of each dependency.
type ReadinessResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}
