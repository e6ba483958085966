package domain

import "time"

// DeviceSessionStartedEvent represents the payload for leadr.device.session.started messages.
type DeviceSessionStartedEvent struct {
	EventID       string
	SessionID     string
	DeviceID      string
	GameID        string
	AccountID     string
	DeviceCreated bool
	Platform      *string
	StartedAt     time.Time
	IPAddress     *string
}

// DeviceSessionRotatedEvent represents the payload for leadr.device.session.rotated messages.
type DeviceSessionRotatedEvent struct {
	EventID      string
	SessionID    string
	DeviceID     string
	AccountID    string
	TokenVersion int
	RotatedAt    time.Time
}

// DeviceSessionRevokedEvent represents the payload for leadr.device.session.revoked messages.
type DeviceSessionRevokedEvent struct {
	EventID   string
	SessionID string
	DeviceID  string
	AccountID string
	RevokedAt time.Time
	RevokedBy string
}

// DeviceStatusChangedEvent represents the payload for leadr.device.status.changed messages.
type DeviceStatusChangedEvent struct {
	EventID        string
	DeviceID       string
	GameID         string
	AccountID      string
	PreviousStatus DeviceStatus
	Status         DeviceStatus
	ChangedAt      time.Time
	ChangedBy      string
}

// ScoreScreenedEvent represents leadr.score.flagged and leadr.score.rejected messages.
type ScoreScreenedEvent struct {
	EventID    string
	FlagID     string
	ScoreID    *string
	AccountID  string
	BoardID    string
	DeviceID   string
	Action     FlagAction
	FlagType   FlagType
	Confidence FlagConfidence
	Reason     string
	Metadata   map[string]any
	ScreenedAt time.Time
}

// APIKeyRevokedEvent represents the payload for leadr.api_key.revoked messages.
type APIKeyRevokedEvent struct {
	EventID   string
	KeyID     string
	AccountID string
	KeyPrefix string
	RevokedAt time.Time
}
