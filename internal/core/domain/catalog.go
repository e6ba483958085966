package domain

import "time"

// Game is owned by the account CRUD layer; only the fields the trust pipeline reads are mapped.
type Game struct {
	ID               string
	AccountID        string
	Name             string
	AntiCheatEnabled bool
}

// Board belongs to a game and an account.
type Board struct {
	ID        string
	AccountID string
	GameID    string
	Name      string
}

// Score is a stored submission.
type Score struct {
	ID           string
	AccountID    string
	GameID       string
	BoardID      string
	DeviceID     string
	PlayerName   string
	Value        float64
	ValueDisplay *string
	Metadata     map[string]any
	CreatedAt    time.Time
}
