package domain

import "time"

// APIKeyStatus captures whether an API key may authenticate.
type APIKeyStatus string

const (
	APIKeyStatusActive  APIKeyStatus = "active"
	APIKeyStatusRevoked APIKeyStatus = "revoked"
)

// Valid reports whether the status is a known API key state.
func (s APIKeyStatus) Valid() bool {
	return s == APIKeyStatusActive || s == APIKeyStatusRevoked
}

// APIKey is an account scoped credential. Only KeyHash is stored; the plaintext is handed out once.
type APIKey struct {
	ID         string
	AccountID  string
	UserID     string
	Name       string
	KeyHash    string
	KeyPrefix  string
	Status     APIKeyStatus
	LastUsedAt *time.Time
	ExpiresAt  *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// IsExpired reports whether the key has an expiry at or before the supplied moment.
func (k APIKey) IsExpired(at time.Time) bool {
	return k.ExpiresAt != nil && !k.ExpiresAt.After(at)
}

// Usable reports whether the key may authenticate at the supplied moment.
func (k APIKey) Usable(at time.Time) bool {
	return k.Status == APIKeyStatusActive && !k.IsExpired(at)
}

// WithStatus returns the key in the supplied status.
func (k APIKey) WithStatus(status APIKeyStatus, at time.Time) APIKey {
	next := k
	if next.Status != status {
		next.Status = status
		next.UpdatedAt = at
	}
	return next
}

// Used returns the key with last-used-at stamped.
func (k APIKey) Used(at time.Time) APIKey {
	next := k
	next.LastUsedAt = copyTime(&at)
	return next
}
