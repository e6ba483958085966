package domain

import (
	"errors"
	"time"
)

// NonceStatus tracks the single-use lifecycle of a nonce.
type NonceStatus string

const (
	NonceStatusPending NonceStatus = "pending"
	NonceStatusUsed    NonceStatus = "used"
	NonceStatusExpired NonceStatus = "expired"
)

var (
	// ErrNonceDeviceMismatch indicates the nonce was issued to another device.
	ErrNonceDeviceMismatch = errors.New("nonce does not belong to device")
	// ErrNonceUsed indicates the nonce was already consumed.
	ErrNonceUsed = errors.New("nonce already used")
	// ErrNonceExpired indicates the nonce outlived its TTL.
	ErrNonceExpired = errors.New("nonce expired")
)

// Nonce is a single-use anti-replay token bound to a device.
type Nonce struct {
	ID        string
	DeviceID  string
	Value     string
	ExpiresAt time.Time
	UsedAt    *time.Time
	Status    NonceStatus
	CreatedAt time.Time
}

// NewNonce issues a pending nonce valid for ttl.
func NewNonce(id, deviceID, value string, ttl time.Duration, at time.Time) Nonce {
	return Nonce{
		ID:        id,
		DeviceID:  deviceID,
		Value:     value,
		ExpiresAt: at.Add(ttl),
		Status:    NonceStatusPending,
		CreatedAt: at,
	}
}

// IsExpired reports whether the nonce is at or past its expiry.
func (n Nonce) IsExpired(at time.Time) bool {
	return !at.Before(n.ExpiresAt)
}

// Consume validates the nonce for deviceID and returns it in the used state.
// Device ownership is checked first so a foreign nonce never leaks its state.
func (n Nonce) Consume(deviceID string, at time.Time) (Nonce, error) {
	if n.DeviceID != deviceID {
		return n, ErrNonceDeviceMismatch
	}
	switch n.Status {
	case NonceStatusUsed:
		return n, ErrNonceUsed
	case NonceStatusExpired:
		return n, ErrNonceExpired
	}
	if n.IsExpired(at) {
		return n, ErrNonceExpired
	}

	next := n
	next.Status = NonceStatusUsed
	next.UsedAt = copyTime(&at)
	return next, nil
}
