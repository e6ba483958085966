package domain

import "time"

// InitialTokenVersion is the rotation version carried by the first refresh token of a session.
const InitialTokenVersion = 1

// DeviceSession is one issued access/refresh pair. Rotation replaces the hashes in place and
// bumps TokenVersion; only the refresh token carrying the current version may rotate again.
type DeviceSession struct {
	ID               string
	DeviceID         string
	AccessTokenHash  string
	RefreshTokenHash string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
	TokenVersion     int
	IP               *string
	UserAgent        *string
	CreatedAt        time.Time
	UpdatedAt        time.Time
	RevokedAt        *time.Time
}

// TokenPairHashes carries the storage side of a newly issued token pair.
type TokenPairHashes struct {
	AccessTokenHash  string
	RefreshTokenHash string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// NewDeviceSession opens a session at the initial rotation version.
func NewDeviceSession(id, deviceID string, pair TokenPairHashes, ip, userAgent *string, at time.Time) DeviceSession {
	return DeviceSession{
		ID:               id,
		DeviceID:         deviceID,
		AccessTokenHash:  pair.AccessTokenHash,
		RefreshTokenHash: pair.RefreshTokenHash,
		AccessExpiresAt:  pair.AccessExpiresAt,
		RefreshExpiresAt: pair.RefreshExpiresAt,
		TokenVersion:     InitialTokenVersion,
		IP:               copyString(ip),
		UserAgent:        copyString(userAgent),
		CreatedAt:        at,
		UpdatedAt:        at,
	}
}

// IsRevoked reports whether the session was terminated explicitly.
func (s DeviceSession) IsRevoked() bool {
	return s.RevokedAt != nil
}

// AccessValid reports whether the access token of this session is still usable at the supplied moment.
func (s DeviceSession) AccessValid(at time.Time) bool {
	return !s.IsRevoked() && s.AccessExpiresAt.After(at)
}

// CanRotate reports whether a refresh token carrying version may rotate the session.
func (s DeviceSession) CanRotate(version int, at time.Time) bool {
	if s.IsRevoked() || !s.RefreshExpiresAt.After(at) {
		return false
	}
	return version == s.TokenVersion
}

// Rotate returns the session carrying the new pair at the next version.
func (s DeviceSession) Rotate(pair TokenPairHashes, at time.Time) DeviceSession {
	next := s
	next.AccessTokenHash = pair.AccessTokenHash
	next.RefreshTokenHash = pair.RefreshTokenHash
	next.AccessExpiresAt = pair.AccessExpiresAt
	next.RefreshExpiresAt = pair.RefreshExpiresAt
	next.TokenVersion = s.TokenVersion + 1
	next.UpdatedAt = at
	return next
}

// Revoke returns the session in its terminal state. The boolean is false when it was already revoked.
func (s DeviceSession) Revoke(at time.Time) (DeviceSession, bool) {
	if s.IsRevoked() {
		return s, false
	}
	next := s
	next.RevokedAt = copyTime(&at)
	next.UpdatedAt = at
	return next, true
}
