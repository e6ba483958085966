package security

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	uuid "github.com/google/uuid"
)

// ErrSigningSecretMissing indicates the codec was built without a secret.
var ErrSigningSecretMissing = errors.New("jwt: signing secret is required")

// DeviceIdentity is the subject of a device token.
type DeviceIdentity struct {
	DeviceID  string
	GameID    string
	AccountID string
}

// DeviceClaims is the claim set carried by access and refresh tokens. TokenVersion is only
// present on refresh tokens.
type DeviceClaims struct {
	GameID       string `json:"game_id"`
	AccountID    string `json:"account_id"`
	TokenVersion *int   `json:"token_version,omitempty"`
	jwt.RegisteredClaims
}

// Identity returns the device identity embedded in the claims.
func (c DeviceClaims) Identity() DeviceIdentity {
	return DeviceIdentity{DeviceID: c.Subject, GameID: c.GameID, AccountID: c.AccountID}
}

// IssuedToken is a signed token plus the hash stored for session lookups.
type IssuedToken struct {
	Token     string
	Hash      string
	ExpiresAt time.Time
}

// TokenCodec signs and verifies HS256 device tokens.
type TokenCodec struct {
	secret []byte
	now    func() time.Time
}

// NewTokenCodec constructs a codec using secret for both signing and token hashing.
func NewTokenCodec(secret string) (*TokenCodec, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, ErrSigningSecretMissing
	}
	return &TokenCodec{
		secret: []byte(secret),
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

// WithClock overrides the codec clock for deterministic tests.
func (c *TokenCodec) WithClock(now func() time.Time) *TokenCodec {
	if now != nil {
		c.now = now
	}
	return c
}

// IssueAccessToken signs a short-lived token for the device.
func (c *TokenCodec) IssueAccessToken(identity DeviceIdentity, ttl time.Duration) (IssuedToken, error) {
	return c.issue(identity, nil, ttl)
}

// IssueRefreshToken signs a long-lived token carrying the rotation version.
func (c *TokenCodec) IssueRefreshToken(identity DeviceIdentity, version int, ttl time.Duration) (IssuedToken, error) {
	return c.issue(identity, &version, ttl)
}

func (c *TokenCodec) issue(identity DeviceIdentity, version *int, ttl time.Duration) (IssuedToken, error) {
	if ttl <= 0 {
		return IssuedToken{}, fmt.Errorf("jwt: ttl must be positive")
	}
	if identity.DeviceID == "" || identity.GameID == "" || identity.AccountID == "" {
		return IssuedToken{}, fmt.Errorf("jwt: device, game and account are required")
	}

	issuedAt := c.now()
	expiresAt := issuedAt.Add(ttl)
	claims := DeviceClaims{
		GameID:       identity.GameID,
		AccountID:    identity.AccountID,
		TokenVersion: version,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity.DeviceID,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        uuid.NewString(),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return IssuedToken{}, fmt.Errorf("sign token: %w", err)
	}

	return IssuedToken{Token: signed, Hash: c.HashToken(signed), ExpiresAt: expiresAt}, nil
}

// ParseAccessToken verifies an access token. The boolean is false on any failure.
func (c *TokenCodec) ParseAccessToken(token string) (*DeviceClaims, bool) {
	return c.parse(token, false)
}

// ParseRefreshToken verifies a refresh token, which must carry token_version.
func (c *TokenCodec) ParseRefreshToken(token string) (*DeviceClaims, bool) {
	return c.parse(token, true)
}

func (c *TokenCodec) parse(token string, requireVersion bool) (*DeviceClaims, bool) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, false
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(c.now),
	)

	var claims DeviceClaims
	parsed, err := parser.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return c.secret, nil
	})
	if err != nil || parsed == nil || !parsed.Valid {
		return nil, false
	}

	if claims.Subject == "" || claims.GameID == "" || claims.AccountID == "" || claims.ID == "" {
		return nil, false
	}
	if claims.IssuedAt == nil || claims.ExpiresAt == nil {
		return nil, false
	}
	if requireVersion != (claims.TokenVersion != nil) {
		return nil, false
	}

	return &claims, true
}

// HashToken returns the session lookup hash for a token.
func (c *TokenCodec) HashToken(token string) string {
	return HashSecret(token, c.secret)
}
