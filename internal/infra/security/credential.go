package security

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
)

const (
	// APIKeyLiteralPrefix marks every issued API key.
	APIKeyLiteralPrefix = "ldr_"
	// APIKeyPrefixLength is the number of leading characters stored in clear for lookup.
	APIKeyPrefixLength = 14

	apiKeyEntropyBytes = 32
)

// GenerateSecureToken returns a base64 URL-safe random string using the specified number of random bytes.
func GenerateSecureToken(byteLength int) (string, error) {
	if byteLength <= 0 {
		return "", fmt.Errorf("length must be positive")
	}

	buf := make([]byte, byteLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}

	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// GenerateAPIKey returns a new plaintext API key: the literal prefix followed by 256 random bits.
func GenerateAPIKey() (string, error) {
	secret, err := GenerateSecureToken(apiKeyEntropyBytes)
	if err != nil {
		return "", fmt.Errorf("generate api key: %w", err)
	}
	return APIKeyLiteralPrefix + secret, nil
}

// APIKeyPrefix returns the non-secret lookup prefix of a plaintext key.
func APIKeyPrefix(key string) (string, bool) {
	if len(key) < APIKeyPrefixLength || !strings.HasPrefix(key, APIKeyLiteralPrefix) {
		return "", false
	}
	return key[:APIKeyPrefixLength], true
}

// HashSecret computes the hex HMAC-SHA256 of secret keyed by pepper.
func HashSecret(secret string, pepper []byte) string {
	mac := hmac.New(sha256.New, pepper)
	mac.Write([]byte(secret))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySecret recomputes the digest of secret and compares it with digest in constant time.
func VerifySecret(secret, digest string, pepper []byte) bool {
	expected := HashSecret(secret, pepper)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(digest)) == 1
}
