package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/leadrgg/leadr-core/internal/core/domain"
	"github.com/leadrgg/leadr-core/internal/usecase"
)

const (
	// APIKeyHeader carries the account API key on admin requests.
	APIKeyHeader = "leadr-api-key"
	// NonceHeader carries the single-use nonce on mutating client requests.
	NonceHeader = "leadr-client-nonce"

	// DeviceKey is the context key for the authenticated device.
	DeviceKey = "device"
	// APIKeyKey is the context key for the authenticated API key.
	APIKeyKey = "api_key"

	unauthenticatedMessage  = "unauthenticated"
	nonceRequiredMessage    = "a fresh nonce is required; request one and retry"
	authUnavailableMessage  = "authentication failed"
	nonceUnavailableMessage = "nonce verification failed"
)

// DeviceAuthenticator resolves the device behind an access token.
type DeviceAuthenticator interface {
	ValidateAccessToken(ctx context.Context, token string) (*domain.Device, error)
}

// NonceConsumer burns a device bound nonce.
type NonceConsumer interface {
	Consume(ctx context.Context, value, deviceID string) error
}

// APIKeyAuthenticator resolves the key behind a plaintext API key.
type APIKeyAuthenticator interface {
	Authenticate(ctx context.Context, plaintext string) (*domain.APIKey, error)
}

// ErrorResponse matches the handlers.ErrorResponse structure
type ErrorResponse struct {
	Error   string `json:"error"`
	TraceID string `json:"trace_id,omitempty"`
}

func newErrorResponse(c *gin.Context, errorMsg string) ErrorResponse {
	return ErrorResponse{
		Error:   errorMsg,
		TraceID: GetTraceID(c),
	}
}

// RequireDevice validates the bearer access token. Every credential failure is reported as the
// same 401 so callers cannot tell an expired token from a banned device.
func RequireDevice(auth DeviceAuthenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, newErrorResponse(c, unauthenticatedMessage))
			return
		}

		device, err := auth.ValidateAccessToken(c.Request.Context(), token)
		if err != nil {
			if errors.Is(err, usecase.ErrUnauthenticated) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, newErrorResponse(c, unauthenticatedMessage))
				return
			}
			_ = c.Error(err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, newErrorResponse(c, authUnavailableMessage))
			return
		}

		c.Set(DeviceKey, device)
		c.Next()
	}
}

// RequireNonce consumes the leadr-client-nonce header for the authenticated device. It must run
// after RequireDevice.
func RequireNonce(nonces NonceConsumer) gin.HandlerFunc {
	return func(c *gin.Context) {
		device, ok := GetDevice(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, newErrorResponse(c, unauthenticatedMessage))
			return
		}

		value := strings.TrimSpace(c.GetHeader(NonceHeader))
		if value == "" {
			c.AbortWithStatusJSON(http.StatusPreconditionFailed, newErrorResponse(c, nonceRequiredMessage))
			return
		}

		if err := nonces.Consume(c.Request.Context(), value, device.ID); err != nil {
			if errors.Is(err, usecase.ErrNoncePrecondition) {
				c.AbortWithStatusJSON(http.StatusPreconditionFailed, newErrorResponse(c, nonceRequiredMessage))
				return
			}
			_ = c.Error(err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, newErrorResponse(c, nonceUnavailableMessage))
			return
		}

		c.Next()
	}
}

// RequireAPIKey authenticates admin requests through the leadr-api-key header.
func RequireAPIKey(auth APIKeyAuthenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		plaintext := strings.TrimSpace(c.GetHeader(APIKeyHeader))
		if plaintext == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, newErrorResponse(c, unauthenticatedMessage))
			return
		}

		key, err := auth.Authenticate(c.Request.Context(), plaintext)
		if err != nil {
			if errors.Is(err, usecase.ErrUnauthenticated) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, newErrorResponse(c, unauthenticatedMessage))
				return
			}
			_ = c.Error(err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, newErrorResponse(c, authUnavailableMessage))
			return
		}

		c.Set(APIKeyKey, key)
		c.Next()
	}
}

func bearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// GetDevice returns the device stored by RequireDevice.
func GetDevice(c *gin.Context) (*domain.Device, bool) {
	value, exists := c.Get(DeviceKey)
	if !exists {
		return nil, false
	}
	device, ok := value.(*domain.Device)
	return device, ok && device != nil
}

// GetAPIKey returns the key stored by RequireAPIKey.
func GetAPIKey(c *gin.Context) (*domain.APIKey, bool) {
	value, exists := c.Get(APIKeyKey)
	if !exists {
		return nil, false
	}
	key, ok := value.(*domain.APIKey)
	return key, ok && key != nil
}
