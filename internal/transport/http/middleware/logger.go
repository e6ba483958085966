package middleware

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	appLogger "github.com/leadrgg/leadr-core/internal/infra/logger"
)

// Logger writes one access log line per request. Client IPs are masked, and the caller's device
// or API key prefix is attached once the auth middleware has resolved it.
func Logger(log *zap.Logger) gin.HandlerFunc {
	if log == nil {
		log = zap.NewNop()
	}

	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		requestID := requestIDFromContext(c.Request.Context())
		if requestID != "" {
			c.Set("request_id", requestID)
		}

		route := c.FullPath()
		if route == "" {
			route = unmatchedRoute
		}

		fields := []zap.Field{
			zap.String("trace_id", GetTraceID(c)),
			zap.String("request_id", requestID),
			zap.Int("status", c.Writer.Status()),
			zap.String("method", c.Request.Method),
			zap.String("route", route),
			zap.String("path", c.Request.URL.Path),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", appLogger.MaskIP(c.ClientIP())),
		}
		fields = append(fields, callerFields(c)...)

		if ua := c.Request.UserAgent(); ua != "" {
			fields = append(fields, zap.String("user_agent", ua))
		}

		if len(c.Errors) > 0 {
			log.Error("request failed", append(fields, zap.String("errors", c.Errors.String()))...)
			return
		}
		log.Info("request completed", fields...)
	}
}

func callerFields(c *gin.Context) []zap.Field {
	if device, ok := GetDevice(c); ok {
		return []zap.Field{
			zap.String("device_id", device.ID),
			zap.String("game_id", device.GameID),
			zap.String("account_id", device.AccountID),
		}
	}
	if key, ok := GetAPIKey(c); ok {
		return []zap.Field{
			zap.String("api_key_id", key.ID),
			zap.String("api_key_prefix", key.KeyPrefix),
			zap.String("account_id", key.AccountID),
		}
	}
	return nil
}

func requestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if id, ok := ctx.Value(appLogger.RequestIDKey{}).(string); ok {
		return id
	}
	return ""
}
