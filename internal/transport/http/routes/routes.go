package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/leadrgg/leadr-core/internal/infra/config"
	"github.com/leadrgg/leadr-core/internal/transport/http/handlers"
	"github.com/leadrgg/leadr-core/internal/transport/http/middleware"
	"github.com/leadrgg/leadr-core/internal/usecase"
)

// ServiceSet groups the services the HTTP layer depends on.
type ServiceSet struct {
	Devices     *usecase.DeviceService
	Nonces      *usecase.NonceService
	APIKeys     *usecase.APIKeyService
	Submissions *usecase.SubmissionService
	AntiCheat   *usecase.AntiCheatService
	ScoreFlags  *usecase.ScoreFlagService
}

// Dependencies encapsulates the objects required to register routes.
type Dependencies struct {
	Config         *config.AppConfig
	Logger         *zap.Logger
	RateLimiter    *middleware.RateLimiter
	Metrics        *middleware.HTTPMetrics
	MetricsHandler http.Handler
	Services       ServiceSet
	Database       DatabaseChecker
	Cache          CacheChecker
}

// DatabaseChecker exposes readiness behaviour for database connections.
type DatabaseChecker interface {
	Ping(ctx context.Context) error
}

// CacheChecker exposes readiness behaviour for cache backends.
type CacheChecker interface {
	HealthCheck(ctx context.Context) error
}

// Register configures the Gin engine with routes and middleware.
func Register(deps Dependencies) *gin.Engine {
	if deps.Config.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.CORS(deps.Config.App.CORSAllowedOrigins))
	r.Use(middleware.EnrichContext())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(deps.Logger))
	r.Use(deps.Metrics.Handler())

	healthOptions := make([]handlers.HealthOption, 0, 2)
	if deps.Database != nil {
		healthOptions = append(healthOptions, handlers.WithReadinessCheck("postgres", deps.Database.Ping))
	}
	if deps.Cache != nil {
		healthOptions = append(healthOptions, handlers.WithReadinessCheck("redis", deps.Cache.HealthCheck))
	}
	healthHandler := handlers.NewHealthHandler(healthOptions...)

	r.GET("/healthz", healthHandler.Status)
	r.GET("/readyz", healthHandler.Ready)

	metricsHandler := deps.MetricsHandler
	if metricsHandler == nil {
		metricsHandler = promhttp.Handler()
	}
	r.GET("/metrics", gin.WrapH(metricsHandler))

	api := r.Group("/api/v1")
	services := deps.Services

	if services.Devices != nil && services.Nonces != nil && services.Submissions != nil {
		client := handlers.NewClientHandler(services.Devices, services.Nonces, services.Submissions)
		requireDevice := middleware.RequireDevice(services.Devices)

		clientGroup := api.Group("/client")
		clientGroup.POST("/sessions", withLimits(buildClientLimit(deps, "client_session_ip", deps.Config.RateLimit.SessionMaxAttempts), client.StartSession)...)
		clientGroup.POST("/sessions/refresh", withLimits(buildClientLimit(deps, "client_refresh_ip", deps.Config.RateLimit.RefreshMaxAttempts), client.RefreshSession)...)
		clientGroup.GET("/nonce", requireDevice, client.IssueNonce)
		clientGroup.POST("/scores", requireDevice, middleware.RequireNonce(services.Nonces), client.SubmitScore)
	}

	if services.APIKeys != nil {
		admin := api.Group("")
		admin.Use(middleware.RequireAPIKey(services.APIKeys))

		handlers.NewAPIKeyHandler(services.APIKeys).RegisterRoutes(admin)
		if services.Devices != nil {
			handlers.NewDeviceHandler(services.Devices).RegisterRoutes(admin)
		}
		if services.ScoreFlags != nil {
			handlers.NewScoreFlagHandler(services.ScoreFlags).RegisterRoutes(admin)
		}
		if services.AntiCheat != nil {
			handlers.NewSubmissionMetaHandler(services.AntiCheat).RegisterRoutes(admin)
		}
	}

	return r
}

func withLimits(limits []gin.HandlerFunc, handler gin.HandlerFunc) []gin.HandlerFunc {
	return append(limits, handler)
}

func buildClientLimit(deps Dependencies, name string, limit int) []gin.HandlerFunc {
	if deps.RateLimiter == nil || limit <= 0 {
		return nil
	}

	window := deps.Config.RateLimit.WindowDuration
	if window <= 0 {
		window = time.Minute
	}

	rule := middleware.RateLimitRule{
		Name:       name,
		Limit:      limit,
		Window:     window,
		Identifier: middleware.ClientIPIdentifier(),
	}

	return []gin.HandlerFunc{deps.RateLimiter.RateLimit(rule)}
}
