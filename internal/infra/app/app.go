package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/leadrgg/leadr-core/internal/core/domain"
	"github.com/leadrgg/leadr-core/internal/core/port"
	"github.com/leadrgg/leadr-core/internal/infra/config"
	"github.com/leadrgg/leadr-core/internal/infra/database"
	kafkainfra "github.com/leadrgg/leadr-core/internal/infra/kafka"
	"github.com/leadrgg/leadr-core/internal/infra/logger"
	redisinfra "github.com/leadrgg/leadr-core/internal/infra/redis"
	"github.com/leadrgg/leadr-core/internal/infra/scheduler"
	"github.com/leadrgg/leadr-core/internal/infra/security"
	"github.com/leadrgg/leadr-core/internal/infra/telemetry"
	postgresrepo "github.com/leadrgg/leadr-core/internal/repository/postgres"
	redisrepo "github.com/leadrgg/leadr-core/internal/repository/redis"
	transportgrpc "github.com/leadrgg/leadr-core/internal/transport/grpc"
	grpcinterceptors "github.com/leadrgg/leadr-core/internal/transport/grpc/interceptors"
	"github.com/leadrgg/leadr-core/internal/transport/http/middleware"
	"github.com/leadrgg/leadr-core/internal/transport/http/routes"
	"github.com/leadrgg/leadr-core/internal/usecase"
)

// Version is stamped at build time.
var Version = "dev"

const shutdownTimeout = 10 * time.Second

type Application struct {
	cfg        *config.AppConfig
	engine     *gin.Engine
	logger     *zap.Logger
	pool       *pgxpool.Pool
	redis      *redisinfra.Client
	producer   *kafkainfra.Producer
	tracer     *telemetry.TracerProvider
	scheduler  *scheduler.Scheduler
	grpcServer *transportgrpc.Server
}

func New(ctx context.Context, cfg *config.AppConfig) (*Application, error) {
	log, err := logger.New(cfg.App.Env)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	a := &Application{cfg: cfg, logger: log}
	if err := a.init(ctx); err != nil {
		a.release(context.Background())
		return nil, err
	}
	return a, nil
}

func (a *Application) init(ctx context.Context) error {
	cfg, log := a.cfg, a.logger

	tracer, err := telemetry.NewTracerProvider(ctx, cfg.Telemetry, Version, log)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	a.tracer = tracer

	pool, err := database.NewPostgresPool(ctx, cfg.Postgres, log)
	if err != nil {
		return fmt.Errorf("init postgres: %w", err)
	}
	a.pool = pool
	if cfg.Postgres.AutoMigrate {
		if err := database.EnsureSchema(ctx, pool, log); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}

	redisClient, err := redisinfra.NewClient(cfg.Redis, log)
	if err != nil {
		return fmt.Errorf("init redis: %w", err)
	}
	a.redis = redisClient

	events := a.eventPublisher()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	trustMetrics, err := telemetry.NewTrustMetrics(registry)
	if err != nil {
		return fmt.Errorf("init trust metrics: %w", err)
	}
	httpMetrics, err := middleware.NewHTTPMetrics(middleware.HTTPMetricsOptions{Registerer: registry})
	if err != nil {
		return fmt.Errorf("init http metrics: %w", err)
	}
	grpcMetrics, err := grpcinterceptors.NewGRPCMetrics(grpcinterceptors.GRPCMetricsOptions{Registerer: registry})
	if err != nil {
		return fmt.Errorf("init grpc metrics: %w", err)
	}

	codec, err := security.NewTokenCodec(cfg.Auth.JWTSecret)
	if err != nil {
		return fmt.Errorf("init token codec: %w", err)
	}

	repos := postgresrepo.NewRepositories(pool)

	devices := usecase.NewDeviceService(repos.Games, repos.Devices, repos.DeviceSessions, codec, events, log).
		WithTokenTTLs(cfg.Auth.AccessTokenTTL, cfg.Auth.RefreshTokenTTL).
		WithMetrics(trustMetrics)
	nonces := usecase.NewNonceService(repos.Nonces, cfg.Auth.NonceTTL, log).
		WithMetrics(trustMetrics)
	apiKeys := usecase.NewAPIKeyService(repos.APIKeys, events, cfg.Auth.APIKeySecret, log)
	antiCheat := usecase.NewAntiCheatService(repos.SubmissionMeta, repos.Boards, policyFromConfig(cfg.AntiCheat), log).
		WithMetrics(trustMetrics)
	submissions := usecase.NewSubmissionService(repos.Boards, repos.Games, repos.Submissions, antiCheat, events, log).
		WithDefaultTrustTier(domain.TrustTier(cfg.AntiCheat.DefaultTrustTier))
	scoreFlags := usecase.NewScoreFlagService(repos.ScoreFlags, log)

	rateLimitWindow := cfg.RateLimit.WindowDuration
	if rateLimitWindow <= 0 {
		rateLimitWindow = time.Minute
	}
	rateLimitStore := redisrepo.NewRateLimitRepository(redisClient.Client(), redisrepo.SlidingWindowConfig{
		KeyPrefix: cfg.RateLimit.KeyPrefix,
		TTL:       rateLimitWindow * 2,
	})
	rateLimiter := middleware.NewRateLimiter(rateLimitStore, log).WithFailOpen(cfg.RateLimit.FailOpenOnStoreDown)

	a.scheduler = scheduler.New(log)
	if err := a.scheduler.Register(scheduler.NonceCleanupJob(nonces, cfg.Tasks.NonceCleanupSchedule, cfg.Tasks.NonceCleanupOlderThan, log)); err != nil {
		return fmt.Errorf("register nonce cleanup: %w", err)
	}

	grpcServer, err := transportgrpc.NewServer(transportgrpc.ServerDependencies{
		DeviceAuth:     devices,
		Metrics:        grpcMetrics,
		TracerProvider: tracer.Provider(),
		Logger:         log,
	})
	if err != nil {
		return fmt.Errorf("init grpc server: %w", err)
	}
	a.grpcServer = grpcServer

	a.engine = routes.Register(routes.Dependencies{
		Config:         cfg,
		Logger:         log,
		RateLimiter:    rateLimiter,
		Metrics:        httpMetrics,
		MetricsHandler: promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		Database:       pool,
		Cache:          redisClient,
		Services: routes.ServiceSet{
			Devices:     devices,
			Nonces:      nonces,
			APIKeys:     apiKeys,
			Submissions: submissions,
			AntiCheat:   antiCheat,
			ScoreFlags:  scoreFlags,
		},
	})
	return nil
}

func (a *Application) eventPublisher() port.EventPublisher {
	cfg, log := a.cfg, a.logger
	if len(cfg.Kafka.Brokers) == 0 {
		log.Info("kafka brokers not configured, using stub publisher")
		return kafkainfra.NewStubPublisher(log)
	}

	producer, err := kafkainfra.NewProducer(cfg.Kafka, log)
	if err != nil {
		log.Warn("failed to init kafka producer, using stub publisher", zap.Error(err))
		return kafkainfra.NewStubPublisher(log)
	}
	a.producer = producer
	log.Info("kafka event publisher initialized", zap.Strings("brokers", cfg.Kafka.Brokers))
	return kafkainfra.NewEventPublisher(producer, cfg.App, log)
}

func policyFromConfig(cfg config.AntiCheatSettings) usecase.Policy {
	policy := usecase.DefaultPolicy()
	policy.TierLimits = map[domain.TrustTier]int{
		domain.TrustTierA: cfg.RateLimitTierA,
		domain.TrustTierB: cfg.RateLimitTierB,
		domain.TrustTierC: cfg.RateLimitTierC,
	}
	if cfg.RateLimitWindow > 0 {
		policy.RateLimitWindow = cfg.RateLimitWindow
	}
	if cfg.DuplicateWindow > 0 {
		policy.DuplicateWindow = cfg.DuplicateWindow
	}
	policy.VelocityThreshold = cfg.VelocityThreshold
	return policy
}

// Run serves HTTP and gRPC traffic and runs background jobs until ctx is cancelled or a server fails.
func (a *Application) Run(ctx context.Context) error {
	defer func() {
		_ = a.logger.Sync()
	}()

	httpServer := &http.Server{
		Addr:              a.cfg.App.Address(),
		Handler:           a.engine,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	grpcListener, err := net.Listen("tcp", a.cfg.GRPC.Address())
	if err != nil {
		a.release(context.Background())
		return fmt.Errorf("listen grpc: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logger.Info("starting leadr API", zap.String("env", a.cfg.App.Env), zap.String("address", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("run http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		a.logger.Info("starting gRPC server", zap.String("address", grpcListener.Addr().String()))
		if err := a.grpcServer.Serve(grpcListener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("run grpc server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		a.grpcServer.WatchReadiness(gctx, 0, map[string]transportgrpc.ReadinessCheck{
			"postgres": a.pool.Ping,
			"redis":    a.redis.HealthCheck,
		}, a.logger)
		return nil
	})

	a.scheduler.Start()

	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		a.grpcServer.Stop()
		err := httpServer.Shutdown(shutdownCtx)
		a.release(shutdownCtx)
		if err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		return nil
	})

	return g.Wait()
}

// release closes every initialised resource in reverse order of creation.
func (a *Application) release(ctx context.Context) {
	if a.scheduler != nil {
		if err := a.scheduler.Stop(ctx); err != nil {
			a.logger.Warn("scheduler did not stop cleanly", zap.Error(err))
		}
	}
	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			a.logger.Warn("failed to close kafka producer", zap.Error(err))
		}
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.pool != nil {
		a.pool.Close()
	}
	if a.tracer != nil {
		if err := a.tracer.Shutdown(ctx); err != nil {
			a.logger.Warn("failed to flush traces", zap.Error(err))
		}
	}
}
