package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const envPrefix = "LEADR"

type AppConfig struct {
	App       AppSettings       `mapstructure:"app"`
	Postgres  PostgresSettings  `mapstructure:"postgres"`
	Redis     RedisSettings     `mapstructure:"redis"`
	Kafka     KafkaSettings     `mapstructure:"kafka"`
	GRPC      GRPCSettings      `mapstructure:"grpc"`
	Telemetry TelemetrySettings `mapstructure:"telemetry"`
	RateLimit RateLimitSettings `mapstructure:"rate_limit"`
	Auth      AuthSettings      `mapstructure:"auth"`
	AntiCheat AntiCheatSettings `mapstructure:"anti_cheat"`
	Tasks     TaskSettings      `mapstructure:"tasks"`
}

type AppSettings struct {
	Name               string   `mapstructure:"name"`
	Env                string   `mapstructure:"env"`
	Host               string   `mapstructure:"host"`
	Port               int      `mapstructure:"port"`
	CORSAllowedOrigins []string `mapstructure:"cors_allowed_origins"`
}

type GRPCSettings struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

type PostgresSettings struct {
	Host              string        `mapstructure:"host"`
	Port              int           `mapstructure:"port"`
	User              string        `mapstructure:"user"`
	Password          string        `mapstructure:"password"`
	Database          string        `mapstructure:"database"`
	SSLMode           string        `mapstructure:"ssl_mode"`
	MaxConns          int32         `mapstructure:"max_conns"`
	MinConns          int32         `mapstructure:"min_conns"`
	MaxConnLifetime   time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime   time.Duration `mapstructure:"max_conn_idle_time"`
	HealthCheckPeriod time.Duration `mapstructure:"health_check_period"`
	AutoMigrate       bool          `mapstructure:"auto_migrate"`
}

// RedisSettings configures Redis connection and TLS
type RedisSettings struct {
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	DB         int    `mapstructure:"db"`
	Password   string `mapstructure:"password"`
	TLSEnabled bool   `mapstructure:"tls_enabled"`
}

// KafkaSettings configures the event producer. An empty broker list disables publishing.
type KafkaSettings struct {
	Brokers     []string `mapstructure:"brokers"`
	TopicPrefix string   `mapstructure:"topic_prefix"`
	Async       bool     `mapstructure:"async"`
}

type TelemetrySettings struct {
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	ServiceName  string  `mapstructure:"service_name"`
	SamplingRate float64 `mapstructure:"sampling_rate"`
}

// RateLimitSettings throttles the unauthenticated client endpoints per IP.
type RateLimitSettings struct {
	WindowDuration      time.Duration `mapstructure:"window_duration"`
	SessionMaxAttempts  int           `mapstructure:"session_max_attempts"`
	RefreshMaxAttempts  int           `mapstructure:"refresh_max_attempts"`
	KeyPrefix           string        `mapstructure:"key_prefix"`
	FailOpenOnStoreDown bool          `mapstructure:"fail_open"`
}

// AuthSettings holds credential secrets and token lifetimes.
type AuthSettings struct {
	JWTSecret       string        `mapstructure:"jwt_secret"`
	APIKeySecret    string        `mapstructure:"api_key_secret"`
	AccessTokenTTL  time.Duration `mapstructure:"access_token_ttl"`
	RefreshTokenTTL time.Duration `mapstructure:"refresh_token_ttl"`
	NonceTTL        time.Duration `mapstructure:"nonce_ttl"`
}

// AntiCheatSettings tunes the submission screening thresholds.
type AntiCheatSettings struct {
	RateLimitTierA    int           `mapstructure:"rate_limit_tier_a"`
	RateLimitTierB    int           `mapstructure:"rate_limit_tier_b"`
	RateLimitTierC    int           `mapstructure:"rate_limit_tier_c"`
	RateLimitWindow   time.Duration `mapstructure:"rate_limit_window"`
	DuplicateWindow   time.Duration `mapstructure:"duplicate_window"`
	VelocityThreshold time.Duration `mapstructure:"velocity_threshold"`
	DefaultTrustTier  string        `mapstructure:"default_trust_tier"`
}

type TaskSettings struct {
	NonceCleanupSchedule  string        `mapstructure:"nonce_cleanup_schedule"`
	NonceCleanupOlderThan time.Duration `mapstructure:"nonce_cleanup_older_than"`
}

var (
	ErrJWTSecretMissing    = errors.New("config: auth.jwt_secret is required")
	ErrAPIKeySecretMissing = errors.New("config: auth.api_key_secret is required")
)

func Load() (*AppConfig, error) {
	v := viper.New()

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix(envPrefix)

	setDefaults(v)

	if err := bindEnvs(v, []string{
		"app.name",
		"app.env",
		"app.host",
		"app.port",
		"app.cors_allowed_origins",
		"grpc.host",
		"grpc.port",
		"postgres.host",
		"postgres.port",
		"postgres.user",
		"postgres.password",
		"postgres.database",
		"postgres.ssl_mode",
		"postgres.max_conns",
		"postgres.min_conns",
		"postgres.max_conn_lifetime",
		"postgres.max_conn_idle_time",
		"postgres.health_check_period",
		"postgres.auto_migrate",
		"redis.host",
		"redis.port",
		"redis.db",
		"redis.password",
		"redis.tls_enabled",
		"kafka.brokers",
		"kafka.topic_prefix",
		"kafka.async",
		"telemetry.otlp_endpoint",
		"telemetry.service_name",
		"telemetry.sampling_rate",
		"rate_limit.window_duration",
		"rate_limit.session_max_attempts",
		"rate_limit.refresh_max_attempts",
		"rate_limit.key_prefix",
		"rate_limit.fail_open",
		"auth.jwt_secret",
		"auth.api_key_secret",
		"auth.access_token_ttl",
		"auth.refresh_token_ttl",
		"auth.nonce_ttl",
		"anti_cheat.rate_limit_tier_a",
		"anti_cheat.rate_limit_tier_b",
		"anti_cheat.rate_limit_tier_c",
		"anti_cheat.rate_limit_window",
		"anti_cheat.duplicate_window",
		"anti_cheat.velocity_threshold",
		"anti_cheat.default_trust_tier",
		"tasks.nonce_cleanup_schedule",
		"tasks.nonce_cleanup_older_than",
	}); err != nil {
		return nil, err
	}

	v.AutomaticEnv()

	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects configurations the service cannot run with.
func (c *AppConfig) Validate() error {
	if strings.TrimSpace(c.Auth.JWTSecret) == "" {
		return ErrJWTSecretMissing
	}
	if strings.TrimSpace(c.Auth.APIKeySecret) == "" {
		return ErrAPIKeySecretMissing
	}
	if c.Auth.AccessTokenTTL <= 0 || c.Auth.RefreshTokenTTL <= 0 || c.Auth.NonceTTL <= 0 {
		return fmt.Errorf("config: auth token and nonce ttls must be positive")
	}
	if c.AntiCheat.RateLimitTierA <= 0 || c.AntiCheat.RateLimitTierB <= 0 || c.AntiCheat.RateLimitTierC <= 0 {
		return fmt.Errorf("config: anti_cheat tier limits must be positive")
	}
	switch c.AntiCheat.DefaultTrustTier {
	case "A", "B", "C":
	default:
		return fmt.Errorf("config: anti_cheat.default_trust_tier %q is not one of A, B, C", c.AntiCheat.DefaultTrustTier)
	}
	if c.AntiCheat.VelocityThreshold < 0 {
		return fmt.Errorf("config: anti_cheat.velocity_threshold must not be negative")
	}
	return nil
}

// Address returns the HTTP listen address.
func (s AppSettings) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Address returns the gRPC listen address.
func (s GRPCSettings) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "leadr-core")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.host", "0.0.0.0")
	v.SetDefault("app.port", 8080)
	v.SetDefault("app.cors_allowed_origins", []string{"*"})

	v.SetDefault("grpc.host", "0.0.0.0")
	v.SetDefault("grpc.port", 50051)

	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.user", "leadr")
	v.SetDefault("postgres.password", "leadr_password")
	v.SetDefault("postgres.database", "leadr")
	v.SetDefault("postgres.ssl_mode", "disable")
	v.SetDefault("postgres.max_conns", 10)
	v.SetDefault("postgres.min_conns", 2)
	v.SetDefault("postgres.max_conn_lifetime", "60m")
	v.SetDefault("postgres.max_conn_idle_time", "15m")
	v.SetDefault("postgres.health_check_period", "30s")
	v.SetDefault("postgres.auto_migrate", false)

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.tls_enabled", false)

	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic_prefix", "leadr")
	v.SetDefault("kafka.async", true)

	v.SetDefault("telemetry.otlp_endpoint", "")
	v.SetDefault("telemetry.service_name", "leadr-core")
	v.SetDefault("telemetry.sampling_rate", 1.0)

	v.SetDefault("rate_limit.window_duration", "1m")
	v.SetDefault("rate_limit.session_max_attempts", 30)
	v.SetDefault("rate_limit.refresh_max_attempts", 30)
	v.SetDefault("rate_limit.key_prefix", "leadr:rate-limit")
	v.SetDefault("rate_limit.fail_open", true)

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.api_key_secret", "")
	v.SetDefault("auth.access_token_ttl", "24h")
	v.SetDefault("auth.refresh_token_ttl", "720h")
	v.SetDefault("auth.nonce_ttl", "60s")

	v.SetDefault("anti_cheat.rate_limit_tier_a", 100)
	v.SetDefault("anti_cheat.rate_limit_tier_b", 50)
	v.SetDefault("anti_cheat.rate_limit_tier_c", 20)
	v.SetDefault("anti_cheat.rate_limit_window", "1h")
	v.SetDefault("anti_cheat.duplicate_window", "30s")
	v.SetDefault("anti_cheat.velocity_threshold", "0s")
	v.SetDefault("anti_cheat.default_trust_tier", "B")

	v.SetDefault("tasks.nonce_cleanup_schedule", "@every 1h")
	v.SetDefault("tasks.nonce_cleanup_older_than", "24h")
}

func bindEnvs(v *viper.Viper, keys []string) error {
	for _, key := range keys {
		envKey := strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, envPrefix+"_"+envKey, envKey); err != nil {
			return fmt.Errorf("bind env for %s: %w", key, err)
		}
	}
	return nil
}
