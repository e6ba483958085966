package config

import (
	"errors"
	"testing"
	"time"
)

func TestLoadAppliesDefaults(t *testing.T) {
	t.Setenv("LEADR_AUTH_JWT_SECRET", "jwt-secret")
	t.Setenv("LEADR_AUTH_API_KEY_SECRET", "pepper")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Auth.AccessTokenTTL != 24*time.Hour {
		t.Fatalf("unexpected access ttl %v", cfg.Auth.AccessTokenTTL)
	}
	if cfg.Auth.RefreshTokenTTL != 720*time.Hour {
		t.Fatalf("unexpected refresh ttl %v", cfg.Auth.RefreshTokenTTL)
	}
	if cfg.Auth.NonceTTL != time.Minute {
		t.Fatalf("unexpected nonce ttl %v", cfg.Auth.NonceTTL)
	}
	if cfg.AntiCheat.RateLimitTierA != 100 || cfg.AntiCheat.RateLimitTierB != 50 || cfg.AntiCheat.RateLimitTierC != 20 {
		t.Fatalf("unexpected tier limits %+v", cfg.AntiCheat)
	}
	if cfg.AntiCheat.DuplicateWindow != 30*time.Second {
		t.Fatalf("unexpected duplicate window %v", cfg.AntiCheat.DuplicateWindow)
	}
	if cfg.AntiCheat.VelocityThreshold != 0 {
		t.Fatalf("expected velocity check disabled by default, got %v", cfg.AntiCheat.VelocityThreshold)
	}
	if cfg.AntiCheat.DefaultTrustTier != "B" {
		t.Fatalf("unexpected default tier %q", cfg.AntiCheat.DefaultTrustTier)
	}
	if cfg.Kafka.TopicPrefix != "leadr" {
		t.Fatalf("unexpected topic prefix %q", cfg.Kafka.TopicPrefix)
	}
	if cfg.App.Address() != "0.0.0.0:8080" {
		t.Fatalf("unexpected http address %q", cfg.App.Address())
	}
}

func TestLoadReadsEnvironmentOverrides(t *testing.T) {
	t.Setenv("LEADR_AUTH_JWT_SECRET", "jwt-secret")
	t.Setenv("LEADR_AUTH_API_KEY_SECRET", "pepper")
	t.Setenv("LEADR_ANTI_CHEAT_RATE_LIMIT_TIER_B", "5")
	t.Setenv("LEADR_ANTI_CHEAT_VELOCITY_THRESHOLD", "2s")
	t.Setenv("LEADR_GRPC_PORT", "6000")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.AntiCheat.RateLimitTierB != 5 {
		t.Fatalf("expected tier B override, got %d", cfg.AntiCheat.RateLimitTierB)
	}
	if cfg.AntiCheat.VelocityThreshold != 2*time.Second {
		t.Fatalf("expected velocity override, got %v", cfg.AntiCheat.VelocityThreshold)
	}
	if cfg.GRPC.Port != 6000 {
		t.Fatalf("expected grpc port override, got %d", cfg.GRPC.Port)
	}
}

func TestLoadRejectsMissingSecrets(t *testing.T) {
	t.Setenv("LEADR_AUTH_JWT_SECRET", "")
	t.Setenv("LEADR_AUTH_API_KEY_SECRET", "pepper")

	if _, err := Load(); !errors.Is(err, ErrJWTSecretMissing) {
		t.Fatalf("expected ErrJWTSecretMissing, got %v", err)
	}

	t.Setenv("LEADR_AUTH_JWT_SECRET", "jwt-secret")
	t.Setenv("LEADR_AUTH_API_KEY_SECRET", "  ")

	if _, err := Load(); !errors.Is(err, ErrAPIKeySecretMissing) {
		t.Fatalf("expected ErrAPIKeySecretMissing, got %v", err)
	}
}

func TestValidateRejectsUnknownTier(t *testing.T) {
	cfg := AppConfig{
		Auth: AuthSettings{
			JWTSecret:       "a",
			APIKeySecret:    "b",
			AccessTokenTTL:  time.Hour,
			RefreshTokenTTL: time.Hour,
			NonceTTL:        time.Minute,
		},
		AntiCheat: AntiCheatSettings{
			RateLimitTierA:   1,
			RateLimitTierB:   1,
			RateLimitTierC:   1,
			DefaultTrustTier: "D",
		},
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected unknown default tier to be rejected")
	}
}
