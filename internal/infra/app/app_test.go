package app

import (
	"testing"
	"time"

	"github.com/leadrgg/leadr-core/internal/core/domain"
	"github.com/leadrgg/leadr-core/internal/infra/config"
	"github.com/leadrgg/leadr-core/internal/usecase"
)

func TestPolicyFromConfig(t *testing.T) {
	policy := policyFromConfig(config.AntiCheatSettings{
		RateLimitTierA:    10,
		RateLimitTierB:    5,
		RateLimitTierC:    2,
		VelocityThreshold: 3 * time.Second,
	})

	if policy.TierLimits[domain.TrustTierA] != 10 || policy.TierLimits[domain.TrustTierB] != 5 || policy.TierLimits[domain.TrustTierC] != 2 {
		t.Fatalf("unexpected tier limits %v", policy.TierLimits)
	}
	defaults := usecase.DefaultPolicy()
	if policy.RateLimitWindow != defaults.RateLimitWindow || policy.DuplicateWindow != defaults.DuplicateWindow {
		t.Fatalf("unset windows should keep defaults, got %s / %s", policy.RateLimitWindow, policy.DuplicateWindow)
	}
	if policy.VelocityThreshold != 3*time.Second {
		t.Fatalf("unexpected velocity threshold %s", policy.VelocityThreshold)
	}

	custom := policyFromConfig(config.AntiCheatSettings{RateLimitWindow: 10 * time.Minute, DuplicateWindow: time.Minute})
	if custom.RateLimitWindow != 10*time.Minute || custom.DuplicateWindow != time.Minute {
		t.Fatalf("configured windows ignored: %+v", custom)
	}
}
