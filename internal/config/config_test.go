package config

import (
	"strings"
	"testing"
	"time"
)

func validProductionConfig() *Config {
	return &Config{
		Environment: EnvProduction,
		Database:    DatabaseConfig{Password: "secret"},
		Stripe: StripeConfig{
			SecretKey:     "sk_live_xxx",
			WebhookSecret: "whsec_xxx",
		},
		Webhook: WebhookConfig{
			ProcessTimeout:      45 * time.Second,
			LedgerRetentionDays: 90,
		},
	}
}

func TestValidateProductionRequiresStripeKeys(t *testing.T) {
	cfg := validProductionConfig()
	cfg.Stripe = StripeConfig{}

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error when Stripe keys are missing in production")
	}
	if !strings.Contains(err.Error(), "STRIPE_SECRET_KEY") {
		t.Fatalf("expected Stripe secret key error, got: %v", err)
	}
	if !strings.Contains(err.Error(), "STRIPE_WEBHOOK_SECRET") {
		t.Fatalf("expected Stripe webhook secret error, got: %v", err)
	}
}

func TestValidateProductionRequiresDBPassword(t *testing.T) {
	cfg := validProductionConfig()
	cfg.Database.Password = ""

	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "DB_PASSWORD") {
		t.Fatalf("expected DB password validation error, got: %v", err)
	}
}

func TestValidateDevelopmentAllowsMissingStripeKeys(t *testing.T) {
	cfg := validProductionConfig()
	cfg.Environment = EnvDevelopment
	cfg.Database.Password = ""
	cfg.Stripe = StripeConfig{}

	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected validation to pass in development, got: %v", err)
	}
}

func TestValidateProcessTimeoutBounds(t *testing.T) {
	cfg := validProductionConfig()
	cfg.Webhook.ProcessTimeout = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for zero process timeout")
	}

	// The timeout must stay under the ledger stale window, otherwise a slow
	// worker's claim could be stolen while it is still running.
	cfg.Webhook.ProcessTimeout = 5 * time.Minute
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for timeout at the stale window")
	}

	cfg.Webhook.ProcessTimeout = 45 * time.Second
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected validation to pass, got: %v", err)
	}
}

func TestValidateRejectsHalfConfiguredGA4(t *testing.T) {
	cfg := validProductionConfig()
	cfg.Analytics.MeasurementID = "G-TEST123"

	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "GA4_MEASUREMENT_ID") {
		t.Fatalf("expected GA4 pairing validation error, got: %v", err)
	}

	cfg.Analytics.APISecret = "secret"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected validation to pass with both GA4 values, got: %v", err)
	}
}

func TestLoadDefaultsToProduction(t *testing.T) {
	t.Setenv("ENV", "")

	cfg := Load()
	if cfg.Environment != EnvProduction {
		t.Fatalf("expected default environment to be production, got: %s", cfg.Environment)
	}
}

func TestLoadUnknownEnvironmentFallsBackToProduction(t *testing.T) {
	t.Setenv("ENV", "staging")

	cfg := Load()
	if cfg.Environment != EnvProduction {
		t.Fatalf("expected unknown environment to fall back to production, got: %s", cfg.Environment)
	}
}

func TestLoadReadsOverrides(t *testing.T) {
	t.Setenv("ENV", "development")
	t.Setenv("PORT", "9090")
	t.Setenv("WEBHOOK_PROCESS_TIMEOUT", "30s")
	t.Setenv("WEBHOOK_LEDGER_RETENTION_DAYS", "30")
	t.Setenv("RATE_LIMIT_ENABLED", "false")
	t.Setenv("EFFECTS_QUEUE_SIZE", "64")

	cfg := Load()
	if cfg.Server.Port != "9090" {
		t.Fatalf("expected port 9090, got: %s", cfg.Server.Port)
	}
	if cfg.Webhook.ProcessTimeout != 30*time.Second {
		t.Fatalf("expected 30s process timeout, got: %s", cfg.Webhook.ProcessTimeout)
	}
	if cfg.Webhook.LedgerRetentionDays != 30 {
		t.Fatalf("expected 30 day retention, got: %d", cfg.Webhook.LedgerRetentionDays)
	}
	if cfg.RateLimit.Enabled {
		t.Fatal("expected rate limiting disabled")
	}
	if cfg.Effects.QueueSize != 64 {
		t.Fatalf("expected queue size 64, got: %d", cfg.Effects.QueueSize)
	}
}

func TestGetHelpersIgnoreMalformedValues(t *testing.T) {
	t.Setenv("WEBHOOK_LEDGER_RETENTION_DAYS", "not-a-number")
	t.Setenv("WEBHOOK_PROCESS_TIMEOUT", "soon")
	t.Setenv("RATE_LIMIT_ENABLED", "maybe")

	cfg := Load()
	if cfg.Webhook.LedgerRetentionDays != 90 {
		t.Fatalf("expected default retention 90, got: %d", cfg.Webhook.LedgerRetentionDays)
	}
	if cfg.Webhook.ProcessTimeout != 45*time.Second {
		t.Fatalf("expected default 45s timeout, got: %s", cfg.Webhook.ProcessTimeout)
	}
	if !cfg.RateLimit.Enabled {
		t.Fatal("expected default rate limiting enabled")
	}
}
