package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// Environment represents the runtime environment
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvProduction  Environment = "production"
	EnvTest        Environment = "test"
)

// Config holds all service configuration
type Config struct {
	Environment Environment
	Server      ServerConfig
	Database    DatabaseConfig
	Stripe      StripeConfig
	Webhook     WebhookConfig
	Analytics   AnalyticsConfig
	Effects     EffectsConfig
	RateLimit   RateLimitConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DatabaseConfig holds PostgreSQL database configuration
type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	SSLMode  string
	MaxConns int
}

// StripeConfig holds Stripe API configuration
type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
}

// WebhookConfig holds webhook processing configuration
type WebhookConfig struct {
	// ProcessTimeout bounds a single event's processing. It must stay well
	// under the 5 minute ledger stale window so an abandoned claim is only
	// ever reclaimed after its worker has given up.
	ProcessTimeout time.Duration
	// LedgerRetentionDays controls how long settled ledger rows are kept.
	LedgerRetentionDays int
}

// AnalyticsConfig holds GA4 Measurement Protocol configuration
type AnalyticsConfig struct {
	MeasurementID string
	APISecret     string
	Endpoint      string
}

// EffectsConfig holds best-effort side effect dispatcher configuration
type EffectsConfig struct {
	QueueSize int
}

// RateLimitConfig holds per-IP rate limiting configuration. Health and
// webhook endpoints bypass it regardless of these values.
type RateLimitConfig struct {
	Enabled       bool
	MaxRequests   int
	WindowSeconds int
}

// Load loads configuration from environment variables
func Load() *Config {
	// Default to production for safety - explicit opt-in to development mode
	env := Environment(getEnv("ENV", "production"))
	if env != EnvDevelopment && env != EnvProduction && env != EnvTest {
		env = EnvProduction
	}

	return &Config{
		Environment: env,
		Server: ServerConfig{
			Port:         getEnv("PORT", "8080"),
			ReadTimeout:  getDuration("SERVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout: getDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "lessonpay"),
			Password: getEnv("DB_PASSWORD", ""),
			Name:     getEnv("DB_NAME", "lessonpay"),
			SSLMode:  getEnv("DB_SSLMODE", "require"),
			MaxConns: getInt("DB_MAX_CONNS", 25),
		},
		Stripe: StripeConfig{
			SecretKey:     getEnv("STRIPE_SECRET_KEY", ""),
			WebhookSecret: getEnv("STRIPE_WEBHOOK_SECRET", ""),
		},
		Webhook: WebhookConfig{
			ProcessTimeout:      getDuration("WEBHOOK_PROCESS_TIMEOUT", 45*time.Second),
			LedgerRetentionDays: getInt("WEBHOOK_LEDGER_RETENTION_DAYS", 90),
		},
		Analytics: AnalyticsConfig{
			MeasurementID: getEnv("GA4_MEASUREMENT_ID", ""),
			APISecret:     getEnv("GA4_API_SECRET", ""),
			Endpoint:      getEnv("GA4_ENDPOINT", "https://www.google-analytics.com/mp/collect"),
		},
		Effects: EffectsConfig{
			QueueSize: getInt("EFFECTS_QUEUE_SIZE", 256),
		},
		RateLimit: RateLimitConfig{
			Enabled:       getBool("RATE_LIMIT_ENABLED", true),
			MaxRequests:   getInt("RATE_LIMIT_MAX_REQUESTS", 120),
			WindowSeconds: getInt("RATE_LIMIT_WINDOW_SECONDS", 60),
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// Validate checks that all required configuration is present.
// In production, missing critical values will return an error.
func (c *Config) Validate() error {
	var errs []string

	if c.Database.Password == "" && c.Environment == EnvProduction {
		errs = append(errs, "DB_PASSWORD is required in production")
	}

	if c.Environment == EnvProduction {
		if c.Stripe.SecretKey == "" {
			errs = append(errs, "STRIPE_SECRET_KEY is required in production")
		}
		if c.Stripe.WebhookSecret == "" {
			errs = append(errs, "STRIPE_WEBHOOK_SECRET is required in production")
		}
	}

	if c.Webhook.ProcessTimeout <= 0 || c.Webhook.ProcessTimeout >= 5*time.Minute {
		errs = append(errs, "WEBHOOK_PROCESS_TIMEOUT must be positive and under the 5 minute ledger stale window")
	}

	// GA4 tracking is optional, but a half-configured pair is a deployment mistake
	if (c.Analytics.MeasurementID == "") != (c.Analytics.APISecret == "") {
		errs = append(errs, "GA4_MEASUREMENT_ID and GA4_API_SECRET must be set together")
	}

	if len(errs) > 0 {
		return errors.New("configuration errors: " + strings.Join(errs, "; "))
	}

	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Environment == EnvDevelopment
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Environment == EnvProduction
}
