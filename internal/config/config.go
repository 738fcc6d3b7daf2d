package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
	"github.com/shopspring/decimal"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv             string
	Port               string
	RedisURL           string
	DatabaseURL        string
	CORSAllowedOrigins []string

	ShopifyStoreURL      string
	ShopifyAccessToken   string
	ShopifyAPIVersion    string
	ShopifyWebhookSecret string
	ShopifyAPIKey        string
	ShopifyAPISecret     string
	ShopifyTimeout       time.Duration

	ReadRetryMaxAttempts int
	ReadRetryDelay       time.Duration

	RecargoRate        decimal.Decimal
	RecargoTitle       string
	RecargoEligibleTag string
	PipelineTimeout    time.Duration
	LockTTL            time.Duration
	LockRetryBackoff   time.Duration

	WebhookReplayTTL time.Duration
	WebhookAsync     bool
	WebhookMaxBody   int64
	IdempotencyTTL   time.Duration
	RateLimit        string
	SessionClockSkew time.Duration

	KafkaBrokers []string
	KafkaTopic   string

	QueueName        string
	QueueConcurrency int
	QueueMaxRetry    int
	QueueRetryBase   time.Duration

	AuditEnabled        bool
	PaymentTermsDueDays int
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	rate, err := parseRate(k.String("RECARGO_RATE"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		AppEnv:             valueOrDefault(k.String("APP_ENV"), "development"),
		Port:               valueOrDefault(k.String("PORT"), "3000"),
		RedisURL:           valueOrDefault(k.String("REDIS_URL"), "redis://localhost:6379/0"),
		DatabaseURL:        strings.TrimSpace(k.String("DATABASE_URL")),
		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),

		ShopifyStoreURL:      strings.TrimSpace(k.String("SHOPIFY_STORE_URL")),
		ShopifyAccessToken:   strings.TrimSpace(k.String("SHOPIFY_ACCESS_TOKEN")),
		ShopifyAPIVersion:    valueOrDefault(k.String("SHOPIFY_API_VERSION"), "2025-07"),
		ShopifyWebhookSecret: strings.TrimSpace(k.String("SHOPIFY_WEBHOOK_SECRET")),
		ShopifyAPIKey:        strings.TrimSpace(k.String("SHOPIFY_API_KEY")),
		ShopifyAPISecret:     strings.TrimSpace(k.String("SHOPIFY_API_SECRET")),
		ShopifyTimeout:       parseDuration(k.String("SHOPIFY_TIMEOUT"), "10s"),

		ReadRetryMaxAttempts: parseInt(k.String("READ_RETRY_MAX_ATTEMPTS"), 3),
		ReadRetryDelay:       parseDuration(k.String("READ_RETRY_DELAY"), "1s"),

		RecargoRate:        rate,
		RecargoTitle:       valueOrDefault(k.String("RECARGO_TITLE"), "Recargo de Equivalencia (5.2%)"),
		RecargoEligibleTag: valueOrDefault(k.String("RECARGO_ELIGIBLE_TAG"), "RE"),
		PipelineTimeout:    parseDuration(k.String("PIPELINE_TIMEOUT"), "30s"),
		LockTTL:            parseDuration(k.String("LOCK_TTL"), "1m"),
		LockRetryBackoff:   parseDuration(k.String("LOCK_RETRY_BACKOFF"), "100ms"),

		WebhookReplayTTL: parseDuration(k.String("WEBHOOK_REPLAY_TTL"), "24h"),
		WebhookAsync:     parseBool(k.String("WEBHOOK_ASYNC")),
		WebhookMaxBody:   int64(parseInt(k.String("WEBHOOK_MAX_BODY_BYTES"), 1<<20)),
		IdempotencyTTL:   parseDuration(k.String("IDEMPOTENCY_TTL"), "24h"),
		RateLimit:        valueOrDefault(k.String("RATE_LIMIT"), "60-M"),
		SessionClockSkew: parseDuration(k.String("SESSION_CLOCK_SKEW"), "10s"),

		KafkaBrokers: splitAndTrim(k.String("KAFKA_BROKERS")),
		KafkaTopic:   valueOrDefault(k.String("KAFKA_TOPIC"), "recargo"),

		QueueName:        valueOrDefault(k.String("QUEUE_NAME"), "recargo"),
		QueueConcurrency: parseInt(k.String("QUEUE_CONCURRENCY"), 5),
		QueueMaxRetry:    parseInt(k.String("QUEUE_MAX_RETRY"), 8),
		QueueRetryBase:   parseDuration(k.String("QUEUE_RETRY_BASE"), "5s"),

		AuditEnabled:        parseBoolDefault(k.String("AUDIT_ENABLED"), true),
		PaymentTermsDueDays: parseInt(k.String("PAYMENT_TERMS_DUE_DAYS"), 30),
	}

	if cfg.ShopifyStoreURL == "" {
		return nil, errors.New("SHOPIFY_STORE_URL is required")
	}
	if cfg.ShopifyAccessToken == "" {
		return nil, errors.New("SHOPIFY_ACCESS_TOKEN is required")
	}
	if cfg.ReadRetryMaxAttempts < 1 {
		return nil, errors.New("READ_RETRY_MAX_ATTEMPTS must be at least 1")
	}
	if cfg.AuditEnabled && cfg.DatabaseURL == "" {
		cfg.AuditEnabled = false
	}

	return cfg, nil
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "3000"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

// SessionAuthEnabled reports whether extension endpoints require a session token.
func (c *Config) SessionAuthEnabled() bool {
	return c.ShopifyAPIKey != "" && c.ShopifyAPISecret != ""
}

// KafkaEnabled reports whether outcome events are published.
func (c *Config) KafkaEnabled() bool { return len(c.KafkaBrokers) > 0 }

func parseRate(value string) (decimal.Decimal, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return decimal.RequireFromString("0.052"), nil
	}
	rate, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("RECARGO_RATE: %w", err)
	}
	if !rate.IsPositive() || rate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return decimal.Decimal{}, fmt.Errorf("RECARGO_RATE must be between 0 and 1, got %s", value)
	}
	return rate, nil
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func valueOrDefault(value, fallback string) string {
	if trimmed := strings.TrimSpace(value); trimmed != "" {
		return trimmed
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func parseInt(value string, fallback int) int {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func parseBool(value string) bool {
	return parseBoolDefault(value, false)
}

func parseBoolDefault(value string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

// MustLoad behaves like Load but panics on error. Useful for tests and command entrypoints.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// LoadForTests allows tests to override environment variables without touching the real environment.
func LoadForTests(env map[string]string) (*Config, error) {
	original := make(map[string]string, len(env))
	for key := range env {
		original[key] = os.Getenv(key)
		if err := setEnvVar(key, env[key]); err != nil {
			return nil, err
		}
	}
	cfg, err := Load()
	restoreErr := restoreEnv(original)
	if err != nil {
		return nil, err
	}
	return cfg, restoreErr
}

func setEnvVar(key, value string) error {
	if value == "" {
		return os.Unsetenv(key)
	}
	return os.Setenv(key, value)
}

func restoreEnv(values map[string]string) error {
	var errs []string
	for key, value := range values {
		if err := setEnvVar(key, value); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("restore env: %s", strings.Join(errs, "; "))
	}
	return nil
}
