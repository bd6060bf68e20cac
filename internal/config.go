package internal

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Env         string
	Port        int
	LogLevel    string
	DatabaseUrl string // empty selects the in-memory store (development only)

	// Frontend origin, used for checkout/portal return URLs and CORS
	FrontendURL string

	// Stripe Billing Configuration
	// Required outside development. In development the billing routes
	// answer 503 when the secret key is empty.
	StripeSecretKey      string // Stripe API secret key (sk_test_... or sk_live_...)
	StripeWebhookSecret  string // Stripe webhook signing secret (whsec_...)
	StripeMonthlyPriceID string
	StripeYearlyPriceID  string

	// Free tier metering
	FreeDailyLimit int
	UsageTimezone  string
	UsageLocation  *time.Location // parsed from UsageTimezone

	// Processed-event ledger; empty disables deduplication
	RedisURL       string
	EventLedgerTTL time.Duration

	// AI Provider Configuration
	AIProvider       string // "openai" or "mock"
	OpenAIAPIKey     string
	OpenAIBaseURL    string // OpenAI-compatible endpoint, e.g. Groq
	OpenAIModel      string
	AIMaxRetries     int
	AIRetryBaseDelay time.Duration
	AIRequestTimeout time.Duration

	// Per-IP limit on /api/generate
	GenerateRateLimit  int
	GenerateRateWindow time.Duration

	// Storage Configuration
	StorageProvider string // "local" or "r2"

	// Local Storage (development)
	LocalStoragePath string

	// R2 Storage (production)
	R2AccountID       string
	R2AccessKeyID     string
	R2SecretAccessKey string
	R2BucketName      string
	R2Endpoint        string // Optional S3-compatible endpoint override

	// Metrics endpoint authentication
	// If both are empty, the /metrics endpoint will be unprotected (not recommended)
	MetricsUsername string
	MetricsPassword string
}

// IsDevelopment reports whether the server runs in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func NewConfig() (*Config, error) {
	// Load .env file if it exists (ignored in production)
	_ = godotenv.Load()

	cfg := &Config{
		Env:         getEnv("ENV", "development"),
		Port:        getEnvInt("PORT", 8080),
		LogLevel:    getEnv("LOG_LEVEL", "debug"),
		DatabaseUrl: os.Getenv("DATABASE_URL"),

		FrontendURL: strings.TrimRight(getEnv("FRONTEND_URL", "http://localhost:3000"), "/"),

		StripeSecretKey:      getEnv("STRIPE_SECRET_KEY", ""),
		StripeWebhookSecret:  getEnv("STRIPE_WEBHOOK_SECRET", ""),
		StripeMonthlyPriceID: getEnv("STRIPE_MONTHLY_PRICE_ID", ""),
		StripeYearlyPriceID:  getEnv("STRIPE_YEARLY_PRICE_ID", ""),

		FreeDailyLimit: getEnvInt("FREE_DAILY_LIMIT", 5),
		UsageTimezone:  getEnv("USAGE_TIMEZONE", "UTC"),

		RedisURL:       getEnv("REDIS_URL", ""),
		EventLedgerTTL: getEnvDuration("EVENT_LEDGER_TTL", 72*time.Hour),

		// AI provider defaults
		AIProvider:       getEnv("AI_PROVIDER", "mock"),
		OpenAIAPIKey:     getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:    getEnv("OPENAI_BASE_URL", ""),
		OpenAIModel:      getEnv("OPENAI_MODEL", ""),
		AIMaxRetries:     getEnvInt("AI_MAX_RETRIES", 3),
		AIRetryBaseDelay: getEnvDuration("AI_RETRY_BASE_DELAY", 1*time.Second),
		AIRequestTimeout: getEnvDuration("AI_REQUEST_TIMEOUT", 60*time.Second),

		GenerateRateLimit:  getEnvInt("GENERATE_RATE_LIMIT", 20),
		GenerateRateWindow: getEnvDuration("GENERATE_RATE_WINDOW", time.Minute),

		// Storage defaults to local filesystem for development
		StorageProvider:  getEnv("STORAGE_PROVIDER", "local"),
		LocalStoragePath: getEnv("LOCAL_STORAGE_PATH", "./storage"),

		// R2 configuration (production only)
		R2AccountID:       getEnv("R2_ACCOUNT_ID", ""),
		R2AccessKeyID:     getEnv("R2_ACCESS_KEY_ID", ""),
		R2SecretAccessKey: getEnv("R2_SECRET_ACCESS_KEY", ""),
		R2BucketName:      getEnv("R2_BUCKET_NAME", ""),
		R2Endpoint:        getEnv("R2_ENDPOINT", ""),

		// Metrics authentication
		MetricsUsername: getEnv("METRICS_USERNAME", ""),
		MetricsPassword: getEnv("METRICS_PASSWORD", ""),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (cfg *Config) validate() error {
	if cfg.DatabaseUrl == "" && !cfg.IsDevelopment() {
		return fmt.Errorf("DATABASE_URL is required when ENV is %q", cfg.Env)
	}

	// Billing is optional only in development
	if !cfg.IsDevelopment() {
		if cfg.StripeSecretKey == "" {
			return fmt.Errorf("STRIPE_SECRET_KEY is required when ENV is %q", cfg.Env)
		}
		if cfg.StripeWebhookSecret == "" {
			return fmt.Errorf("STRIPE_WEBHOOK_SECRET is required when ENV is %q", cfg.Env)
		}
	}
	if cfg.StripeSecretKey != "" && (cfg.StripeMonthlyPriceID == "" || cfg.StripeYearlyPriceID == "") {
		return fmt.Errorf("STRIPE_MONTHLY_PRICE_ID and STRIPE_YEARLY_PRICE_ID are required when STRIPE_SECRET_KEY is set")
	}

	if cfg.FreeDailyLimit < 1 {
		return fmt.Errorf("FREE_DAILY_LIMIT must be positive, got: %d", cfg.FreeDailyLimit)
	}
	loc, err := time.LoadLocation(cfg.UsageTimezone)
	if err != nil {
		return fmt.Errorf("USAGE_TIMEZONE %q: %w", cfg.UsageTimezone, err)
	}
	cfg.UsageLocation = loc

	if cfg.GenerateRateLimit < 0 {
		return fmt.Errorf("GENERATE_RATE_LIMIT must not be negative, got: %d", cfg.GenerateRateLimit)
	}

	// Validate storage configuration
	switch cfg.StorageProvider {
	case "r2":
		if cfg.R2AccountID == "" && cfg.R2Endpoint == "" {
			return fmt.Errorf("R2_ACCOUNT_ID or R2_ENDPOINT is required when STORAGE_PROVIDER is 'r2'")
		}
		if cfg.R2AccessKeyID == "" {
			return fmt.Errorf("R2_ACCESS_KEY_ID is required when STORAGE_PROVIDER is 'r2'")
		}
		if cfg.R2SecretAccessKey == "" {
			return fmt.Errorf("R2_SECRET_ACCESS_KEY is required when STORAGE_PROVIDER is 'r2'")
		}
		if cfg.R2BucketName == "" {
			return fmt.Errorf("R2_BUCKET_NAME is required when STORAGE_PROVIDER is 'r2'")
		}
	case "local":
	default:
		return fmt.Errorf("STORAGE_PROVIDER must be either 'local' or 'r2', got: %s", cfg.StorageProvider)
	}

	// Validate AI provider configuration
	switch cfg.AIProvider {
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY is required when AI_PROVIDER is 'openai'")
		}
	case "mock":
	default:
		return fmt.Errorf("AI_PROVIDER must be either 'openai' or 'mock', got: %s", cfg.AIProvider)
	}

	return nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}
