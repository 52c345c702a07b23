package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv             string
	Port               string
	DatabaseURL        string
	StoragePath        string
	SettingsPath       string
	DashScopeBaseURL   string
	DashScopeModel     string
	CredentialPlatform string
	CORSAllowedOrigins []string
	ControlRateLimit   int
	DefaultLocale      string
	HTTPReadTimeout    time.Duration
	HTTPWriteTimeout   time.Duration
	HTTPIdleTimeout    time.Duration
	ProviderTimeout    time.Duration

	Batch BatchConfig
}

// BatchConfig tunes the submit/poll/materialize engine.
type BatchConfig struct {
	Concurrency       int
	MaxAttempts       int
	BatchDelay        time.Duration
	RetryBaseDelay    time.Duration
	RetryMaxDelay     time.Duration
	RetryMultiplier   float64
	RetryJitter       float64
	RateLimitCooldown time.Duration
	PollInterval      time.Duration
	PollTimeout       time.Duration
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
// Values from .env and .env.local are merged in first when those files exist.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load(".env", ".env.local")

	cfg := &Config{
		AppEnv:             getEnv("APP_ENV", "development"),
		Port:               getEnv("PORT", "8080"),
		DatabaseURL:        strings.TrimSpace(os.Getenv("DATABASE_URL")),
		StoragePath:        getEnv("STORAGE_PATH", "./storage"),
		SettingsPath:       getEnv("SETTINGS_PATH", "./settings.json"),
		DashScopeBaseURL:   getEnv("DASHSCOPE_BASE_URL", "https://dashscope-intl.aliyuncs.com/api/v1"),
		DashScopeModel:     getEnv("DASHSCOPE_MODEL", "wanx2.1-t2i-turbo"),
		CredentialPlatform: getEnv("CREDENTIAL_PLATFORM", "dashscope"),
		CORSAllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS"),
		ControlRateLimit:   getEnvInt("CONTROL_RATE_LIMIT_PER_MINUTE", 30),
		DefaultLocale:      getEnv("DEFAULT_LOCALE", "en"),
		HTTPReadTimeout:    time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout:   time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 30)),
		HTTPIdleTimeout:    time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		ProviderTimeout:    time.Second * time.Duration(getEnvInt("PROVIDER_TIMEOUT_SECONDS", 60)),
		Batch: BatchConfig{
			Concurrency:       getEnvInt("BATCH_CONCURRENCY", 3),
			MaxAttempts:       getEnvInt("BATCH_MAX_ATTEMPTS", 3),
			BatchDelay:        time.Millisecond * time.Duration(getEnvInt("BATCH_DELAY_MS", 1000)),
			RetryBaseDelay:    time.Millisecond * time.Duration(getEnvInt("RETRY_BASE_DELAY_MS", 1000)),
			RetryMaxDelay:     time.Millisecond * time.Duration(getEnvInt("RETRY_MAX_DELAY_MS", 30000)),
			RetryMultiplier:   getEnvFloat("RETRY_MULTIPLIER", 2),
			RetryJitter:       getEnvFloat("RETRY_JITTER", 0.2),
			RateLimitCooldown: time.Millisecond * time.Duration(getEnvInt("RATE_LIMIT_COOLDOWN_MS", 60000)),
			PollInterval:      time.Millisecond * time.Duration(getEnvInt("POLL_INTERVAL_MS", 5000)),
			PollTimeout:       time.Second * time.Duration(getEnvInt("POLL_TIMEOUT_SECONDS", 600)),
		},
	}

	if cfg.Batch.Concurrency <= 0 {
		return nil, fmt.Errorf("BATCH_CONCURRENCY must be positive, got %d", cfg.Batch.Concurrency)
	}
	if cfg.Batch.MaxAttempts <= 0 {
		return nil, fmt.Errorf("BATCH_MAX_ATTEMPTS must be positive, got %d", cfg.Batch.MaxAttempts)
	}
	if cfg.Batch.RetryMultiplier < 1 {
		return nil, fmt.Errorf("RETRY_MULTIPLIER must be >= 1, got %v", cfg.Batch.RetryMultiplier)
	}
	if cfg.Batch.RetryJitter < 0 || cfg.Batch.RetryJitter >= 1 {
		return nil, fmt.Errorf("RETRY_JITTER must be within [0,1), got %v", cfg.Batch.RetryJitter)
	}
	if cfg.Batch.RateLimitCooldown <= cfg.Batch.RetryMaxDelay {
		return nil, fmt.Errorf("RATE_LIMIT_COOLDOWN_MS (%s) must exceed RETRY_MAX_DELAY_MS (%s)",
			cfg.Batch.RateLimitCooldown, cfg.Batch.RetryMaxDelay)
	}
	if cfg.Batch.PollInterval <= 0 || cfg.Batch.PollTimeout <= 0 {
		return nil, fmt.Errorf("POLL_INTERVAL_MS and POLL_TIMEOUT_SECONDS must be positive")
	}

	return cfg, nil
}

// HasDatabase reports whether a Postgres connection was configured.
func (c *Config) HasDatabase() bool {
	return c != nil && c.DatabaseURL != ""
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
