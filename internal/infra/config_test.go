package infra

import (
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("BATCH_CONCURRENCY", "")
	t.Setenv("BATCH_MAX_ATTEMPTS", "")
	t.Setenv("RATE_LIMIT_COOLDOWN_MS", "")
	t.Setenv("RETRY_MAX_DELAY_MS", "")
	t.Setenv("DATABASE_URL", "")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.Batch.Concurrency != 3 {
		t.Fatalf("Concurrency = %d, want 3", cfg.Batch.Concurrency)
	}
	if cfg.Batch.MaxAttempts != 3 {
		t.Fatalf("MaxAttempts = %d, want 3", cfg.Batch.MaxAttempts)
	}
	if cfg.Batch.RateLimitCooldown != time.Minute {
		t.Fatalf("RateLimitCooldown = %s, want 1m", cfg.Batch.RateLimitCooldown)
	}
	if cfg.HasDatabase() {
		t.Fatal("expected no database without DATABASE_URL")
	}
}

func TestLoadConfigHonorsBatchOverrides(t *testing.T) {
	t.Setenv("BATCH_CONCURRENCY", "5")
	t.Setenv("POLL_INTERVAL_MS", "250")
	t.Setenv("RETRY_MULTIPLIER", "1.5")
	t.Setenv("DATABASE_URL", "postgres://example")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.Batch.Concurrency != 5 {
		t.Fatalf("Concurrency = %d, want 5", cfg.Batch.Concurrency)
	}
	if cfg.Batch.PollInterval != 250*time.Millisecond {
		t.Fatalf("PollInterval = %s, want 250ms", cfg.Batch.PollInterval)
	}
	if cfg.Batch.RetryMultiplier != 1.5 {
		t.Fatalf("RetryMultiplier = %v, want 1.5", cfg.Batch.RetryMultiplier)
	}
	if !cfg.HasDatabase() {
		t.Fatal("expected database to be configured")
	}
}

func TestLoadConfigRejectsCooldownBelowBackoffCap(t *testing.T) {
	t.Setenv("RETRY_MAX_DELAY_MS", "5000")
	t.Setenv("RATE_LIMIT_COOLDOWN_MS", "5000")

	if _, err := LoadConfig(); err == nil {
		t.Fatal("expected error when cooldown does not exceed the backoff cap")
	}
}

func TestLoadConfigRejectsNonPositiveConcurrency(t *testing.T) {
	t.Setenv("BATCH_CONCURRENCY", "0")

	if _, err := LoadConfig(); err == nil {
		t.Fatal("expected error for zero concurrency")
	}
}

func TestLoadConfigParsesControlSurface(t *testing.T) {
	t.Setenv("CORS_ALLOWED_ORIGINS", " https://a.example.com, ,https://b.example.com ")
	t.Setenv("CONTROL_RATE_LIMIT_PER_MINUTE", "5")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if len(cfg.CORSAllowedOrigins) != 2 || cfg.CORSAllowedOrigins[1] != "https://b.example.com" {
		t.Fatalf("CORSAllowedOrigins = %v", cfg.CORSAllowedOrigins)
	}
	if cfg.ControlRateLimit != 5 {
		t.Fatalf("ControlRateLimit = %d, want 5", cfg.ControlRateLimit)
	}
}
