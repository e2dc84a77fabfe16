package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{
		"PORT", "DB_DSN", "REDIS_ADDR",
		"THROTTLE_COOLDOWN_SECONDS", "THROTTLE_SWEEP_INTERVAL_SECONDS",
		"RATE_LIMIT_PER_MIN", "RATE_LIMIT_BURST", "RECAP_DEFAULT_LIMIT",
		"OTEL_EXPORTER_OTLP_ENDPOINT", "OTEL_EXPORTER_OTLP_INSECURE",
	} {
		t.Setenv(key, "")
	}

	cfg := Load()
	if cfg.Port != "8080" {
		t.Fatalf("Port = %q, want 8080", cfg.Port)
	}
	if cfg.ThrottleCooldown != 60*time.Second {
		t.Fatalf("ThrottleCooldown = %v, want 60s", cfg.ThrottleCooldown)
	}
	if cfg.RecapLimit != 5 {
		t.Fatalf("RecapLimit = %d, want 5", cfg.RecapLimit)
	}
	if cfg.OTLPEndpoint != "" || cfg.OTLPInsecure {
		t.Fatalf("OTLP config = (%q, %v), want disabled", cfg.OTLPEndpoint, cfg.OTLPInsecure)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("THROTTLE_COOLDOWN_SECONDS", "0")
	t.Setenv("RATE_LIMIT_PER_MIN", "30")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "collector:4317")
	t.Setenv("OTEL_EXPORTER_OTLP_INSECURE", "true")

	cfg := Load()
	if cfg.Port != "9090" {
		t.Fatalf("Port = %q, want 9090", cfg.Port)
	}
	if cfg.ThrottleCooldown != 0 {
		t.Fatalf("ThrottleCooldown = %v, want 0 (throttle disabled)", cfg.ThrottleCooldown)
	}
	if cfg.RateLimitPerMinute != 30 {
		t.Fatalf("RateLimitPerMinute = %d, want 30", cfg.RateLimitPerMinute)
	}
	if cfg.OTLPEndpoint != "collector:4317" || !cfg.OTLPInsecure {
		t.Fatalf("OTLP config = (%q, %v), want (collector:4317, true)", cfg.OTLPEndpoint, cfg.OTLPInsecure)
	}
}

func TestLoadIgnoresMalformedValues(t *testing.T) {
	t.Setenv("RATE_LIMIT_PER_MIN", "lots")
	t.Setenv("OTEL_EXPORTER_OTLP_INSECURE", "yep")

	cfg := Load()
	if cfg.RateLimitPerMinute != 120 {
		t.Fatalf("RateLimitPerMinute = %d, want fallback 120", cfg.RateLimitPerMinute)
	}
	if cfg.OTLPInsecure {
		t.Fatal("OTLPInsecure should fall back to false on malformed input")
	}
}
