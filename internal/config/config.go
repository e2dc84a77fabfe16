package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port                  string
	DatabaseURL           string
	RedisAddr             string
	ThrottleCooldown      time.Duration
	ThrottleSweepInterval time.Duration
	RateLimitPerMinute    int
	RateLimitBurst        int
	RecapLimit            int
	OTLPEndpoint          string
	OTLPInsecure          bool
}

func Load() Config {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	return Config{
		Port:                  port,
		DatabaseURL:           os.Getenv("DB_DSN"),
		RedisAddr:             os.Getenv("REDIS_ADDR"),
		ThrottleCooldown:      readDurationSeconds("THROTTLE_COOLDOWN_SECONDS", 60),
		ThrottleSweepInterval: readDurationSeconds("THROTTLE_SWEEP_INTERVAL_SECONDS", 60),
		RateLimitPerMinute:    readInt("RATE_LIMIT_PER_MIN", 120),
		RateLimitBurst:        readInt("RATE_LIMIT_BURST", 30),
		RecapLimit:            readInt("RECAP_DEFAULT_LIMIT", 5),
		OTLPEndpoint:          os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		OTLPInsecure:          readBool("OTEL_EXPORTER_OTLP_INSECURE", false),
	}
}

func readDurationSeconds(key string, fallback int) time.Duration {
	value := readInt(key, fallback)
	if value <= 0 {
		return 0
	}
	return time.Duration(value) * time.Second
}

func readBool(key string, fallback bool) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return value
}

func readInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}
