// Package config handles environment configuration and the stage routing
// table loaded from YAML with environment variable expansion.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the router configuration, read once from the environment at
// startup. Secrets (HASH_SALT, KEY_HASH_PEPPER) are validated downstream by
// security.New so a misconfigured deployment fails before serving traffic.
type Config struct {
	Addr            string
	StoreURL        string
	UpstreamBaseURL string

	DailyRequestLimit       int
	StreamingConcurrencyCap int

	HashSalt      string
	KeyHashPepper string

	StagesPath         string
	CORSAllowedOrigins []string

	LogFormat    string
	OTLPEndpoint string

	ConnectTimeout  time.Duration
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
}

// FromEnv builds a Config from environment variables, applying defaults for
// everything optional.
func FromEnv() *Config {
	return &Config{
		Addr:            ":" + envStr("PORT", "8100"),
		StoreURL:        envStr("STORE_URL", "cfx.db"),
		UpstreamBaseURL: envStr("UPSTREAM_BASE_URL", "http://upstream:4000"),

		DailyRequestLimit:       envInt("DAILY_REQUEST_LIMIT", 1000),
		StreamingConcurrencyCap: envInt("STREAMING_CONCURRENCY_CAP", 2),

		HashSalt:      os.Getenv("HASH_SALT"),
		KeyHashPepper: os.Getenv("KEY_HASH_PEPPER"),

		StagesPath:         envStr("CFX_CONFIG_PATH", "config/models.yaml"),
		CORSAllowedOrigins: envList("CORS_ALLOWED_ORIGINS", []string{"*"}),

		LogFormat:    envStr("LOG_FORMAT", "text"),
		OTLPEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),

		ConnectTimeout:  envDuration("UPSTREAM_CONNECT_TIMEOUT", 10*time.Second),
		RequestTimeout:  envDuration("UPSTREAM_REQUEST_TIMEOUT", 120*time.Second),
		ShutdownTimeout: envDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return fallback
}

func envList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
