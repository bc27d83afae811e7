// Package config loads server configuration from the environment, with
// optional .env support for local development.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/shopbook/ledger/internal/ledger"
)

// Config holds everything cmd/server needs to wire the engine.
type Config struct {
	// Port is the HTTP API listen port.
	Port string

	// MetricsAddr is the ops listener address serving /metrics and
	// /healthz. Empty disables it.
	MetricsAddr string

	// DBPath is the SQLite database file. Empty selects the in-memory
	// store (dev/demo mode; nothing survives a restart).
	DBPath string

	// AllowedOrigins configures CORS on the API.
	AllowedOrigins string

	// BodyLimitBytes caps request bodies.
	BodyLimitBytes int

	// DriftInterval is how often the background consistency check
	// sweeps all customers.
	DriftInterval time.Duration

	// Ledger holds the processor's optimistic retry settings.
	Ledger ledger.Config
}

// Load reads configuration from the environment. A missing .env file is
// fine; explicit environment variables always win.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		Port:           envStr("PORT", "8080"),
		MetricsAddr:    envStr("METRICS_ADDR", ":9090"),
		DBPath:         os.Getenv("DB_PATH"),
		AllowedOrigins: envStr("ALLOWED_ORIGINS", "*"),
		BodyLimitBytes: envInt("BODY_LIMIT_MB", 4) * 1024 * 1024,
		DriftInterval:  envDuration("DRIFT_CHECK_INTERVAL", time.Minute),
		Ledger: ledger.Config{
			MaxAttempts: envInt("LEDGER_MAX_ATTEMPTS", 0),
			BackoffBase: envDuration("LEDGER_BACKOFF_BASE", 0),
			BackoffMax:  envDuration("LEDGER_BACKOFF_MAX", 0),
		},
	}
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
