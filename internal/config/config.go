// Package config parses and validates all application configuration from
// environment variables using caarlos0/env/v11.
//
// Call [Load] once at startup; pass the resulting [Config] to subcommands.
// Load fails if any field tagged "required" is missing or any value is out
// of its documented range.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds all application configuration sourced from environment variables.
type Config struct {
	// ── Database ─────────────────────────────────────────────────────────────────
	DatabaseURL          string        `env:"DATABASE_URL,required,notEmpty"`
	DBMaxConns           int32         `env:"DB_MAX_CONNS"            envDefault:"10"`
	DBMaxConnIdleTime    time.Duration `env:"DB_MAX_CONN_IDLE_TIME"   envDefault:"5m"`
	DBStatementTimeoutMS int           `env:"DB_STATEMENT_TIMEOUT_MS" envDefault:"14000"`
	// DBQueryExecMode: "simple_protocol" (PgBouncer-compatible) or "extended_protocol".
	DBQueryExecMode string `env:"DB_QUERY_EXEC_MODE" envDefault:"extended_protocol"`

	// ── Server ───────────────────────────────────────────────────────────────────
	Port                   int    `env:"PORT"                     envDefault:"3001"`
	AppEnv                 string `env:"APP_ENV"                  envDefault:"development"`
	ShutdownTimeoutSeconds int    `env:"SHUTDOWN_TIMEOUT_SECONDS" envDefault:"30"`

	// ── Worker ───────────────────────────────────────────────────────────────────
	// WorkerID defaults to "<hostname>-<pid>" when unset.
	WorkerID          string `env:"WORKER_ID"`
	WorkerConcurrency int    `env:"WORKER_CONCURRENCY" envDefault:"2"`
	PollMS            int    `env:"POLL_MS"            envDefault:"1000"`
	LeaseSeconds      int    `env:"LEASE_SECONDS"      envDefault:"120"`

	// ── Logging ──────────────────────────────────────────────────────────────────
	LogLevel  string `env:"LOG_LEVEL"  envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`
}

// Load parses and validates Config from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.WorkerID == "" {
		host, err := os.Hostname()
		if err != nil {
			host = "worker"
		}
		cfg.WorkerID = fmt.Sprintf("%s-%d", host, os.Getpid())
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.AppEnv {
	case "development", "test", "production":
	default:
		return fmt.Errorf("APP_ENV must be development, test or production, got %q", c.AppEnv)
	}
	if c.Port <= 0 {
		return fmt.Errorf("PORT must be positive, got %d", c.Port)
	}
	if c.WorkerConcurrency < 1 || c.WorkerConcurrency > 32 {
		return fmt.Errorf("WORKER_CONCURRENCY must be in [1, 32], got %d", c.WorkerConcurrency)
	}
	if c.PollMS < 100 || c.PollMS > 60000 {
		return fmt.Errorf("POLL_MS must be in [100, 60000], got %d", c.PollMS)
	}
	if c.LeaseSeconds < 10 || c.LeaseSeconds > 3600 {
		return fmt.Errorf("LEASE_SECONDS must be in [10, 3600], got %d", c.LeaseSeconds)
	}
	return nil
}

// PollInterval returns POLL_MS as a duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollMS) * time.Millisecond
}

// IsDevelopment reports whether the application is running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}
