package config

import (
	"strings"
	"testing"
)

func setBaseEnv(t *testing.T) {
	t.Helper()
	t.Setenv("DATABASE_URL", "postgres://localhost:5432/app")
}

func TestLoadDefaults(t *testing.T) {
	setBaseEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 3001 {
		t.Errorf("Port = %d, want 3001", cfg.Port)
	}
	if cfg.AppEnv != "development" {
		t.Errorf("AppEnv = %q, want development", cfg.AppEnv)
	}
	if cfg.WorkerConcurrency != 2 {
		t.Errorf("WorkerConcurrency = %d, want 2", cfg.WorkerConcurrency)
	}
	if cfg.PollMS != 1000 {
		t.Errorf("PollMS = %d, want 1000", cfg.PollMS)
	}
	if cfg.LeaseSeconds != 120 {
		t.Errorf("LeaseSeconds = %d, want 120", cfg.LeaseSeconds)
	}
	if cfg.WorkerID == "" || !strings.Contains(cfg.WorkerID, "-") {
		t.Errorf("WorkerID = %q, want <hostname>-<pid> default", cfg.WorkerID)
	}
}

func TestLoadRequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")

	if _, err := Load(); err == nil {
		t.Fatal("Load succeeded without DATABASE_URL")
	}
}

func TestLoadValidatesRanges(t *testing.T) {
	cases := []struct {
		name, key, value string
	}{
		{"concurrency low", "WORKER_CONCURRENCY", "0"},
		{"concurrency high", "WORKER_CONCURRENCY", "33"},
		{"poll low", "POLL_MS", "50"},
		{"poll high", "POLL_MS", "60001"},
		{"lease low", "LEASE_SECONDS", "5"},
		{"lease high", "LEASE_SECONDS", "3601"},
		{"bad env", "APP_ENV", "staging"},
		{"bad port", "PORT", "0"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			setBaseEnv(t)
			t.Setenv(tc.key, tc.value)
			if _, err := Load(); err == nil {
				t.Fatalf("Load accepted %s=%s", tc.key, tc.value)
			}
		})
	}
}

func TestWorkerIDOverride(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("WORKER_ID", "custom-worker")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.WorkerID != "custom-worker" {
		t.Errorf("WorkerID = %q, want custom-worker", cfg.WorkerID)
	}
}

func TestPollInterval(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("POLL_MS", "250")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := cfg.PollInterval().Milliseconds(); got != 250 {
		t.Errorf("PollInterval = %dms, want 250ms", got)
	}
}
