package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Worker.Concurrency != 2 || cfg.Worker.PollIntervalSeconds != 5 || cfg.Worker.BatchSize != 10 {
		t.Fatalf("unexpected defaults: %+v", cfg.Worker)
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := "worker:\n  concurrency: 4\n  poll_interval_seconds: 30\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("STORYGRAPH_CONFIG", path)
	t.Setenv("WORKER_CONCURRENCY", "7")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Worker.Concurrency != 7 {
		t.Fatalf("env override lost: %d", cfg.Worker.Concurrency)
	}
	if cfg.Worker.PollIntervalSeconds != 30 {
		t.Fatalf("file value lost: %d", cfg.Worker.PollIntervalSeconds)
	}
	if cfg.Worker.BatchSize != 10 {
		t.Fatalf("default lost: %d", cfg.Worker.BatchSize)
	}
}

func TestLoadClampsInvalidValues(t *testing.T) {
	t.Setenv("WORKER_CONCURRENCY", "-3")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Worker.Concurrency != 1 {
		t.Fatalf("negative concurrency not clamped: %d", cfg.Worker.Concurrency)
	}
}
