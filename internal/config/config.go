package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/yungbote/storygraph-backend/internal/platform/envutil"
)

// Config is loaded from an optional YAML file named by STORYGRAPH_CONFIG,
// then overridden field by field from the environment.
type Config struct {
	Worker WorkerConfig `yaml:"worker"`
}

type WorkerConfig struct {
	// Concurrency caps how many documents are analyzed at once.
	Concurrency int `yaml:"concurrency"`

	// PollIntervalSeconds is the queue poll cadence.
	PollIntervalSeconds int `yaml:"poll_interval_seconds"`

	// BatchSize caps how many queued documents one poll claims.
	BatchSize int `yaml:"batch_size"`
}

func (w WorkerConfig) PollInterval() time.Duration {
	return time.Duration(w.PollIntervalSeconds) * time.Second
}

func Load() (*Config, error) {
	cfg := &Config{
		Worker: WorkerConfig{
			Concurrency:         2,
			PollIntervalSeconds: 5,
			BatchSize:           10,
		},
	}

	if path := envutil.String("STORYGRAPH_CONFIG", ""); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	cfg.Worker.Concurrency = envutil.Int("WORKER_CONCURRENCY", cfg.Worker.Concurrency)
	cfg.Worker.PollIntervalSeconds = envutil.Int("WORKER_POLL_INTERVAL_SECONDS", cfg.Worker.PollIntervalSeconds)
	cfg.Worker.BatchSize = envutil.Int("WORKER_BATCH_SIZE", cfg.Worker.BatchSize)

	if cfg.Worker.Concurrency < 1 {
		cfg.Worker.Concurrency = 1
	}
	if cfg.Worker.PollIntervalSeconds < 1 {
		cfg.Worker.PollIntervalSeconds = 1
	}
	if cfg.Worker.BatchSize < 1 {
		cfg.Worker.BatchSize = 1
	}
	return cfg, nil
}
