// Package config loads the application configuration: scoring weights,
// ledger tuning, run bookkeeping limits, and file paths. Values come from a
// YAML file with environment variables taking precedence.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/Sixshoes/ai-music-assistant-sub000/pkg/command"
	"github.com/Sixshoes/ai-music-assistant-sub000/pkg/scorer"
)

// Config holds the application configuration.
type Config struct {
	Weights scorer.Weights `yaml:"weights"`
	// Preferred maps a category name to the backend ids that get the
	// preferred-for-category bonus.
	Preferred map[string][]string `yaml:"preferred,omitempty"`

	EMAWeight      float64 `yaml:"ema_weight,omitempty" env:"MAESTRO_EMA_WEIGHT"`
	MinTierSamples int     `yaml:"min_tier_samples,omitempty" env:"MAESTRO_MIN_TIER_SAMPLES"`
	RecencyWindow  int     `yaml:"recency_window,omitempty" env:"MAESTRO_RECENCY_WINDOW"`
	MaxAttempts    int     `yaml:"max_attempts,omitempty" env:"MAESTRO_MAX_ATTEMPTS"`

	RunTTLMinutes       int `yaml:"run_ttl_minutes,omitempty" env:"MAESTRO_RUN_TTL_MINUTES"`
	ReapIntervalSeconds int `yaml:"reap_interval_seconds,omitempty" env:"MAESTRO_REAP_INTERVAL_SECONDS"`
	FlushDebounceMs     int `yaml:"flush_debounce_ms,omitempty" env:"MAESTRO_FLUSH_DEBOUNCE_MS"`

	LedgerPath      string `yaml:"ledger_path,omitempty" env:"MAESTRO_LEDGER_PATH"`
	DecisionLogPath string `yaml:"decision_log_path,omitempty" env:"MAESTRO_DECISION_LOG_PATH"`
	Debug           bool   `yaml:"debug,omitempty" env:"MAESTRO_DEBUG"`
}

// Default returns the configuration with every default applied and paths
// rooted under ~/.maestro.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// Load reads configuration from an optional YAML file, then applies
// environment overrides and defaults. An empty path loads defaults and
// environment only.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	applyDefaults(cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Weights == (scorer.Weights{}) {
		cfg.Weights = scorer.DefaultWeights()
	}
	if cfg.EMAWeight <= 0 || cfg.EMAWeight >= 1 {
		cfg.EMAWeight = 0.2
	}
	if cfg.MinTierSamples <= 0 {
		cfg.MinTierSamples = 5
	}
	if cfg.RecencyWindow <= 0 {
		cfg.RecencyWindow = 10
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RunTTLMinutes <= 0 {
		cfg.RunTTLMinutes = 60
	}
	if cfg.ReapIntervalSeconds <= 0 {
		cfg.ReapIntervalSeconds = 300
	}
	if cfg.FlushDebounceMs <= 0 {
		cfg.FlushDebounceMs = 500
	}
	if cfg.LedgerPath == "" || cfg.DecisionLogPath == "" {
		if dir, err := stateDir(); err == nil {
			if cfg.LedgerPath == "" {
				cfg.LedgerPath = filepath.Join(dir, "ledger.json")
			}
			if cfg.DecisionLogPath == "" {
				cfg.DecisionLogPath = filepath.Join(dir, "decisions.log")
			}
		}
	}
}

// RunTTL returns the run retention TTL as a duration.
func (c *Config) RunTTL() time.Duration {
	return time.Duration(c.RunTTLMinutes) * time.Minute
}

// ReapInterval returns the reaper period as a duration.
func (c *Config) ReapInterval() time.Duration {
	return time.Duration(c.ReapIntervalSeconds) * time.Second
}

// FlushDebounce returns the ledger flush debounce as a duration.
func (c *Config) FlushDebounce() time.Duration {
	return time.Duration(c.FlushDebounceMs) * time.Millisecond
}

// PreferredByCategory converts the preferred table to typed category keys,
// dropping unknown categories.
func (c *Config) PreferredByCategory() map[command.Category][]string {
	if len(c.Preferred) == 0 {
		return nil
	}
	out := make(map[command.Category][]string, len(c.Preferred))
	for name, ids := range c.Preferred {
		cat := command.Category(name)
		if cat.Valid() {
			out[cat] = ids
		}
	}
	return out
}

func stateDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(home, ".maestro")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	return dir, nil
}
