package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Source  SourceConfig  `yaml:"source"`
	Sync    SyncConfig    `yaml:"sync"`
	Jobs    []JobConfig   `yaml:"jobs"`
	Store   StoreConfig   `yaml:"store"`
	Logging LoggingConfig `yaml:"logging"`
	State   StateConfig   `yaml:"state"`
}

type SourceConfig struct {
	BaseURL        string  `yaml:"base_url"`
	Token          string  `yaml:"token"`
	TokenPath      string  `yaml:"token_path"` // oauth2 token saved as JSON
	TimeoutSeconds int     `yaml:"timeout_seconds"`
	RateLimit      float64 `yaml:"rate_limit"` // requests per second
	RateBurst      int     `yaml:"rate_burst"`
}

type SyncConfig struct {
	Mode             string `yaml:"mode"` // "full_drain" or "single_page"
	IntervalSeconds  int    `yaml:"interval_seconds"`
	MaxPagesPerCycle int    `yaml:"max_pages_per_cycle"`
	MaxAttempts      int    `yaml:"max_attempts"`
}

type JobConfig struct {
	Resource string `yaml:"resource"` // "attendees" or "events"
	ID       string `yaml:"id"`       // bare id or URL
}

// Key identifies the job in saved state
func (j JobConfig) Key() string {
	return j.Resource + ":" + j.ID
}

type StoreConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Path   string `yaml:"path"`
}

type StateConfig struct {
	Path string `yaml:"path"`
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[1:])
	}
	return path
}

func Load(path string) (*Config, error) {
	path = expandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (cfg *Config) applyDefaults() {
	// Source defaults
	if cfg.Source.TimeoutSeconds == 0 {
		cfg.Source.TimeoutSeconds = 30
	}
	if cfg.Source.RateLimit == 0 {
		cfg.Source.RateLimit = 10
	}
	if cfg.Source.RateBurst == 0 {
		cfg.Source.RateBurst = 5
	}
	if cfg.Source.TokenPath != "" {
		cfg.Source.TokenPath = expandPath(cfg.Source.TokenPath)
	}
	if cfg.Source.Token == "" {
		cfg.Source.Token = os.Getenv("EVENTSYNC_TOKEN")
	}

	// Sync defaults
	if cfg.Sync.Mode == "" {
		cfg.Sync.Mode = "single_page"
	}
	if cfg.Sync.IntervalSeconds == 0 {
		cfg.Sync.IntervalSeconds = 300
	}
	if cfg.Sync.MaxPagesPerCycle == 0 {
		cfg.Sync.MaxPagesPerCycle = 50
	}
	if cfg.Sync.MaxAttempts == 0 {
		cfg.Sync.MaxAttempts = 3
	}

	home, _ := os.UserHomeDir()
	if cfg.State.Path == "" {
		cfg.State.Path = filepath.Join(home, ".eventsync", "state.json")
	} else {
		cfg.State.Path = expandPath(cfg.State.Path)
	}

	if cfg.Store.Enabled && cfg.Store.Path == "" {
		cfg.Store.Path = filepath.Join(home, ".eventsync", "rows.db")
	} else if cfg.Store.Path != "" {
		cfg.Store.Path = expandPath(cfg.Store.Path)
	}

	if cfg.Logging.Path != "" {
		cfg.Logging.Path = expandPath(cfg.Logging.Path)
	}
}

// Validate checks the settings that have no usable default
func (cfg *Config) Validate() error {
	if cfg.Source.BaseURL == "" {
		return fmt.Errorf("source.base_url is required")
	}
	switch cfg.Sync.Mode {
	case "full_drain", "single_page":
	default:
		return fmt.Errorf("sync.mode must be full_drain or single_page, got %q", cfg.Sync.Mode)
	}
	for i, job := range cfg.Jobs {
		if job.Resource == "" || job.ID == "" {
			return fmt.Errorf("jobs[%d]: resource and id are required", i)
		}
	}
	return nil
}
