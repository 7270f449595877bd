// Package config loads the system's small set of settings from defaults,
// an optional YAML file, and environment-variable overrides.
package config

import (
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds every recognized environment option from spec.md §6. The
// optional YAML file sets these same fields; there are no YAML-only fields.
type Config struct {
	StoragePath    string `yaml:"storage_path"`
	DashboardPort  int    `yaml:"dashboard_port"`
	MaxWorkers     int    `yaml:"max_workers"`
	MaxRetries     int    `yaml:"max_retries"`
	SkipTest       bool   `yaml:"skip_test"`
	AgentPath      string `yaml:"agent_path"`
}

func defaults() Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return Config{
		StoragePath:   filepath.Join(home, ".batchctl", "batchctl.db"),
		DashboardPort: 8787,
		MaxWorkers:    4,
		MaxRetries:    3,
		SkipTest:      false,
		AgentPath:     "claude",
	}
}

// Load reads defaults, overlays an optional YAML config file
// (config.yaml beside the default database path, ~/.batchctl/config.yaml,
// or the path given by BATCHCTL_CONFIG),
// then applies environment variable overrides, in that order.
func Load() (Config, error) {
	cfg := defaults()

	yamlPath := os.Getenv("BATCHCTL_CONFIG")
	if yamlPath == "" {
		yamlPath = filepath.Join(filepath.Dir(cfg.StoragePath), "config.yaml")
	}
	if data, err := os.ReadFile(yamlPath); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, err
		}
	}

	if v := os.Getenv("BATCHCTL_STORAGE_PATH"); v != "" {
		cfg.StoragePath = v
	}
	if v := os.Getenv("BATCHCTL_DASHBOARD_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.DashboardPort = n
		}
	}
	if v := os.Getenv("BATCHCTL_MAX_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxWorkers = n
		}
	}
	if v := os.Getenv("BATCHCTL_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxRetries = n
		}
	}
	if v := os.Getenv("BATCHCTL_SKIP_TEST"); v != "" {
		cfg.SkipTest = v == "1" || v == "true"
	}
	if v := os.Getenv("BATCHCTL_AGENT_PATH"); v != "" {
		cfg.AgentPath = v
	}

	return cfg, nil
}

// EnsureStorageDir creates the directory holding the database file.
func (c Config) EnsureStorageDir() error {
	return os.MkdirAll(filepath.Dir(c.StoragePath), 0755)
}
