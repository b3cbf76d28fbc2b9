// Package config loads the engine configuration: where state lives, which
// capabilities are available, and the operational thresholds that are not
// part of any workflow definition.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the engine configuration.
type Config struct {
	BaseDir           string                `yaml:"base_dir,omitempty"`
	WorkflowsDir      string                `yaml:"workflows_dir,omitempty"`
	Workdir           string                `yaml:"workdir,omitempty"`
	LockStaleAfter    time.Duration         `yaml:"lock_stale_after,omitempty"`
	DefaultCapability string                `yaml:"default_capability,omitempty"`
	CapabilityTimeout time.Duration         `yaml:"capability_timeout,omitempty"`
	ProtectedTargets  []string              `yaml:"protected_targets,omitempty"`
	Capabilities      map[string]Capability `yaml:"capabilities,omitempty"`
	RecoveryHandlers  map[string]Capability `yaml:"recovery_handlers,omitempty"`
}

// Capability is one external command the engine can invoke for steps or
// recovery handling.
type Capability struct {
	Command string        `yaml:"command"`
	Timeout time.Duration `yaml:"timeout,omitempty"`
}

// Load reads and parses an engine configuration from the given YAML file
// path, then fills in defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	if err := applyDefaults(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadDefault searches standard locations and loads the first config
// found, or returns a fully defaulted config when none exists. Search
// order: ./forgeline.yaml, ~/.forgeline/config.yaml
func LoadDefault() (*Config, error) {
	candidates := []string{"forgeline.yaml"}

	home, err := os.UserHomeDir()
	if err == nil {
		candidates = append(candidates, filepath.Join(home, ".forgeline", "config.yaml"))
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}

	cfg := &Config{}
	if err := applyDefaults(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults fills unset fields. State defaults to ~/.forgeline.
func applyDefaults(cfg *Config) error {
	if cfg.BaseDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("get home directory: %w", err)
		}
		cfg.BaseDir = filepath.Join(home, ".forgeline")
	}
	if cfg.WorkflowsDir == "" {
		cfg.WorkflowsDir = filepath.Join(cfg.BaseDir, "workflows")
	}
	if cfg.LockStaleAfter <= 0 {
		cfg.LockStaleAfter = 5 * time.Minute
	}
	if cfg.CapabilityTimeout <= 0 {
		cfg.CapabilityTimeout = 10 * time.Minute
	}
	return nil
}

// RunsDir returns the per-run state directory.
func (c *Config) RunsDir() string {
	return filepath.Join(c.BaseDir, "runs")
}

// LocksDir returns the context lock directory.
func (c *Config) LocksDir() string {
	return filepath.Join(c.BaseDir, "locks")
}

// DBPath returns the project database path.
func (c *Config) DBPath() string {
	return filepath.Join(c.BaseDir, "forgeline.db")
}
