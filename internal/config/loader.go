package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Load reads and merges configuration from global and project paths.
// Order of precedence (highest to lowest): project config, global
// config, defaults. Missing files are not errors; malformed JSON
// returns an error.
func Load(globalPath, projectPath string) (*Config, error) {
	cfg := DefaultConfig()

	if globalPath != "" {
		if err := mergeConfigFile(cfg, globalPath); err != nil {
			return nil, fmt.Errorf("loading global config: %w", err)
		}
	}

	if projectPath != "" {
		if err := mergeConfigFile(cfg, projectPath); err != nil {
			return nil, fmt.Errorf("loading project config: %w", err)
		}
	}

	return cfg, nil
}

// LoadDefault loads configuration from conventional paths.
// Global: ~/.dagrun/config.json
// Project: .dagrun/config.json (relative to cwd)
func LoadDefault() (*Config, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting home directory: %w", err)
	}

	globalPath := filepath.Join(homeDir, ".dagrun", "config.json")
	projectPath := filepath.Join(".dagrun", "config.json")

	return Load(globalPath, projectPath)
}

// mergeConfigFile reads a JSON config file and merges it into the base
// config. Missing files are silently skipped.
func mergeConfigFile(base *Config, path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	var loaded Config
	if err := json.Unmarshal(data, &loaded); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}

	if loaded.Scheduler.Concurrency > 0 {
		base.Scheduler.Concurrency = loaded.Scheduler.Concurrency
	}
	if loaded.Scheduler.NodeTimeoutSeconds > 0 {
		base.Scheduler.NodeTimeoutSeconds = loaded.Scheduler.NodeTimeoutSeconds
	}
	if loaded.Scheduler.StallThreshold > 0 {
		base.Scheduler.StallThreshold = loaded.Scheduler.StallThreshold
	}
	if loaded.Retry.Default > 0 {
		base.Retry.Default = loaded.Retry.Default
	}
	for kind, max := range loaded.Retry.MaxAttempts {
		base.Retry.MaxAttempts[kind] = max
	}
	for kind, exec := range loaded.Executors {
		base.Executors[kind] = exec
	}
	if loaded.AuditLog != "" {
		base.AuditLog = loaded.AuditLog
	}
	if loaded.SnapshotDB != "" {
		base.SnapshotDB = loaded.SnapshotDB
	}

	return nil
}
