// Package config loads the upkeep configuration file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML values like "90s" or "15m" parse.
type Duration time.Duration

// UnmarshalYAML parses a duration string via time.ParseDuration.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// PathSet is the single source of truth for which live-tree paths the
// engine touches. All entries are relative to the live root.
type PathSet struct {
	// Critical paths are archived by every backup. Together they are the
	// application's recoverable state.
	Critical []string `yaml:"critical"`

	// Essential paths must be present in an archive for it to verify.
	Essential []string `yaml:"essential"`

	// RuntimeOwned paths are never overwritten when a staged version is
	// applied (local database, secrets, logs, prior backups).
	RuntimeOwned []string `yaml:"runtime_owned"`
}

// Hooks are the post-apply commands, run with `sh -c` in the live root.
// Empty commands are skipped.
type Hooks struct {
	InstallDeps   string `yaml:"install_deps"`
	MigrateSchema string `yaml:"migrate_schema"`
	ReloadPlugins string `yaml:"reload_plugins"`
}

// Config holds all upkeep settings.
type Config struct {
	AutoUpdate     bool     `yaml:"auto_update"`
	CheckInterval  Duration `yaml:"check_interval"`
	MaxBackups     int      `yaml:"max_backups"`
	NetworkTimeout Duration `yaml:"network_timeout"`

	// LiveRoot is the deployed application checkout that updates mutate.
	LiveRoot string `yaml:"live_root"`
	Remote   string `yaml:"remote"`
	Branch   string `yaml:"branch"`

	// HealthDB is the application's runtime database, opened read-only by
	// the post-apply health check. Relative to LiveRoot; empty disables
	// the database part of the check.
	HealthDB string `yaml:"health_db"`

	Hooks Hooks   `yaml:"hooks"`
	Paths PathSet `yaml:"paths"`
}

// Default returns the built-in configuration for a conventional
// bot/web-app checkout layout.
func Default() *Config {
	return &Config{
		AutoUpdate:     false,
		CheckInterval:  Duration(30 * time.Minute),
		MaxBackups:     5,
		NetworkTimeout: Duration(2 * time.Minute),
		LiveRoot:       ".",
		Remote:         "origin",
		Branch:         "main",
		HealthDB:       "data/app.db",
		Paths: PathSet{
			Critical: []string{
				"app",
				"plugins",
				"templates",
				"static",
				"config.yml",
				"data/app.db",
			},
			Essential: []string{
				"app",
				"config.yml",
			},
			RuntimeOwned: []string{
				"data/app.db",
				"data/app.db-wal",
				"data/app.db-shm",
				".env",
				"logs",
				"backups",
			},
		},
	}
}

// Dir returns the upkeep config directory, respecting XDG_CONFIG_HOME.
// Defaults to ~/.config/upkeep if XDG_CONFIG_HOME is not set.
func Dir() (string, error) {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "upkeep"), nil
}

// Load reads the config file at path on top of the defaults. A missing
// file is not an error: the defaults are returned unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", path, err)
	}

	return cfg, nil
}

// Validate checks settings that would make the engine misbehave silently.
func (c *Config) Validate() error {
	if c.MaxBackups < 1 {
		return fmt.Errorf("max_backups must be at least 1, got %d", c.MaxBackups)
	}
	if c.CheckInterval.Std() <= 0 {
		return fmt.Errorf("check_interval must be positive")
	}
	if c.NetworkTimeout.Std() <= 0 {
		return fmt.Errorf("network_timeout must be positive")
	}
	if len(c.Paths.Critical) == 0 {
		return fmt.Errorf("paths.critical must not be empty")
	}
	if c.Remote == "" || c.Branch == "" {
		return fmt.Errorf("remote and branch must be set")
	}
	return nil
}
