package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yml"))
	if err != nil {
		t.Fatalf("Load of missing file failed: %v", err)
	}

	def := Default()
	if cfg.AutoUpdate != def.AutoUpdate {
		t.Errorf("AutoUpdate = %v, want default %v", cfg.AutoUpdate, def.AutoUpdate)
	}
	if cfg.MaxBackups != def.MaxBackups {
		t.Errorf("MaxBackups = %d, want default %d", cfg.MaxBackups, def.MaxBackups)
	}
	if cfg.CheckInterval.Std() != 30*time.Minute {
		t.Errorf("CheckInterval = %v, want 30m", cfg.CheckInterval.Std())
	}
}

func TestLoad_OverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	content := `
auto_update: true
check_interval: 15m
max_backups: 3
network_timeout: 90s
live_root: /srv/app
remote: upstream
branch: release
health_db: data/bot.db
hooks:
  install_deps: "pip install -r requirements.txt"
  migrate_schema: "python manage.py migrate"
paths:
  critical:
    - app
    - config.yml
  essential:
    - app
  runtime_owned:
    - data
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if !cfg.AutoUpdate {
		t.Error("AutoUpdate should be true")
	}
	if cfg.CheckInterval.Std() != 15*time.Minute {
		t.Errorf("CheckInterval = %v, want 15m", cfg.CheckInterval.Std())
	}
	if cfg.NetworkTimeout.Std() != 90*time.Second {
		t.Errorf("NetworkTimeout = %v, want 90s", cfg.NetworkTimeout.Std())
	}
	if cfg.MaxBackups != 3 {
		t.Errorf("MaxBackups = %d, want 3", cfg.MaxBackups)
	}
	if cfg.LiveRoot != "/srv/app" {
		t.Errorf("LiveRoot = %q", cfg.LiveRoot)
	}
	if cfg.Remote != "upstream" || cfg.Branch != "release" {
		t.Errorf("Remote/Branch = %q/%q", cfg.Remote, cfg.Branch)
	}
	if cfg.Hooks.InstallDeps == "" || cfg.Hooks.MigrateSchema == "" {
		t.Error("hooks should be populated from the file")
	}
	if cfg.Hooks.ReloadPlugins != "" {
		t.Errorf("unset hook should stay empty, got %q", cfg.Hooks.ReloadPlugins)
	}
	if len(cfg.Paths.Critical) != 2 {
		t.Errorf("Paths.Critical = %v", cfg.Paths.Critical)
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	if err := os.WriteFile(path, []byte("check_interval: soon\n"), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	if _, err := Load(path); err == nil {
		t.Error("Load with invalid duration should fail")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	if err := os.WriteFile(path, []byte("max_backups: [not a number\n"), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	if _, err := Load(path); err == nil {
		t.Error("Load with malformed YAML should fail")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults are valid", func(c *Config) {}, false},
		{"zero max_backups", func(c *Config) { c.MaxBackups = 0 }, true},
		{"negative interval", func(c *Config) { c.CheckInterval = Duration(-time.Minute) }, true},
		{"zero network timeout", func(c *Config) { c.NetworkTimeout = 0 }, true},
		{"empty critical paths", func(c *Config) { c.Paths.Critical = nil }, true},
		{"empty remote", func(c *Config) { c.Remote = "" }, true},
		{"empty branch", func(c *Config) { c.Branch = "" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDir_RespectsXDGConfigHome(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/tmp/xdg-test")

	dir, err := Dir()
	if err != nil {
		t.Fatalf("Dir failed: %v", err)
	}
	if dir != filepath.Join("/tmp/xdg-test", "upkeep") {
		t.Errorf("Dir() = %q", dir)
	}
}
