package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/chatforge/upkeep/internal/applier"
	"github.com/chatforge/upkeep/internal/archive"
	"github.com/chatforge/upkeep/internal/config"
	"github.com/chatforge/upkeep/internal/gitremote"
	"github.com/chatforge/upkeep/internal/store"
	"github.com/chatforge/upkeep/internal/updater"
)

var (
	cfgPath string
	dbPath  string

	// RootCmd is the root command for upkeep
	RootCmd = &cobra.Command{
		Use:   "upkeep",
		Short: "Self-update and rollback engine for a deployed application",
		Long: `upkeep keeps a locally deployed application up to date from its git
remote, with automatic backups and rollback.

Every update follows the same sequence: check the remote for a newer
version, archive the application's critical files, apply the new
version, run the post-apply hooks (dependency install, schema
migration, plugin reload), and health-check the result. If anything
fails after the live tree was touched, the backup is restored
automatically. Every attempt is recorded in a local ledger.

Quick Start:
  1. upkeep status            # verify upkeep can see your checkout
  2. upkeep update            # check + apply one update
  3. upkeep watch --daemon    # keep checking on a schedule
  4. upkeep history           # audit what happened

Features:
  • Snapshot of critical paths before every mutation
  • Automatic rollback on apply or health-check failure
  • Manual rollback to any retained backup
  • Durable, queryable attempt history
  • Count-bounded backup retention

Examples:
  # Check for and apply an update
  upkeep update

  # See what the last attempts did
  upkeep history

  # Roll back the last applied update
  upkeep rollback latest

  # Inspect and prune backups
  upkeep backups --verify`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println("upkeep: self-update and rollback engine")
			fmt.Println()
			fmt.Println("Run 'upkeep status' to check the current state.")
			fmt.Println("Run 'upkeep --help' for the full reference.")
			return nil
		},
	}
)

func init() {
	RootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "config file (default: $XDG_CONFIG_HOME/upkeep/config.yml)")
	RootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "ledger database path (default: ~/.upkeep/upkeep.db)")

	// Enable cobra's built-in suggestion feature for unknown subcommands
	RootCmd.SuggestionsMinimumDistance = 2
}

// Execute runs the root command
func Execute() error {
	return RootCmd.Execute()
}

// loadConfig reads the config file named by --config, falling back to
// the XDG default location.
func loadConfig() (*config.Config, error) {
	path := cfgPath
	if path == "" {
		dir, err := config.Dir()
		if err != nil {
			return nil, fmt.Errorf("failed to locate config directory: %w", err)
		}
		path = filepath.Join(dir, "config.yml")
	}
	return config.Load(path)
}

// getDataDir returns ~/.upkeep, creating it if needed.
func getDataDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}

	dataDir := filepath.Join(home, ".upkeep")
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create upkeep directory: %w", err)
	}

	return dataDir, nil
}

// getDBPath returns the ledger database path, using the flag value or default.
func getDBPath() (string, error) {
	if dbPath != "" {
		return dbPath, nil
	}

	dataDir, err := getDataDir()
	if err != nil {
		return "", err
	}

	return filepath.Join(dataDir, "upkeep.db"), nil
}

// getBackupDir returns the directory where archives are stored.
func getBackupDir() (string, error) {
	dataDir, err := getDataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dataDir, "backups"), nil
}

// getDefaultPIDFile returns the default PID file path for the watch daemon.
func getDefaultPIDFile() (string, error) {
	dataDir, err := getDataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dataDir, "watch.pid"), nil
}

// getDefaultLogFile returns the default log file path for the watch daemon.
func getDefaultLogFile() (string, error) {
	dataDir, err := getDataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dataDir, "watch.log"), nil
}

// openStore opens the ledger database and ensures its schema exists.
func openStore() (*store.Store, error) {
	path, err := getDBPath()
	if err != nil {
		return nil, err
	}

	st, err := store.New(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger database: %w", err)
	}

	if err := st.CreateSchema(); err != nil {
		st.Close()
		return nil, err
	}

	return st, nil
}

// buildUpdater wires the archive store, version resolver, applier and
// health check into an Updater for the configured live root.
func buildUpdater(ctx context.Context, cfg *config.Config, st *store.Store) (*updater.Updater, *archive.Store, error) {
	backupDir, err := getBackupDir()
	if err != nil {
		return nil, nil, err
	}

	archives := archive.New(st, cfg.LiveRoot, backupDir, cfg.Paths, cfg.MaxBackups)
	resolver := gitremote.New(cfg.LiveRoot, cfg.Remote, cfg.Branch, cfg.NetworkTimeout.Std())

	current, err := resolver.CurrentVersion(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("is %s a git checkout? %w", cfg.LiveRoot, err)
	}

	app := applier.New(cfg.LiveRoot, cfg.Paths.RuntimeOwned, buildHooks(cfg.Hooks))
	health := updater.HealthCheck(cfg.LiveRoot, cfg.Paths.Essential, cfg.HealthDB)

	u := updater.New(st, archives, resolver, app, health, current, cfg.AutoUpdate)
	return u, archives, nil
}

// buildHooks converts the configured hook commands into applier hooks,
// skipping empty ones. Order matters: dependencies, then schema, then
// the plugin reload.
func buildHooks(h config.Hooks) []applier.Hook {
	var hooks []applier.Hook
	if h.InstallDeps != "" {
		hooks = append(hooks, applier.Hook{Name: "install_deps", Command: h.InstallDeps})
	}
	if h.MigrateSchema != "" {
		hooks = append(hooks, applier.Hook{Name: "migrate_schema", Command: h.MigrateSchema})
	}
	if h.ReloadPlugins != "" {
		hooks = append(hooks, applier.Hook{Name: "reload_plugins", Command: h.ReloadPlugins})
	}
	return hooks
}
