package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/chatforge/upkeep/internal/watcher"
)

var (
	watchFlagDaemon      bool
	watchFlagDaemonChild bool
	watchFlagStop        bool
	watchFlagPIDFile     string
	watchFlagLogFile     string
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Run scheduled update checks in the background",
	Long: `Run the upkeep loop: trigger an update attempt on the configured
check interval, and watch the backups directory so archives deleted
out-of-band are flagged as unverified before a rollback needs them.

Runs in the foreground by default. With --daemon the loop is forked
into the background with a PID file; stop it with --stop.

Scheduled attempts respect the auto_update config flag: when it is
disabled the loop keeps running but every tick is skipped.`,
	Example: `  # Run in the foreground (Ctrl-C to stop)
  upkeep watch

  # Run as a background daemon
  upkeep watch --daemon

  # Stop the background daemon
  upkeep watch --stop`,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().BoolVar(&watchFlagDaemon, "daemon", false, "run in the background")
	watchCmd.Flags().BoolVar(&watchFlagDaemonChild, "daemon-child", false, "internal: run as the forked daemon child")
	watchCmd.Flags().BoolVar(&watchFlagStop, "stop", false, "stop a running daemon")
	watchCmd.Flags().StringVar(&watchFlagPIDFile, "pid-file", "", "PID file path (default: ~/.upkeep/watch.pid)")
	watchCmd.Flags().StringVar(&watchFlagLogFile, "log-file", "", "daemon log file path (default: ~/.upkeep/watch.log)")
	watchCmd.Flags().MarkHidden("daemon-child")

	RootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	pidFile := watchFlagPIDFile
	if pidFile == "" {
		var err error
		pidFile, err = getDefaultPIDFile()
		if err != nil {
			return err
		}
	}

	if watchFlagStop {
		if err := watcher.StopDaemon(pidFile); err != nil {
			return err
		}
		fmt.Println("✓ Watch daemon stopped.")
		return nil
	}

	w, err := buildWatcher()
	if err != nil {
		return err
	}

	switch {
	case watchFlagDaemon:
		logFile := watchFlagLogFile
		if logFile == "" {
			logFile, err = getDefaultLogFile()
			if err != nil {
				return err
			}
		}
		if err := w.StartDaemon(pidFile, logFile); err != nil {
			return err
		}
		fmt.Printf("✓ Watch daemon started (PID file: %s, log: %s)\n", pidFile, logFile)
		fmt.Println("  Stop with: upkeep watch --stop")
		return nil

	case watchFlagDaemonChild:
		return w.RunDaemon(pidFile)

	default:
		return runWatchForeground(w)
	}
}

// runWatchForeground runs the loop until SIGINT/SIGTERM.
func runWatchForeground(w *watcher.Watcher) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	if err := w.Start(); err != nil {
		return err
	}

	fmt.Println("Watching for updates (Ctrl-C to stop)...")
	<-sigCh
	fmt.Println("\nShutting down...")

	return w.Stop()
}

// buildWatcher wires the configured updater into a watcher on the
// backups directory.
func buildWatcher() (*watcher.Watcher, error) {
	ctx := context.Background()

	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	st, err := openStore()
	if err != nil {
		return nil, err
	}

	u, _, err := buildUpdater(ctx, cfg, st)
	if err != nil {
		st.Close()
		return nil, err
	}

	backupDir, err := getBackupDir()
	if err != nil {
		st.Close()
		return nil, err
	}

	w, err := watcher.New(u, st, backupDir, cfg.CheckInterval.Std())
	if err != nil {
		st.Close()
		return nil, err
	}

	return w, nil
}
