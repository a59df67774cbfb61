package app

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/chatforge/upkeep/internal/gitremote"
	"github.com/chatforge/upkeep/internal/store"
	"github.com/chatforge/upkeep/internal/watcher"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the current version and upkeep state",
	Long: `Show the version currently deployed, whether scheduled updates are
enabled, whether the watch daemon is running, the outcome of the last
attempt, and how many backups are retained.`,
	RunE: runStatus,
}

func init() {
	RootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	resolver := gitremote.New(cfg.LiveRoot, cfg.Remote, cfg.Branch, cfg.NetworkTimeout.Std())
	current, err := resolver.CurrentVersion(ctx)
	if err != nil {
		current = "unknown (" + err.Error() + ")"
	}

	fmt.Printf("Live root:    %s\n", cfg.LiveRoot)
	fmt.Printf("Version:      %s\n", current)
	fmt.Printf("Remote:       %s/%s\n", cfg.Remote, cfg.Branch)
	fmt.Printf("Auto-update:  %s (every %s)\n", onOff(cfg.AutoUpdate), cfg.CheckInterval.Std())

	pidFile, err := getDefaultPIDFile()
	if err == nil {
		running, _ := watcher.IsDaemonRunning(pidFile)
		fmt.Printf("Watch daemon: %s\n", runningOrNot(running))
	}

	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	attempts, err := st.ListAttempts(1)
	if err != nil {
		return err
	}
	if len(attempts) == 0 {
		fmt.Printf("Last attempt: none\n")
	} else {
		a := attempts[0]
		fmt.Printf("Last attempt: %s (%s)\n", a.Status, a.StartedAt.Format("2006-01-02 15:04:05"))
		if a.Status == store.StatusFailed || a.Status == store.StatusRolledBack {
			fmt.Printf("              %s\n", a.ErrorMessage)
		}
	}

	backups, err := st.ListBackups()
	if err != nil {
		return err
	}
	unverified := 0
	for _, b := range backups {
		if !b.Verified {
			unverified++
		}
	}
	fmt.Printf("Backups:      %d retained (max %d)", len(backups), cfg.MaxBackups)
	if unverified > 0 {
		fmt.Printf(", %d UNVERIFIED — run: upkeep backups --verify", unverified)
	}
	fmt.Println()

	return nil
}

func onOff(b bool) string {
	if b {
		return "enabled"
	}
	return "disabled"
}

func runningOrNot(b bool) string {
	if b {
		return "running"
	}
	return "not running"
}
