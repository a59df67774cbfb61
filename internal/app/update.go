package app

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/chatforge/upkeep/internal/gitremote"
	"github.com/chatforge/upkeep/internal/output"
	"github.com/chatforge/upkeep/internal/store"
)

var (
	updateFlagCheck bool
	updateFlagYes   bool
	updateFlagForce bool
)

var updateCmd = &cobra.Command{
	Use:   "update",
	Short: "Check for a newer version and apply it",
	Long: `Check the configured git remote for a newer version and apply it to
the live tree.

Before anything is mutated, the critical paths are archived. If the
apply, a post-apply hook, or the health check fails, the archive is
restored automatically and the attempt is recorded as rolled_back.

With --check, only the version check runs; nothing is mutated and no
ledger record is created.`,
	Example: `  # Check whether an update exists
  upkeep update --check

  # Apply an update with confirmation
  upkeep update

  # Apply without prompting (for scripts)
  upkeep update --yes`,
	RunE: runUpdate,
}

func init() {
	updateCmd.Flags().BoolVar(&updateFlagCheck, "check", false, "only check for an update, do not apply")
	updateCmd.Flags().BoolVar(&updateFlagYes, "yes", false, "skip confirmation prompt")
	updateCmd.Flags().BoolVar(&updateFlagForce, "force", false, "update even when auto_update is disabled in config")

	RootCmd.AddCommand(updateCmd)
}

func runUpdate(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if updateFlagCheck {
		return runCheckOnly(ctx, gitremote.New(cfg.LiveRoot, cfg.Remote, cfg.Branch, cfg.NetworkTimeout.Std()))
	}

	if !cfg.AutoUpdate && !updateFlagForce {
		return fmt.Errorf("auto_update is disabled in the config; use --force to update anyway")
	}

	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	u, _, err := buildUpdater(ctx, cfg, st)
	if err != nil {
		return err
	}

	fmt.Printf("Current version: %s\n", u.CurrentVersion())

	if !updateFlagYes {
		if !confirm("Check for and apply an update? [y/N]: ") {
			fmt.Println("Update cancelled.")
			return nil
		}
	}

	spinner := output.NewSpinner("Updating (backup, apply, health check)...")
	spinner.Start()
	attempt, err := u.Run(ctx)
	spinner.Stop()

	if err != nil {
		return err
	}

	return reportAttempt(attempt)
}

// runCheckOnly asks the resolver whether an update exists without
// creating a ledger record or taking the update lock.
func runCheckOnly(ctx context.Context, resolver *gitremote.Resolver) error {
	upd, err := resolver.Check(ctx)
	if err != nil {
		return err
	}

	if !upd.Available {
		fmt.Println("Already up to date.")
		return nil
	}

	fmt.Printf("Update available: %s\n", upd.Version)
	if upd.Summary != "" {
		fmt.Println("\nIncoming changes:")
		for _, line := range strings.Split(upd.Summary, "\n") {
			fmt.Printf("  %s\n", line)
		}
	}
	fmt.Println("\nApply with: upkeep update")

	return nil
}

// reportAttempt prints the outcome of a finished attempt and returns an
// error for outcomes that should exit non-zero.
func reportAttempt(attempt *store.Attempt) error {
	switch attempt.Status {
	case store.StatusNoUpdate:
		fmt.Println("Already up to date.")
		return nil
	case store.StatusSuccess:
		fmt.Printf("✓ Updated to %s (attempt %s)\n", attempt.VersionTo, attempt.ID)
		return nil
	case store.StatusRolledBack:
		fmt.Fprintf(os.Stderr, "⚠  Update failed and was rolled back: %s\n", attempt.ErrorMessage)
		fmt.Fprintf(os.Stderr, "   Details: upkeep history --id %s\n", attempt.ID)
		return fmt.Errorf("update rolled back")
	default:
		fmt.Fprintf(os.Stderr, "✗ Update failed: %s\n", attempt.ErrorMessage)
		fmt.Fprintf(os.Stderr, "  Details: upkeep history --id %s\n", attempt.ID)
		return fmt.Errorf("update failed")
	}
}

// confirm prompts the user with msg and accepts "y" or "yes".
func confirm(msg string) bool {
	fmt.Print(msg)

	reader := bufio.NewReader(os.Stdin)
	response, err := reader.ReadString('\n')
	if err != nil {
		return false
	}

	response = strings.TrimSpace(strings.ToLower(response))
	return response == "y" || response == "yes"
}
