package app

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/chatforge/upkeep/internal/output"
	"github.com/chatforge/upkeep/internal/store"
)

var (
	rollbackFlagList bool
	rollbackFlagYes  bool
)

var rollbackCmd = &cobra.Command{
	Use:   "rollback [latest|attempt-id]",
	Short: "Restore the backup taken by a previous update",
	Long: `Restore the live tree from the backup a previous update attempt took
before it mutated anything.

"latest" picks the most recent attempt that has a backup. An attempt ID
(or unique prefix) picks a specific one; use --list or 'upkeep history'
to find it. The archive is verified against its manifest before any
file is touched, and a safety-net backup of the current tree is taken
so the rollback itself can be undone.

The rollback is recorded as a new ledger attempt.`,
	Example: `  # Show attempts that can be rolled back to
  upkeep rollback --list

  # Undo the most recent update
  upkeep rollback latest

  # Restore the backup of a specific attempt
  upkeep rollback 3f2a91c4`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRollback,
}

func init() {
	rollbackCmd.Flags().BoolVar(&rollbackFlagList, "list", false, "list attempts that have a restorable backup")
	rollbackCmd.Flags().BoolVar(&rollbackFlagYes, "yes", false, "skip confirmation prompt")

	RootCmd.AddCommand(rollbackCmd)
}

func runRollback(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	if rollbackFlagList {
		return listRestorable(st)
	}

	if len(args) == 0 {
		return fmt.Errorf("specify 'latest' or an attempt ID (see: upkeep rollback --list)")
	}

	target, err := resolveRollbackTarget(st, args[0])
	if err != nil {
		return err
	}

	fmt.Printf("Rolling back attempt %s (%s -> %s)\n",
		target.ID, orUnknown(target.VersionFrom), orUnknown(target.VersionTo))
	fmt.Println("The live tree will be restored from the backup taken before that update.")

	if !rollbackFlagYes {
		if !confirm("Proceed? [y/N]: ") {
			fmt.Println("Rollback cancelled.")
			return nil
		}
	}

	u, _, err := buildUpdater(ctx, cfg, st)
	if err != nil {
		return err
	}

	spinner := output.NewSpinner("Restoring backup...")
	spinner.Start()
	attempt, err := u.RollbackTo(ctx, target.ID)
	spinner.Stop()

	if err != nil {
		return err
	}

	if attempt.Status == store.StatusRolledBack {
		fmt.Printf("✓ Rolled back to %s (attempt %s)\n", attempt.VersionTo, attempt.ID)
		return nil
	}

	fmt.Fprintf(os.Stderr, "✗ Rollback failed: %s\n", attempt.ErrorMessage)
	fmt.Fprintf(os.Stderr, "  Details: upkeep history --id %s\n", attempt.ID)
	return fmt.Errorf("rollback failed")
}

// resolveRollbackTarget maps "latest" or an ID prefix to an attempt that
// has a backup to restore.
func resolveRollbackTarget(st *store.Store, arg string) (*store.Attempt, error) {
	if arg != "latest" {
		attempt, err := findAttempt(st, arg)
		if err != nil {
			return nil, err
		}
		if attempt.BackupID == 0 {
			return nil, fmt.Errorf("attempt %s has no backup to restore", attempt.ID)
		}
		return attempt, nil
	}

	attempts, err := st.ListAttempts(0)
	if err != nil {
		return nil, err
	}
	for _, a := range attempts {
		if a.BackupID != 0 && a.Status != store.StatusPending {
			return a, nil
		}
	}

	return nil, fmt.Errorf("no attempt with a restorable backup found")
}

// listRestorable prints the attempts whose backup still exists in the
// ledger.
func listRestorable(st *store.Store) error {
	attempts, err := st.ListAttempts(0)
	if err != nil {
		return err
	}

	var restorable []*store.Attempt
	for _, a := range attempts {
		if a.BackupID != 0 && a.Status != store.StatusPending {
			restorable = append(restorable, a)
		}
	}

	if len(restorable) == 0 {
		fmt.Println("No attempts with a restorable backup.")
		return nil
	}

	fmt.Print(output.RenderAttemptTable(restorable))
	fmt.Println("\nRestore one with: upkeep rollback <id>")
	return nil
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
