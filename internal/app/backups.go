package app

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/chatforge/upkeep/internal/archive"
	"github.com/chatforge/upkeep/internal/output"
)

var (
	backupsFlagVerify bool
	backupsFlagPrune  bool
	backupsFlagDelete int64
	backupsFlagCreate bool
)

var backupsCmd = &cobra.Command{
	Use:   "backups",
	Short: "List, verify, create and prune backup archives",
	Long: `Manage the backup archives upkeep takes before each update.

By default lists the retained backups, newest first. --verify re-checks
every archive against its manifest (per-file SHA-256) and records the
result; a backup that fails verification is refused by rollback until
it verifies again. --prune evicts the oldest backups beyond the
configured retention count. --create takes a backup right now, outside
any update.`,
	Example: `  # List retained backups
  upkeep backups

  # Re-verify every archive against its manifest
  upkeep backups --verify

  # Take an ad-hoc backup of the critical paths
  upkeep backups --create

  # Evict backups beyond the retention limit
  upkeep backups --prune

  # Remove one backup and its archive
  upkeep backups --delete 7`,
	RunE: runBackups,
}

func init() {
	backupsCmd.Flags().BoolVar(&backupsFlagVerify, "verify", false, "verify all archives against their manifests")
	backupsCmd.Flags().BoolVar(&backupsFlagPrune, "prune", false, "evict backups beyond the retention limit")
	backupsCmd.Flags().Int64Var(&backupsFlagDelete, "delete", 0, "delete the backup with this ID")
	backupsCmd.Flags().BoolVar(&backupsFlagCreate, "create", false, "take a backup now")

	RootCmd.AddCommand(backupsCmd)
}

func runBackups(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	backupDir, err := getBackupDir()
	if err != nil {
		return err
	}

	archives := archive.New(st, cfg.LiveRoot, backupDir, cfg.Paths, cfg.MaxBackups)

	switch {
	case backupsFlagCreate:
		spinner := output.NewSpinner("Creating backup archive...")
		spinner.Start()
		b, err := archives.Create("manual backup")
		spinner.Stop()
		if err != nil {
			return err
		}
		fmt.Printf("✓ Backup %d created: %s (%s)\n", b.ID, b.ArchivePath, output.FormatSize(b.SizeBytes))
		return nil

	case backupsFlagVerify:
		return verifyAllBackups(archives)

	case backupsFlagPrune:
		evicted, err := archives.EnforceRetention()
		if err != nil {
			return err
		}
		fmt.Printf("Evicted %d backup(s); at most %d are retained.\n", evicted, cfg.MaxBackups)
		return nil

	case backupsFlagDelete != 0:
		b, err := st.GetBackup(backupsFlagDelete)
		if err != nil {
			return err
		}
		if err := archives.Delete(b); err != nil {
			return err
		}
		fmt.Printf("✓ Backup %d deleted.\n", b.ID)
		return nil

	default:
		backups, err := archives.List()
		if err != nil {
			return err
		}
		fmt.Print(output.RenderBackupTable(backups))
		return nil
	}
}

// verifyAllBackups re-checks every retained archive and reports
// per-backup results. Returns an error if any archive fails so the
// command exits non-zero.
func verifyAllBackups(archives *archive.Store) error {
	backups, err := archives.List()
	if err != nil {
		return err
	}
	if len(backups) == 0 {
		fmt.Println("No backups to verify.")
		return nil
	}

	failures := 0
	for _, b := range backups {
		if err := archives.Verify(b); err != nil {
			failures++
			fmt.Fprintf(os.Stderr, "✗ backup %d: %v\n", b.ID, err)
			continue
		}
		fmt.Printf("✓ backup %d: ok (%s)\n", b.ID, output.FormatSize(b.SizeBytes))
	}

	if failures > 0 {
		return fmt.Errorf("%d of %d backups failed verification", failures, len(backups))
	}
	return nil
}
