package app

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/chatforge/upkeep/internal/output"
	"github.com/chatforge/upkeep/internal/store"
)

var (
	historyFlagLimit int
	historyFlagID    string
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recorded update and rollback attempts",
	Long: `Show the ledger of update and rollback attempts, newest first.

Each attempt records the versions involved, its terminal status, the
backup it took, and a per-step log (check, backup, materialize,
copy_tree, hooks, health_check). Use --id to see the full step log of
one attempt; a unique ID prefix is enough.`,
	Example: `  # Last 20 attempts
  upkeep history

  # Everything
  upkeep history --limit 0

  # One attempt in full, by ID prefix
  upkeep history --id 3f2a91c4`,
	RunE: runHistory,
}

func init() {
	historyCmd.Flags().IntVar(&historyFlagLimit, "limit", 20, "maximum attempts to show (0 = all)")
	historyCmd.Flags().StringVar(&historyFlagID, "id", "", "show one attempt in full (accepts an ID prefix)")

	RootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	if historyFlagID != "" {
		attempt, err := findAttempt(st, historyFlagID)
		if err != nil {
			return err
		}
		fmt.Print(output.RenderAttemptDetail(attempt))
		return nil
	}

	attempts, err := st.ListAttempts(historyFlagLimit)
	if err != nil {
		return err
	}

	fmt.Print(output.RenderAttemptTable(attempts))
	return nil
}

// findAttempt resolves a full attempt ID or a unique prefix of one.
func findAttempt(st *store.Store, id string) (*store.Attempt, error) {
	if attempt, err := st.GetAttempt(id); err == nil {
		return attempt, nil
	}

	attempts, err := st.ListAttempts(0)
	if err != nil {
		return nil, err
	}

	var match *store.Attempt
	for _, a := range attempts {
		if strings.HasPrefix(a.ID, id) {
			if match != nil {
				return nil, fmt.Errorf("attempt ID prefix %q is ambiguous", id)
			}
			match = a
		}
	}
	if match == nil {
		return nil, fmt.Errorf("no attempt matches %q", id)
	}

	return st.GetAttempt(match.ID)
}
