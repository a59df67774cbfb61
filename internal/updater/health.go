package updater

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// HealthCheck builds the minimum viable post-apply check: the essential
// files still exist in the live tree and the application's runtime
// database opens and answers a ping. dbRel is relative to liveRoot; an
// empty dbRel disables the database part.
func HealthCheck(liveRoot string, essential []string, dbRel string) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		for _, rel := range essential {
			if _, err := os.Stat(filepath.Join(liveRoot, filepath.FromSlash(rel))); err != nil {
				return fmt.Errorf("essential path %s: %w", rel, err)
			}
		}

		if dbRel == "" {
			return nil
		}

		dbPath := filepath.Join(liveRoot, filepath.FromSlash(dbRel))
		if _, err := os.Stat(dbPath); err != nil {
			return fmt.Errorf("runtime database %s: %w", dbRel, err)
		}

		db, err := sql.Open("sqlite", "file:"+dbPath+"?mode=ro")
		if err != nil {
			return fmt.Errorf("runtime database %s: %w", dbRel, err)
		}
		defer db.Close()

		if err := db.PingContext(ctx); err != nil {
			return fmt.Errorf("runtime database %s: %w", dbRel, err)
		}

		return nil
	}
}
