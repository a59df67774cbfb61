package archive

import (
	"fmt"
)

// EnforceRetention deletes the oldest backups beyond the configured
// maximum, oldest first. Backups referenced by a non-terminal attempt are
// never evicted. Returns the number of backups deleted.
func (s *Store) EnforceRetention() (int, error) {
	backups, err := s.store.ListBackups()
	if err != nil {
		return 0, fmt.Errorf("failed to list backups: %w", err)
	}

	if len(backups) <= s.maxBackups {
		return 0, nil
	}

	active, err := s.store.ActiveBackupIDs()
	if err != nil {
		return 0, fmt.Errorf("failed to query in-use backups: %w", err)
	}

	deleted := 0
	remaining := len(backups)

	// backups is newest first; walk from the oldest end.
	for i := len(backups) - 1; i >= 0 && remaining > s.maxBackups; i-- {
		b := backups[i]
		if active[b.ID] {
			continue
		}
		if err := s.Delete(b); err != nil {
			return deleted, fmt.Errorf("failed to evict backup %d: %w", b.ID, err)
		}
		deleted++
		remaining--
	}

	return deleted, nil
}
