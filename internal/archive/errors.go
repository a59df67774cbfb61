package archive

import "fmt"

// BackupError reports that a backup archive could not be created. The
// live tree has not been touched when it is returned.
type BackupError struct {
	Err error
}

func (e *BackupError) Error() string {
	return fmt.Sprintf("backup failed: %v", e.Err)
}

func (e *BackupError) Unwrap() error {
	return e.Err
}

// RollbackError reports that restoring a backup failed. When
// Unrecoverable is set, the safety net could not be re-applied either and
// the live tree was left in a partial state; operator action is required.
type RollbackError struct {
	Err           error
	Unrecoverable bool
}

func (e *RollbackError) Error() string {
	if e.Unrecoverable {
		return fmt.Sprintf("rollback failed, live tree in partial state: %v", e.Err)
	}
	return fmt.Sprintf("rollback failed: %v", e.Err)
}

func (e *RollbackError) Unwrap() error {
	return e.Err
}
