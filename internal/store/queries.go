package store

import (
	"database/sql"
	"fmt"
	"time"
)

// Attempt operations

// InsertAttempt creates a new attempt row. Only the orchestrator calls
// this; every later mutation of the row goes through SetAttemptBackup,
// AppendStep, or FinalizeAttempt.
func (s *Store) InsertAttempt(a *Attempt) error {
	query := `
		INSERT INTO attempts (id, version_from, status, started_at)
		VALUES (?, ?, ?, ?)
	`

	_, err := s.db.Exec(query,
		a.ID,
		a.VersionFrom,
		a.Status,
		a.StartedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to insert attempt %s: %w", a.ID, err)
	}

	return nil
}

// SetAttemptBackup records the backup taken for an attempt. Set once,
// immediately after the archive is created.
func (s *Store) SetAttemptBackup(id string, backupID int64) error {
	result, err := s.db.Exec(`UPDATE attempts SET backup_id = ? WHERE id = ?`, backupID, id)
	if err != nil {
		return fmt.Errorf("failed to set backup for attempt %s: %w", id, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("attempt %s not found", id)
	}

	return nil
}

// FinalizeAttempt moves an attempt to a terminal status and stamps
// completed_at. versionTo and errMsg may be empty.
func (s *Store) FinalizeAttempt(id, status, versionTo, errMsg string) error {
	if !IsTerminal(status) {
		return fmt.Errorf("cannot finalize attempt %s with non-terminal status %q", id, status)
	}

	query := `
		UPDATE attempts
		SET status = ?, version_to = ?, error_message = ?, completed_at = ?
		WHERE id = ?
	`

	result, err := s.db.Exec(query,
		status,
		nullIfEmpty(versionTo),
		nullIfEmpty(errMsg),
		time.Now().Format(time.RFC3339),
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to finalize attempt %s: %w", id, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("attempt %s not found", id)
	}

	return nil
}

// GetAttempt retrieves an attempt by ID, steps included.
func (s *Store) GetAttempt(id string) (*Attempt, error) {
	query := `
		SELECT id, version_from, version_to, status, backup_id, error_message, started_at, completed_at
		FROM attempts
		WHERE id = ?
	`

	a, err := scanAttempt(s.db.QueryRow(query, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("attempt %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get attempt %s: %w", id, err)
	}

	a.Steps, err = s.GetSteps(id)
	if err != nil {
		return nil, err
	}

	return a, nil
}

// ListAttempts returns up to limit attempts, newest first. Steps are not
// loaded; use GetAttempt for the full record. limit <= 0 means no limit.
func (s *Store) ListAttempts(limit int) ([]*Attempt, error) {
	query := `
		SELECT id, version_from, version_to, status, backup_id, error_message, started_at, completed_at
		FROM attempts
		ORDER BY started_at DESC, rowid DESC
	`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list attempts: %w", err)
	}
	defer rows.Close()

	var attempts []*Attempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan attempt row: %w", err)
		}
		attempts = append(attempts, a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating attempts: %w", err)
	}

	return attempts, nil
}

// ActiveBackupIDs returns the IDs of backups referenced by non-terminal
// attempts. Retention must never evict these.
func (s *Store) ActiveBackupIDs() (map[int64]bool, error) {
	query := `
		SELECT backup_id
		FROM attempts
		WHERE status = ? AND backup_id IS NOT NULL
	`

	rows, err := s.db.Query(query, StatusPending)
	if err != nil {
		return nil, fmt.Errorf("failed to query active backups: %w", err)
	}
	defer rows.Close()

	active := make(map[int64]bool)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan active backup row: %w", err)
		}
		active[id] = true
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating active backups: %w", err)
	}

	return active, nil
}

// Step operations

// AppendStep records one completed stage of an attempt. Steps are
// append-only and returned in insertion order.
func (s *Store) AppendStep(step *Step) error {
	query := `
		INSERT INTO attempt_steps (attempt_id, name, outcome, duration_ms)
		VALUES (?, ?, ?, ?)
	`

	_, err := s.db.Exec(query,
		step.AttemptID,
		step.Name,
		step.Outcome,
		step.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("failed to append step %s for attempt %s: %w", step.Name, step.AttemptID, err)
	}

	return nil
}

// GetSteps returns all steps of an attempt in insertion order.
func (s *Store) GetSteps(attemptID string) ([]*Step, error) {
	query := `
		SELECT attempt_id, name, outcome, duration_ms
		FROM attempt_steps
		WHERE attempt_id = ?
		ORDER BY id
	`

	rows, err := s.db.Query(query, attemptID)
	if err != nil {
		return nil, fmt.Errorf("failed to get steps for attempt %s: %w", attemptID, err)
	}
	defer rows.Close()

	var steps []*Step
	for rows.Next() {
		var step Step
		var durationMs int64

		if err := rows.Scan(&step.AttemptID, &step.Name, &step.Outcome, &durationMs); err != nil {
			return nil, fmt.Errorf("failed to scan step row: %w", err)
		}

		step.Duration = time.Duration(durationMs) * time.Millisecond
		steps = append(steps, &step)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating steps: %w", err)
	}

	return steps, nil
}

// Backup operations

// InsertBackup creates a new backup row and returns its ID.
func (s *Store) InsertBackup(b *Backup) (int64, error) {
	query := `
		INSERT INTO backups (created_at, reason, archive_path, manifest_path, size_bytes, verified)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	result, err := s.db.Exec(query,
		b.CreatedAt.Format(time.RFC3339),
		b.Reason,
		b.ArchivePath,
		b.ManifestPath,
		b.SizeBytes,
		b.Verified,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert backup: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get backup ID: %w", err)
	}

	return id, nil
}

// GetBackup retrieves a backup by ID.
func (s *Store) GetBackup(id int64) (*Backup, error) {
	query := `
		SELECT id, created_at, reason, archive_path, manifest_path, size_bytes, verified
		FROM backups
		WHERE id = ?
	`

	b, err := scanBackup(s.db.QueryRow(query, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("backup %d not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get backup %d: %w", id, err)
	}

	return b, nil
}

// GetBackupByPath retrieves a backup by its archive path.
func (s *Store) GetBackupByPath(archivePath string) (*Backup, error) {
	query := `
		SELECT id, created_at, reason, archive_path, manifest_path, size_bytes, verified
		FROM backups
		WHERE archive_path = ?
	`

	b, err := scanBackup(s.db.QueryRow(query, archivePath))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("no backup recorded for %s", archivePath)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get backup for %s: %w", archivePath, err)
	}

	return b, nil
}

// ListBackups returns all backups ordered by creation time (newest first).
func (s *Store) ListBackups() ([]*Backup, error) {
	query := `
		SELECT id, created_at, reason, archive_path, manifest_path, size_bytes, verified
		FROM backups
		ORDER BY created_at DESC, id DESC
	`

	rows, err := s.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to list backups: %w", err)
	}
	defer rows.Close()

	var backups []*Backup
	for rows.Next() {
		b, err := scanBackup(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan backup row: %w", err)
		}
		backups = append(backups, b)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating backups: %w", err)
	}

	return backups, nil
}

// SetBackupVerified records the result of the last integrity check.
func (s *Store) SetBackupVerified(id int64, verified bool) error {
	result, err := s.db.Exec(`UPDATE backups SET verified = ? WHERE id = ?`, verified, id)
	if err != nil {
		return fmt.Errorf("failed to update backup %d: %w", id, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("backup %d not found", id)
	}

	return nil
}

// DeleteBackup removes a backup row.
func (s *Store) DeleteBackup(id int64) error {
	result, err := s.db.Exec(`DELETE FROM backups WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete backup %d: %w", id, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("backup %d not found", id)
	}

	return nil
}

// scanner abstracts *sql.Row and *sql.Rows for the scan helpers.
type scanner interface {
	Scan(dest ...any) error
}

func scanAttempt(row scanner) (*Attempt, error) {
	var a Attempt
	var versionTo, errMsg, completedAt sql.NullString
	var backupID sql.NullInt64
	var startedAt string

	err := row.Scan(
		&a.ID,
		&a.VersionFrom,
		&versionTo,
		&a.Status,
		&backupID,
		&errMsg,
		&startedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}

	a.VersionTo = versionTo.String
	a.ErrorMessage = errMsg.String
	a.BackupID = backupID.Int64

	a.StartedAt, err = time.Parse(time.RFC3339, startedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse started_at for attempt %s: %w", a.ID, err)
	}

	if completedAt.Valid {
		a.CompletedAt, err = time.Parse(time.RFC3339, completedAt.String)
		if err != nil {
			return nil, fmt.Errorf("failed to parse completed_at for attempt %s: %w", a.ID, err)
		}
	}

	return &a, nil
}

func scanBackup(row scanner) (*Backup, error) {
	var b Backup
	var createdAt string

	err := row.Scan(
		&b.ID,
		&createdAt,
		&b.Reason,
		&b.ArchivePath,
		&b.ManifestPath,
		&b.SizeBytes,
		&b.Verified,
	)
	if err != nil {
		return nil, err
	}

	b.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse created_at for backup %d: %w", b.ID, err)
	}

	return &b, nil
}

// nullIfEmpty maps "" to NULL so empty strings do not masquerade as values.
func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
