// Package updater sequences version checks, backups, applies and
// rollbacks. It owns the single update lock and is the only writer of
// the update ledger.
package updater

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chatforge/upkeep/internal/applier"
	"github.com/chatforge/upkeep/internal/archive"
	"github.com/chatforge/upkeep/internal/gitremote"
	"github.com/chatforge/upkeep/internal/store"
)

// Resolver is the narrow view of the version-control remote the updater
// depends on. Check must be read-only; Materialize must only write the
// staging location it returns.
type Resolver interface {
	Check(ctx context.Context) (*gitremote.Update, error)
	Materialize(ctx context.Context, version string) (string, error)
}

// Applier applies a staged tree over the live tree.
type Applier interface {
	Apply(ctx context.Context, staging string, record applier.StepFunc) error
}

// Archives is the slice of the archive store the updater uses.
type Archives interface {
	Create(reason string) (*store.Backup, error)
	Restore(b *store.Backup) error
}

// Updater drives update attempts from pending to a terminal status.
// At most one attempt (update or rollback) is in flight at a time.
type Updater struct {
	mu sync.Mutex // the update lock: one update/rollback in flight

	st       *store.Store
	archives Archives
	resolver Resolver
	applier  Applier
	health   func(ctx context.Context) error

	autoUpdate bool

	verMu   sync.Mutex
	current string
}

// New creates an Updater. current is the version identifier of the code
// currently running; health may be nil to skip the post-apply check.
func New(st *store.Store, archives Archives, resolver Resolver, app Applier, health func(ctx context.Context) error, current string, autoUpdate bool) *Updater {
	if health == nil {
		health = func(context.Context) error { return nil }
	}
	return &Updater{
		st:         st,
		archives:   archives,
		resolver:   resolver,
		applier:    app,
		health:     health,
		autoUpdate: autoUpdate,
		current:    current,
	}
}

// CurrentVersion returns the version the updater believes is running.
// It advances only when an attempt succeeds or a rollback completes.
func (u *Updater) CurrentVersion() string {
	u.verMu.Lock()
	defer u.verMu.Unlock()
	return u.current
}

func (u *Updater) setCurrent(v string) {
	u.verMu.Lock()
	u.current = v
	u.verMu.Unlock()
}

// Status returns the ledger record of one attempt, steps included.
// Reads take no lock; an in-flight attempt is returned as its latest
// pending snapshot.
func (u *Updater) Status(id string) (*store.Attempt, error) {
	return u.st.GetAttempt(id)
}

// History returns up to limit attempts, newest first.
func (u *Updater) History(limit int) ([]*store.Attempt, error) {
	return u.st.ListAttempts(limit)
}

// Trigger starts an update attempt in the background and returns its
// ledger id immediately. It fails fast with ErrAutoUpdateDisabled or
// ErrUpdateInProgress without creating a record.
func (u *Updater) Trigger(ctx context.Context) (string, error) {
	if !u.autoUpdate {
		return "", ErrAutoUpdateDisabled
	}

	if !u.mu.TryLock() {
		return "", ErrUpdateInProgress
	}

	attempt, err := u.begin()
	if err != nil {
		u.mu.Unlock()
		return "", err
	}

	go func() {
		defer u.mu.Unlock()
		u.perform(ctx, attempt)
	}()

	return attempt.ID, nil
}

// Run performs one full update attempt synchronously and returns the
// finalized ledger record. Used by the CLI; unlike Trigger it does not
// consult the auto_update flag.
func (u *Updater) Run(ctx context.Context) (*store.Attempt, error) {
	if !u.mu.TryLock() {
		return nil, ErrUpdateInProgress
	}
	defer u.mu.Unlock()

	attempt, err := u.begin()
	if err != nil {
		return nil, err
	}

	u.perform(ctx, attempt)
	return u.st.GetAttempt(attempt.ID)
}

// RollbackTo restores the backup taken by a previous attempt, recording
// the restore as a new ledger attempt. Returns the finalized record.
func (u *Updater) RollbackTo(ctx context.Context, attemptID string) (*store.Attempt, error) {
	prev, err := u.st.GetAttempt(attemptID)
	if err != nil {
		return nil, err
	}
	if prev.BackupID == 0 {
		return nil, fmt.Errorf("attempt %s has no backup to restore", attemptID)
	}

	backup, err := u.st.GetBackup(prev.BackupID)
	if err != nil {
		return nil, err
	}

	if !u.mu.TryLock() {
		return nil, ErrUpdateInProgress
	}
	defer u.mu.Unlock()

	attempt, err := u.begin()
	if err != nil {
		return nil, err
	}

	if err := u.st.SetAttemptBackup(attempt.ID, backup.ID); err != nil {
		u.logLedgerError(err)
	}

	start := time.Now()
	if err := u.archives.Restore(backup); err != nil {
		u.step(attempt.ID, "restore", err.Error(), time.Since(start))
		u.alertIfUnrecoverable(err)
		u.finalize(attempt.ID, store.StatusFailed, "", fmt.Sprintf("manual rollback: %v", err))
	} else {
		u.step(attempt.ID, "restore", "ok", time.Since(start))
		u.setCurrent(prev.VersionFrom)
		u.finalize(attempt.ID, store.StatusRolledBack, prev.VersionFrom, "")
	}

	return u.st.GetAttempt(attempt.ID)
}

// begin creates the pending ledger row. Callers hold the update lock.
func (u *Updater) begin() (*store.Attempt, error) {
	attempt := &store.Attempt{
		ID:          uuid.NewString(),
		VersionFrom: u.CurrentVersion(),
		Status:      store.StatusPending,
		StartedAt:   time.Now(),
	}

	if err := u.st.InsertAttempt(attempt); err != nil {
		return nil, fmt.Errorf("failed to record attempt: %w", err)
	}

	return attempt, nil
}

// perform drives one attempt to a terminal status. It never returns an
// error: every outcome is finalized on the ledger row. Callers hold the
// update lock.
func (u *Updater) perform(ctx context.Context, attempt *store.Attempt) {
	// Version check. Nothing is mutated yet, so any failure here
	// finalizes the attempt without rollback.
	start := time.Now()
	upd, err := u.resolver.Check(ctx)
	if err != nil {
		u.step(attempt.ID, "check", err.Error(), time.Since(start))
		u.finalize(attempt.ID, store.StatusFailed, "", fmt.Sprintf("version check: %v", err))
		return
	}
	u.step(attempt.ID, "check", "ok", time.Since(start))

	if !upd.Available {
		u.finalize(attempt.ID, store.StatusNoUpdate, "", "")
		return
	}

	// Snapshot the live tree before any mutation.
	start = time.Now()
	backup, err := u.archives.Create("before update to " + shortVersion(upd.Version))
	if err != nil {
		u.step(attempt.ID, "backup", err.Error(), time.Since(start))
		u.finalize(attempt.ID, store.StatusFailed, "", err.Error())
		return
	}
	u.step(attempt.ID, "backup", "ok", time.Since(start))

	if err := u.st.SetAttemptBackup(attempt.ID, backup.ID); err != nil {
		u.logLedgerError(err)
	}

	// The only window that requires rollback: materialize, apply, health.
	if applyErr := u.applyUpdate(ctx, attempt, upd.Version); applyErr != nil {
		start = time.Now()
		if rbErr := u.archives.Restore(backup); rbErr != nil {
			u.step(attempt.ID, "rollback", rbErr.Error(), time.Since(start))
			u.alertIfUnrecoverable(rbErr)
			u.finalize(attempt.ID, store.StatusFailed, "",
				fmt.Sprintf("%v; rollback: %v", applyErr, rbErr))
			return
		}
		u.step(attempt.ID, "rollback", "ok", time.Since(start))
		u.finalize(attempt.ID, store.StatusRolledBack, "", applyErr.Error())
		return
	}

	u.setCurrent(upd.Version)
	u.finalize(attempt.ID, store.StatusSuccess, upd.Version, "")
}

// applyUpdate materializes the new version, applies it over the live
// tree, and runs the health check.
func (u *Updater) applyUpdate(ctx context.Context, attempt *store.Attempt, version string) error {
	start := time.Now()
	staging, err := u.resolver.Materialize(ctx, version)
	if err != nil {
		u.step(attempt.ID, "materialize", err.Error(), time.Since(start))
		return fmt.Errorf("materialize %s: %w", shortVersion(version), err)
	}
	u.step(attempt.ID, "materialize", "ok", time.Since(start))
	defer os.RemoveAll(staging)

	record := func(name, outcome string, d time.Duration) {
		u.step(attempt.ID, name, outcome, d)
	}
	if err := u.applier.Apply(ctx, staging, record); err != nil {
		return err
	}

	start = time.Now()
	if err := u.health(ctx); err != nil {
		u.step(attempt.ID, "health_check", err.Error(), time.Since(start))
		return fmt.Errorf("health check: %w", err)
	}
	u.step(attempt.ID, "health_check", "ok", time.Since(start))

	return nil
}

func (u *Updater) step(attemptID, name, outcome string, d time.Duration) {
	err := u.st.AppendStep(&store.Step{
		AttemptID: attemptID,
		Name:      name,
		Outcome:   outcome,
		Duration:  d,
	})
	if err != nil {
		u.logLedgerError(err)
	}
}

func (u *Updater) finalize(attemptID, status, versionTo, errMsg string) {
	if err := u.st.FinalizeAttempt(attemptID, status, versionTo, errMsg); err != nil {
		u.logLedgerError(err)
	}
}

// alertIfUnrecoverable makes a failed rollback loud: automatic recovery
// is exhausted and the live tree's integrity is uncertain.
func (u *Updater) alertIfUnrecoverable(err error) {
	var rb *archive.RollbackError
	if errors.As(err, &rb) && rb.Unrecoverable {
		fmt.Fprintf(os.Stderr, "CRITICAL: live tree left in partial state, manual intervention required: %v\n", err)
	}
}

func (u *Updater) logLedgerError(err error) {
	fmt.Fprintf(os.Stderr, "updater: ledger write failed: %v\n", err)
}

// shortVersion abbreviates a commit hash for display.
func shortVersion(v string) string {
	if len(v) > 12 {
		return v[:12]
	}
	return v
}
