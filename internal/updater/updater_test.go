package updater

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/chatforge/upkeep/internal/applier"
	"github.com/chatforge/upkeep/internal/archive"
	"github.com/chatforge/upkeep/internal/gitremote"
	"github.com/chatforge/upkeep/internal/store"
)

// fakeResolver scripts the version check and materialization.
type fakeResolver struct {
	update   *gitremote.Update
	checkErr error

	materializeErr error
	staging        string
}

func (f *fakeResolver) Check(ctx context.Context) (*gitremote.Update, error) {
	if f.checkErr != nil {
		return nil, f.checkErr
	}
	return f.update, nil
}

func (f *fakeResolver) Materialize(ctx context.Context, version string) (string, error) {
	if f.materializeErr != nil {
		return "", f.materializeErr
	}
	if f.staging == "" {
		dir, err := os.MkdirTemp("", "updater-test-staging-")
		if err != nil {
			return "", err
		}
		f.staging = dir
	}
	return f.staging, nil
}

// fakeArchives records Create/Restore calls and can fail either.
type fakeArchives struct {
	mu       sync.Mutex
	created  []string
	restored []int64

	createErr  error
	restoreErr error
	nextID     int64
}

func (f *fakeArchives) Create(reason string) (*store.Backup, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.nextID++
	f.created = append(f.created, reason)
	return &store.Backup{ID: f.nextID, Reason: reason, CreatedAt: time.Now()}, nil
}

func (f *fakeArchives) Restore(b *store.Backup) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.restoreErr != nil {
		return f.restoreErr
	}
	f.restored = append(f.restored, b.ID)
	return nil
}

// fakeApplier can fail, block until released, or both.
type fakeApplier struct {
	err     error
	applied int
	block   chan struct{} // if set, Apply waits until closed
}

func (f *fakeApplier) Apply(ctx context.Context, staging string, record applier.StepFunc) error {
	if f.block != nil {
		<-f.block
	}
	if f.err != nil {
		if record != nil {
			record("copy_tree", f.err.Error(), 0)
		}
		return f.err
	}
	f.applied++
	if record != nil {
		record("copy_tree", "ok", 0)
	}
	return nil
}

func newTestLedger(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	if err := st.CreateSchema(); err != nil {
		t.Fatalf("failed to create schema: %v", err)
	}
	return st
}

func newTestUpdater(t *testing.T, st *store.Store, r *fakeResolver, a *fakeArchives, ap *fakeApplier) *Updater {
	t.Helper()
	return New(st, a, r, ap, nil, "aaaa1111", true)
}

func stepNames(a *store.Attempt) []string {
	names := make([]string, len(a.Steps))
	for i, s := range a.Steps {
		names[i] = s.Name
	}
	return names
}

func TestRun_NoUpdate(t *testing.T) {
	st := newTestLedger(t)
	resolver := &fakeResolver{update: &gitremote.Update{Available: false}}
	archives := &fakeArchives{}
	u := newTestUpdater(t, st, resolver, archives, &fakeApplier{})

	attempt, err := u.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if attempt.Status != store.StatusNoUpdate {
		t.Errorf("status = %q, want %q", attempt.Status, store.StatusNoUpdate)
	}
	if attempt.CompletedAt.IsZero() {
		t.Error("terminal attempt should have CompletedAt")
	}
	if len(archives.created) != 0 {
		t.Error("no_update must not take a backup")
	}
	if u.CurrentVersion() != "aaaa1111" {
		t.Errorf("current version moved to %q on no_update", u.CurrentVersion())
	}
}

func TestRun_Success(t *testing.T) {
	st := newTestLedger(t)
	resolver := &fakeResolver{update: &gitremote.Update{Available: true, Version: "bbbb2222"}}
	archives := &fakeArchives{}
	app := &fakeApplier{}
	u := newTestUpdater(t, st, resolver, archives, app)

	attempt, err := u.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if attempt.Status != store.StatusSuccess {
		t.Fatalf("status = %q, want success (error: %s)", attempt.Status, attempt.ErrorMessage)
	}
	if attempt.VersionFrom != "aaaa1111" || attempt.VersionTo != "bbbb2222" {
		t.Errorf("versions = %q -> %q", attempt.VersionFrom, attempt.VersionTo)
	}
	if attempt.BackupID == 0 {
		t.Error("successful update should reference its backup")
	}
	if app.applied != 1 {
		t.Errorf("applier ran %d times, want 1", app.applied)
	}
	if u.CurrentVersion() != "bbbb2222" {
		t.Errorf("current version = %q, want bbbb2222", u.CurrentVersion())
	}

	want := []string{"check", "backup", "materialize", "copy_tree", "health_check"}
	got := stepNames(attempt)
	if len(got) != len(want) {
		t.Fatalf("steps = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("step[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestRun_CheckFailureFinalizesWithoutBackup(t *testing.T) {
	st := newTestLedger(t)
	resolver := &fakeResolver{checkErr: &gitremote.NetworkError{Err: errors.New("connect timed out")}}
	archives := &fakeArchives{}
	u := newTestUpdater(t, st, resolver, archives, &fakeApplier{})

	attempt, err := u.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if attempt.Status != store.StatusFailed {
		t.Errorf("status = %q, want failed", attempt.Status)
	}
	if !strings.Contains(attempt.ErrorMessage, "version check") {
		t.Errorf("ErrorMessage = %q, should name the version check", attempt.ErrorMessage)
	}
	if len(archives.created) != 0 {
		t.Error("check failure must not take a backup")
	}
	if len(archives.restored) != 0 {
		t.Error("nothing was mutated, nothing to roll back")
	}
}

func TestRun_BackupFailureAbortsBeforeMutation(t *testing.T) {
	st := newTestLedger(t)
	resolver := &fakeResolver{update: &gitremote.Update{Available: true, Version: "bbbb2222"}}
	archives := &fakeArchives{createErr: &archive.BackupError{Err: errors.New("disk full")}}
	app := &fakeApplier{}
	u := newTestUpdater(t, st, resolver, archives, app)

	attempt, err := u.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if attempt.Status != store.StatusFailed {
		t.Errorf("status = %q, want failed", attempt.Status)
	}
	if app.applied != 0 {
		t.Error("apply must not run when the backup failed")
	}
	if u.CurrentVersion() != "aaaa1111" {
		t.Errorf("current version moved to %q", u.CurrentVersion())
	}
}

func TestRun_ApplyFailureRollsBack(t *testing.T) {
	st := newTestLedger(t)
	resolver := &fakeResolver{update: &gitremote.Update{Available: true, Version: "bbbb2222"}}
	archives := &fakeArchives{}
	app := &fakeApplier{err: &applier.ApplyError{Step: "migrate_schema", Err: errors.New("exit status 3")}}
	u := newTestUpdater(t, st, resolver, archives, app)

	attempt, err := u.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if attempt.Status != store.StatusRolledBack {
		t.Fatalf("status = %q, want rolled_back (error: %s)", attempt.Status, attempt.ErrorMessage)
	}
	if len(archives.restored) != 1 {
		t.Fatalf("restore ran %d times, want 1", len(archives.restored))
	}
	if archives.restored[0] != attempt.BackupID {
		t.Errorf("restored backup %d, attempt references %d", archives.restored[0], attempt.BackupID)
	}
	if !strings.Contains(attempt.ErrorMessage, "migrate_schema") {
		t.Errorf("ErrorMessage = %q, should name the failed step", attempt.ErrorMessage)
	}
	if u.CurrentVersion() != "aaaa1111" {
		t.Errorf("current version = %q after rollback, want aaaa1111", u.CurrentVersion())
	}
}

func TestRun_RollbackFailureReportsBothErrors(t *testing.T) {
	st := newTestLedger(t)
	resolver := &fakeResolver{update: &gitremote.Update{Available: true, Version: "bbbb2222"}}
	archives := &fakeArchives{
		restoreErr: &archive.RollbackError{Err: errors.New("archive vanished")},
	}
	app := &fakeApplier{err: errors.New("copy failed")}
	u := newTestUpdater(t, st, resolver, archives, app)

	attempt, err := u.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if attempt.Status != store.StatusFailed {
		t.Errorf("status = %q, want failed", attempt.Status)
	}
	if !strings.Contains(attempt.ErrorMessage, "copy failed") ||
		!strings.Contains(attempt.ErrorMessage, "archive vanished") {
		t.Errorf("ErrorMessage = %q, should carry both the apply and rollback errors", attempt.ErrorMessage)
	}
}

func TestRun_HealthCheckFailureRollsBack(t *testing.T) {
	st := newTestLedger(t)
	resolver := &fakeResolver{update: &gitremote.Update{Available: true, Version: "bbbb2222"}}
	archives := &fakeArchives{}

	health := func(ctx context.Context) error {
		return errors.New("essential path app missing")
	}
	u := New(st, archives, resolver, &fakeApplier{}, health, "aaaa1111", true)

	attempt, err := u.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if attempt.Status != store.StatusRolledBack {
		t.Errorf("status = %q, want rolled_back", attempt.Status)
	}
	if !strings.Contains(attempt.ErrorMessage, "health check") {
		t.Errorf("ErrorMessage = %q", attempt.ErrorMessage)
	}
	if len(archives.restored) != 1 {
		t.Errorf("restore ran %d times, want 1", len(archives.restored))
	}
}

func TestTrigger_AutoUpdateDisabled(t *testing.T) {
	st := newTestLedger(t)
	u := New(st, &fakeArchives{}, &fakeResolver{update: &gitremote.Update{}}, &fakeApplier{}, nil, "aaaa1111", false)

	if _, err := u.Trigger(context.Background()); !errors.Is(err, ErrAutoUpdateDisabled) {
		t.Errorf("Trigger error = %v, want ErrAutoUpdateDisabled", err)
	}

	attempts, err := st.ListAttempts(0)
	if err != nil {
		t.Fatalf("ListAttempts failed: %v", err)
	}
	if len(attempts) != 0 {
		t.Error("a refused trigger must not create a ledger record")
	}
}

func TestTrigger_ContentionFailsFast(t *testing.T) {
	st := newTestLedger(t)
	resolver := &fakeResolver{update: &gitremote.Update{Available: true, Version: "bbbb2222"}}
	app := &fakeApplier{block: make(chan struct{})}
	u := newTestUpdater(t, st, resolver, &fakeArchives{}, app)

	id, err := u.Trigger(context.Background())
	if err != nil {
		t.Fatalf("first Trigger failed: %v", err)
	}

	// The first attempt is blocked inside Apply; a second must be refused
	// immediately.
	if _, err := u.Trigger(context.Background()); !errors.Is(err, ErrUpdateInProgress) {
		t.Errorf("second Trigger error = %v, want ErrUpdateInProgress", err)
	}

	close(app.block)

	// Wait for the first attempt to reach a terminal status.
	deadline := time.Now().Add(5 * time.Second)
	for {
		attempt, err := u.Status(id)
		if err != nil {
			t.Fatalf("Status failed: %v", err)
		}
		if store.IsTerminal(attempt.Status) {
			if attempt.Status != store.StatusSuccess {
				t.Errorf("first attempt finished %q: %s", attempt.Status, attempt.ErrorMessage)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("first attempt never reached a terminal status")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestRollbackTo(t *testing.T) {
	st := newTestLedger(t)
	resolver := &fakeResolver{update: &gitremote.Update{Available: true, Version: "bbbb2222"}}
	archives := &fakeArchives{}
	u := newTestUpdater(t, st, resolver, archives, &fakeApplier{})

	updated, err := u.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if updated.Status != store.StatusSuccess {
		t.Fatalf("setup update finished %q", updated.Status)
	}

	rb, err := u.RollbackTo(context.Background(), updated.ID)
	if err != nil {
		t.Fatalf("RollbackTo failed: %v", err)
	}

	if rb.Status != store.StatusRolledBack {
		t.Errorf("rollback status = %q, want rolled_back", rb.Status)
	}
	if rb.ID == updated.ID {
		t.Error("rollback must be recorded as a new attempt")
	}
	if rb.BackupID != updated.BackupID {
		t.Errorf("rollback restored backup %d, want %d", rb.BackupID, updated.BackupID)
	}
	if rb.VersionTo != updated.VersionFrom {
		t.Errorf("rollback VersionTo = %q, want %q", rb.VersionTo, updated.VersionFrom)
	}
	if u.CurrentVersion() != "aaaa1111" {
		t.Errorf("current version = %q after rollback", u.CurrentVersion())
	}
}

func TestRollbackTo_NoBackup(t *testing.T) {
	st := newTestLedger(t)
	resolver := &fakeResolver{update: &gitremote.Update{Available: false}}
	u := newTestUpdater(t, st, resolver, &fakeArchives{}, &fakeApplier{})

	attempt, err := u.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if _, err := u.RollbackTo(context.Background(), attempt.ID); err == nil {
		t.Error("rollback of a backup-less attempt should fail")
	}
}

func TestRollbackTo_RestoreFailureFinalizesFailed(t *testing.T) {
	st := newTestLedger(t)
	resolver := &fakeResolver{update: &gitremote.Update{Available: true, Version: "bbbb2222"}}
	archives := &fakeArchives{}
	u := newTestUpdater(t, st, resolver, archives, &fakeApplier{})

	updated, err := u.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	archives.restoreErr = &archive.RollbackError{Err: errors.New("verification failed")}

	rb, err := u.RollbackTo(context.Background(), updated.ID)
	if err != nil {
		t.Fatalf("RollbackTo failed: %v", err)
	}

	if rb.Status != store.StatusFailed {
		t.Errorf("status = %q, want failed", rb.Status)
	}
	if !strings.Contains(rb.ErrorMessage, "verification failed") {
		t.Errorf("ErrorMessage = %q", rb.ErrorMessage)
	}
	// The failed rollback must not move the version.
	if u.CurrentVersion() != "bbbb2222" {
		t.Errorf("current version = %q, want bbbb2222", u.CurrentVersion())
	}
}

func TestHealthCheck(t *testing.T) {
	liveRoot := t.TempDir()
	if err := os.MkdirAll(filepath.Join(liveRoot, "app"), 0755); err != nil {
		t.Fatalf("failed to create app dir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(liveRoot, "config.yml"), []byte("x: 1\n"), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	check := HealthCheck(liveRoot, []string{"app", "config.yml"}, "")
	if err := check(context.Background()); err != nil {
		t.Errorf("health check of an intact tree failed: %v", err)
	}

	missing := HealthCheck(liveRoot, []string{"app", "does_not_exist.py"}, "")
	err := missing(context.Background())
	if err == nil {
		t.Fatal("health check should fail when an essential path is missing")
	}
	if !strings.Contains(err.Error(), "does_not_exist.py") {
		t.Errorf("error %q should name the missing path", err)
	}
}

func TestShortVersion(t *testing.T) {
	long := "0123456789abcdef0123456789abcdef01234567"
	if got := shortVersion(long); got != "0123456789ab" {
		t.Errorf("shortVersion(long) = %q", got)
	}
	if got := shortVersion("abc"); got != "abc" {
		t.Errorf("shortVersion(short) = %q", got)
	}
}
