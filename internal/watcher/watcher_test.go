package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/chatforge/upkeep/internal/store"
	"github.com/chatforge/upkeep/internal/updater"
)

// stubTriggerer counts trigger calls and returns a scripted result.
type stubTriggerer struct {
	calls int64
	err   error
}

func (s *stubTriggerer) Trigger(ctx context.Context) (string, error) {
	atomic.AddInt64(&s.calls, 1)
	if s.err != nil {
		return "", s.err
	}
	return "attempt-1", nil
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

func TestNew_Validation(t *testing.T) {
	st := newTestLedger(t)
	trig := &stubTriggerer{}

	if _, err := New(nil, st, t.TempDir(), time.Minute); err == nil {
		t.Error("New with nil updater should fail")
	}
	if _, err := New(trig, nil, t.TempDir(), time.Minute); err == nil {
		t.Error("New with nil store should fail")
	}
	if _, err := New(trig, st, t.TempDir(), 0); err == nil {
		t.Error("New with zero interval should fail")
	}
	if _, err := New(trig, st, t.TempDir(), time.Minute); err != nil {
		t.Errorf("New with valid arguments failed: %v", err)
	}
}

func TestScheduler_TriggersOnInterval(t *testing.T) {
	st := newTestLedger(t)
	trig := &stubTriggerer{}

	w, err := New(trig, st, filepath.Join(t.TempDir(), "backups"), 20*time.Millisecond)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := w.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for atomic.LoadInt64(&trig.calls) < 2 {
		if time.Now().After(deadline) {
			t.Fatal("scheduler never triggered twice")
		}
		time.Sleep(10 * time.Millisecond)
	}

	if err := w.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	// No further triggers after Stop.
	settled := atomic.LoadInt64(&trig.calls)
	time.Sleep(60 * time.Millisecond)
	if got := atomic.LoadInt64(&trig.calls); got != settled {
		t.Errorf("scheduler kept triggering after Stop: %d -> %d", settled, got)
	}
}

func TestScheduler_ToleratesExpectedRefusals(t *testing.T) {
	st := newTestLedger(t)
	trig := &stubTriggerer{err: updater.ErrUpdateInProgress}

	w, err := New(trig, st, filepath.Join(t.TempDir(), "backups"), 20*time.Millisecond)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := w.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer w.Stop()

	deadline := time.Now().Add(3 * time.Second)
	for atomic.LoadInt64(&trig.calls) < 3 {
		if time.Now().After(deadline) {
			t.Fatal("scheduler stopped ticking on ErrUpdateInProgress")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestBackupGuard_FlagsRemovedArchive(t *testing.T) {
	st := newTestLedger(t)
	backupDir := filepath.Join(t.TempDir(), "backups")
	if err := os.MkdirAll(backupDir, 0755); err != nil {
		t.Fatalf("failed to create backup dir: %v", err)
	}

	archivePath := filepath.Join(backupDir, "2026-01-01-120000.tar.gz")
	if err := os.WriteFile(archivePath, []byte("archive bytes"), 0644); err != nil {
		t.Fatalf("failed to write archive: %v", err)
	}

	id, err := st.InsertBackup(&store.Backup{
		CreatedAt:    time.Now(),
		Reason:       "test",
		ArchivePath:  archivePath,
		ManifestPath: archivePath + ".manifest.json",
		SizeBytes:    13,
		Verified:     true,
	})
	if err != nil {
		t.Fatalf("InsertBackup failed: %v", err)
	}

	// Long interval so the scheduler stays quiet during the test.
	w, err := New(&stubTriggerer{err: updater.ErrAutoUpdateDisabled}, st, backupDir, time.Hour)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := w.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer w.Stop()

	if err := os.Remove(archivePath); err != nil {
		t.Fatalf("failed to remove archive: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		b, err := st.GetBackup(id)
		if err != nil {
			t.Fatalf("GetBackup failed: %v", err)
		}
		if !b.Verified {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("removed archive was never flagged unverified")
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestFlagMissingArchive_UnknownPathIsIgnored(t *testing.T) {
	st := newTestLedger(t)

	w, err := New(&stubTriggerer{}, st, t.TempDir(), time.Hour)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	// Must not panic or error for a path the ledger has never seen.
	w.flagMissingArchive("/nowhere/2026-01-01-000000.tar.gz")
}

func TestIsDaemonRunning_StalePIDFileIsCleaned(t *testing.T) {
	pidFile := filepath.Join(t.TempDir(), "watch.pid")

	// PID 1 exists but max pid values do not; write an impossibly large one.
	if err := os.WriteFile(pidFile, []byte("99999999\n"), 0644); err != nil {
		t.Fatalf("failed to write PID file: %v", err)
	}

	running, err := IsDaemonRunning(pidFile)
	if err != nil {
		t.Fatalf("IsDaemonRunning failed: %v", err)
	}
	if running {
		t.Error("stale PID should not count as running")
	}
	if _, err := os.Stat(pidFile); !os.IsNotExist(err) {
		t.Error("stale PID file should be removed")
	}
}

func TestIsDaemonRunning_NoPIDFile(t *testing.T) {
	running, err := IsDaemonRunning(filepath.Join(t.TempDir(), "missing.pid"))
	if err != nil {
		t.Fatalf("IsDaemonRunning failed: %v", err)
	}
	if running {
		t.Error("missing PID file should mean not running")
	}
}

func TestStopDaemon_NoPIDFile(t *testing.T) {
	if err := StopDaemon(filepath.Join(t.TempDir(), "missing.pid")); err == nil {
		t.Error("StopDaemon without a PID file should fail")
	}
}
