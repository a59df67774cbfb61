// Package watcher runs the background upkeep loop: scheduled update
// triggers plus an fsnotify watch on the backups directory that flags
// archives deleted out-of-band.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/chatforge/upkeep/internal/store"
	"github.com/chatforge/upkeep/internal/updater"
)

// Triggerer starts an update attempt without blocking the caller.
type Triggerer interface {
	Trigger(ctx context.Context) (string, error)
}

// Watcher schedules update checks on a fixed interval and marks ledger
// backups unverified when their archive file disappears from disk. A
// flagged backup is refused by restore until it verifies again, so the
// operator finds out before a rollback needs it.
type Watcher struct {
	updater   Triggerer
	store     *store.Store
	backupDir string
	interval  time.Duration

	fsw    *fsnotify.Watcher
	ticker *time.Ticker
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New creates a new Watcher instance.
func New(u Triggerer, st *store.Store, backupDir string, interval time.Duration) (*Watcher, error) {
	if u == nil {
		return nil, fmt.Errorf("updater cannot be nil")
	}
	if st == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if interval <= 0 {
		return nil, fmt.Errorf("interval must be positive")
	}
	return &Watcher{
		updater:   u,
		store:     st,
		backupDir: backupDir,
		interval:  interval,
		stopCh:    make(chan struct{}),
	}, nil
}

// Start launches the scheduler and the backup-directory guard.
func (w *Watcher) Start() error {
	if err := os.MkdirAll(w.backupDir, 0755); err != nil {
		return fmt.Errorf("failed to create backup directory: %w", err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create filesystem watcher: %w", err)
	}
	if err := fsw.Add(w.backupDir); err != nil {
		fsw.Close()
		return fmt.Errorf("failed to watch %s: %w", w.backupDir, err)
	}
	w.fsw = fsw

	w.ticker = time.NewTicker(w.interval)

	w.wg.Add(2)
	go w.runScheduler()
	go w.runBackupGuard()

	return nil
}

// Stop halts both loops and waits for them to exit.
func (w *Watcher) Stop() error {
	close(w.stopCh)

	if w.ticker != nil {
		w.ticker.Stop()
	}
	if w.fsw != nil {
		w.fsw.Close()
	}

	w.wg.Wait()
	return nil
}

// runScheduler triggers an update attempt on every tick. Contention and
// the disabled flag are normal here (a manual update may be running, or
// the operator turned auto-update off), so they are not logged as errors.
func (w *Watcher) runScheduler() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ticker.C:
			id, err := w.updater.Trigger(context.Background())
			switch {
			case errors.Is(err, updater.ErrUpdateInProgress),
				errors.Is(err, updater.ErrAutoUpdateDisabled):
				// skip this tick
			case err != nil:
				fmt.Fprintf(os.Stderr, "watcher: scheduled update trigger: %v\n", err)
			default:
				fmt.Printf("watcher: triggered update attempt %s\n", id)
			}
		case <-w.stopCh:
			return
		}
	}
}

// runBackupGuard reacts to archive files vanishing from the backups
// directory.
func (w *Watcher) runBackupGuard() {
	defer w.wg.Done()

	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if !strings.HasSuffix(event.Name, ".tar.gz") {
				continue
			}
			w.flagMissingArchive(event.Name)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			fmt.Fprintf(os.Stderr, "watcher: filesystem events: %v\n", err)
		case <-w.stopCh:
			return
		}
	}
}

// flagMissingArchive marks the ledger row for a vanished archive as
// unverified.
func (w *Watcher) flagMissingArchive(archivePath string) {
	b, err := w.store.GetBackupByPath(archivePath)
	if err != nil {
		// Already evicted from the ledger, or never recorded.
		return
	}

	if err := w.store.SetBackupVerified(b.ID, false); err != nil {
		fmt.Fprintf(os.Stderr, "watcher: flagging backup %d: %v\n", b.ID, err)
		return
	}

	fmt.Fprintf(os.Stderr, "watcher: archive %s removed out-of-band, backup %d marked unverified\n",
		archivePath, b.ID)
}
