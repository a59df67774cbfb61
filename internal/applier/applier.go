// Package applier copies a staged version over the live tree and runs
// the post-apply hooks.
package applier

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// ApplyError reports a failure while mutating the live tree or running a
// post-apply hook. Step names the stage that failed.
type ApplyError struct {
	Step string
	Err  error
}

func (e *ApplyError) Error() string {
	return fmt.Sprintf("apply step %s: %v", e.Step, e.Err)
}

func (e *ApplyError) Unwrap() error {
	return e.Err
}

// StepFunc receives the name, outcome ("ok" or the error text) and
// duration of each completed apply step.
type StepFunc func(name, outcome string, d time.Duration)

// Hook is a black-box post-apply command (dependency install, schema
// migration, plugin reload) run with `sh -c` in the live root.
type Hook struct {
	Name    string
	Command string
}

// Applier mutates the live tree. It is only safe to use while the update
// lock is held.
type Applier struct {
	liveRoot     string
	runtimeOwned []string
	hooks        []Hook
}

// New creates an Applier. runtimeOwned paths (relative to liveRoot) are
// never overwritten by a copy.
func New(liveRoot string, runtimeOwned []string, hooks []Hook) *Applier {
	return &Applier{
		liveRoot:     liveRoot,
		runtimeOwned: runtimeOwned,
		hooks:        hooks,
	}
}

// Apply copies every file from staging over the live tree, skipping
// runtime-owned paths, then runs the hooks in order. Each step is
// reported through record, which may be nil.
func (a *Applier) Apply(ctx context.Context, staging string, record StepFunc) error {
	if record == nil {
		record = func(string, string, time.Duration) {}
	}

	start := time.Now()
	if err := a.copyTree(staging); err != nil {
		record("copy_tree", err.Error(), time.Since(start))
		return &ApplyError{Step: "copy_tree", Err: err}
	}
	record("copy_tree", "ok", time.Since(start))

	for _, hook := range a.hooks {
		start = time.Now()
		if err := a.runHook(ctx, hook); err != nil {
			record(hook.Name, err.Error(), time.Since(start))
			return &ApplyError{Step: hook.Name, Err: err}
		}
		record(hook.Name, "ok", time.Since(start))
	}

	return nil
}

// copyTree walks the staging tree and copies each file into the live
// tree, preserving file modes. Files only present in the live tree are
// left alone.
func (a *Applier) copyTree(staging string) error {
	return filepath.WalkDir(staging, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("failed to walk staging tree: %w", err)
		}

		rel, err := filepath.Rel(staging, path)
		if err != nil {
			return fmt.Errorf("failed to resolve %s: %w", path, err)
		}
		if rel == "." {
			return nil
		}

		rel = filepath.ToSlash(rel)
		if a.isRuntimeOwned(rel) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		target := filepath.Join(a.liveRoot, filepath.FromSlash(rel))

		if d.IsDir() {
			if err := os.MkdirAll(target, 0755); err != nil {
				return fmt.Errorf("failed to create directory %s: %w", rel, err)
			}
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return fmt.Errorf("failed to stat %s: %w", rel, err)
		}
		if !info.Mode().IsRegular() {
			return nil
		}

		return copyFile(path, target, info.Mode())
	})
}

// runHook executes one post-apply command, capturing its output for the
// error message.
func (a *Applier) runHook(ctx context.Context, hook Hook) error {
	cmd := exec.CommandContext(ctx, "sh", "-c", hook.Command)
	cmd.Dir = a.liveRoot

	out, err := cmd.CombinedOutput()
	if err != nil {
		msg := strings.TrimSpace(string(out))
		if msg != "" {
			return fmt.Errorf("%w: %s", err, msg)
		}
		return err
	}

	return nil
}

func (a *Applier) isRuntimeOwned(rel string) bool {
	for _, owned := range a.runtimeOwned {
		if rel == owned || strings.HasPrefix(rel, owned+"/") {
			return true
		}
	}
	return false
}

func copyFile(src, dst string, mode os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", dst, err)
	}

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dst, err)
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("failed to copy %s: %w", dst, err)
	}

	return out.Close()
}
