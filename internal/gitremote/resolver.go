// Package gitremote answers "is a newer version available" against the
// application's git remote and materializes revisions into isolated
// staging directories. It shells out to the git CLI.
package gitremote

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// Update is the answer to a version check.
type Update struct {
	Available bool
	Version   string // remote commit hash
	Summary   string // one line per commit the live tree is behind
}

// Resolver compares the live checkout against its configured remote.
// Check never mutates the working tree; Materialize only writes the
// staging directory it returns.
type Resolver struct {
	root    string // live tree, a git checkout
	remote  string
	branch  string
	timeout time.Duration
}

// New creates a Resolver for the checkout at root.
func New(root, remote, branch string, timeout time.Duration) *Resolver {
	return &Resolver{
		root:    root,
		remote:  remote,
		branch:  branch,
		timeout: timeout,
	}
}

// CurrentVersion returns the commit hash of the live tree's HEAD.
func (r *Resolver) CurrentVersion(ctx context.Context) (string, error) {
	out, err := r.git(ctx, "rev-parse", "HEAD")
	if err != nil {
		return "", &RemoteError{Err: fmt.Errorf("rev-parse HEAD: %w", err)}
	}
	return strings.TrimSpace(string(out)), nil
}

// Check fetches the remote branch and reports whether it is ahead of the
// live tree.
func (r *Resolver) Check(ctx context.Context) (*Update, error) {
	if _, err := r.git(ctx, "fetch", r.remote, r.branch); err != nil {
		return nil, &NetworkError{Err: fmt.Errorf("fetch %s/%s: %w", r.remote, r.branch, err)}
	}

	local, err := r.git(ctx, "rev-parse", "HEAD")
	if err != nil {
		return nil, &RemoteError{Err: fmt.Errorf("rev-parse HEAD: %w", err)}
	}

	remoteRef := r.remote + "/" + r.branch
	remote, err := r.git(ctx, "rev-parse", remoteRef)
	if err != nil {
		return nil, &RemoteError{Err: fmt.Errorf("rev-parse %s: %w", remoteRef, err)}
	}

	localHash := strings.TrimSpace(string(local))
	remoteHash := strings.TrimSpace(string(remote))

	if localHash == remoteHash {
		return &Update{Available: false, Version: remoteHash}, nil
	}

	// Summary is informational; a failure here does not fail the check.
	summary := ""
	if out, err := r.git(ctx, "log", "--oneline", localHash+".."+remoteHash); err == nil {
		summary = strings.TrimSpace(string(out))
	}

	return &Update{Available: true, Version: remoteHash, Summary: summary}, nil
}

// Materialize exports the given revision into a fresh staging directory
// and returns its path. The caller owns the directory and removes it
// when done. The live tree is never written.
func (r *Resolver) Materialize(ctx context.Context, version string) (string, error) {
	data, err := r.git(ctx, "archive", "--format=tar", version)
	if err != nil {
		wrapped := fmt.Errorf("archive %s: %w", version, err)
		if errors.Is(err, context.DeadlineExceeded) {
			return "", &NetworkError{Err: wrapped}
		}
		return "", &RemoteError{Err: wrapped}
	}

	staging, err := os.MkdirTemp("", "upkeep-staging-")
	if err != nil {
		return "", &RemoteError{Err: fmt.Errorf("failed to create staging directory: %w", err)}
	}

	if err := untar(bytes.NewReader(data), staging); err != nil {
		os.RemoveAll(staging)
		return "", &RemoteError{Err: fmt.Errorf("unpacking %s: %w", version, err)}
	}

	return staging, nil
}

// git runs one git command against the live checkout with the configured
// timeout. Timeouts are reported wrapping context.DeadlineExceeded so
// callers can classify them as connectivity failures.
func (r *Resolver) git(ctx context.Context, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	full := append([]string{"-C", r.root}, args...)
	cmd := exec.CommandContext(ctx, "git", full...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("timed out after %s: %w", r.timeout, context.DeadlineExceeded)
		}
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return nil, fmt.Errorf("%w: %s", err, msg)
		}
		return nil, err
	}

	return out, nil
}

// untar unpacks a tar stream into dir, rejecting entries that would
// escape it.
func untar(r io.Reader, dir string) error {
	tr := tar.NewReader(r)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read tar stream: %w", err)
		}

		if header.Name == "" || strings.HasPrefix(header.Name, "/") || strings.Contains(header.Name, "..") {
			return fmt.Errorf("tar entry %q has an unsafe path", header.Name)
		}

		target := filepath.Join(dir, filepath.FromSlash(header.Name))

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0755); err != nil {
				return fmt.Errorf("failed to create %s: %w", header.Name, err)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return fmt.Errorf("failed to create directory for %s: %w", header.Name, err)
			}
			out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(header.Mode))
			if err != nil {
				return fmt.Errorf("failed to create %s: %w", header.Name, err)
			}
			if _, err := io.Copy(out, tr); err != nil {
				out.Close()
				return fmt.Errorf("failed to extract %s: %w", header.Name, err)
			}
			if err := out.Close(); err != nil {
				return fmt.Errorf("failed to extract %s: %w", header.Name, err)
			}
		}
	}
}
