package archive

import (
	"archive/tar"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chatforge/upkeep/internal/store"
)

// Restore extracts the given archive over the live tree. The current
// (possibly broken) tree is first archived as a safety net so a failed
// restore can itself be undone. Every failure is reported as a
// *RollbackError; Unrecoverable is set when the safety net could not be
// re-applied and the live tree was left in a partial state.
//
// The safety net skips retention enforcement so eviction can never select
// the archive that is about to be extracted.
func (s *Store) Restore(b *store.Backup) error {
	if err := s.Verify(b); err != nil {
		return &RollbackError{Err: fmt.Errorf("backup %d failed verification: %w", b.ID, err)}
	}

	safety, err := s.create("safety net before restoring backup " + fmt.Sprint(b.ID))
	if err != nil {
		return &RollbackError{Err: fmt.Errorf("safety-net backup: %w", err)}
	}

	if err := s.extract(b.ArchivePath); err != nil {
		if netErr := s.extract(safety.ArchivePath); netErr != nil {
			return &RollbackError{
				Unrecoverable: true,
				Err: fmt.Errorf("extracting backup %d: %v; re-applying safety net %d also failed: %v",
					b.ID, err, safety.ID, netErr),
			}
		}
		return &RollbackError{
			Err: fmt.Errorf("extracting backup %d (live tree reverted to safety net %d): %w",
				b.ID, safety.ID, err),
		}
	}

	return nil
}

// Delete removes a backup's files and its ledger row. Already-missing
// files are not an error.
func (s *Store) Delete(b *store.Backup) error {
	if err := os.Remove(b.ArchivePath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete archive %s: %w", b.ArchivePath, err)
	}
	if err := os.Remove(b.ManifestPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete manifest %s: %w", b.ManifestPath, err)
	}
	return s.store.DeleteBackup(b.ID)
}

// extract unpacks an archive into the live tree, overwriting existing
// files. Entry names are validated so a crafted archive cannot write
// outside the live root.
func (s *Store) extract(archivePath string) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("failed to read archive: %w", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read archive: %w", err)
		}
		if header.Typeflag != tar.TypeReg {
			continue
		}

		if err := validEntryName(header.Name); err != nil {
			return err
		}

		target := filepath.Join(s.liveRoot, filepath.FromSlash(header.Name))
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

// validEntryName rejects absolute or tree-escaping archive entry names.
func validEntryName(name string) error {
	if name == "" || strings.HasPrefix(name, "/") {
		return fmt.Errorf("archive entry %q has an absolute path", name)
	}
	for _, part := range strings.Split(name, "/") {
		if part == ".." {
			return fmt.Errorf("archive entry %q escapes the live root", name)
		}
	}
	return nil
}
