package archive

import (
	"archive/tar"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/chatforge/upkeep/internal/store"
)

// Verify re-reads the archive, checks every entry against the manifest
// checksums, and confirms the essential paths are present. It does not
// touch the live tree. The result is recorded on the ledger row; a nil
// return means the archive verified.
func (s *Store) Verify(b *store.Backup) error {
	err := s.verify(b)

	// Best effort: the verification verdict matters more than the flag.
	if dbErr := s.store.SetBackupVerified(b.ID, err == nil); dbErr != nil {
		fmt.Fprintf(os.Stderr, "archive: recording verification of backup %d: %v\n", b.ID, dbErr)
	}

	return err
}

func (s *Store) verify(b *store.Backup) error {
	manifest, err := loadManifest(b.ManifestPath)
	if err != nil {
		return err
	}

	expected := make(map[string]ManifestEntry, len(manifest.Entries))
	for _, entry := range manifest.Entries {
		expected[entry.Path] = entry
	}

	f, err := os.Open(b.ArchivePath)
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("corrupted archive: %w", err)
	}
	defer gz.Close()

	seen := make(map[string]bool, len(expected))
	tr := tar.NewReader(gz)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("corrupted archive: %w", err)
		}
		if header.Typeflag != tar.TypeReg {
			continue
		}

		entry, ok := expected[header.Name]
		if !ok {
			return fmt.Errorf("archive contains %s which is not in the manifest", header.Name)
		}

		h := sha256.New()
		n, err := io.Copy(h, tr)
		if err != nil {
			return fmt.Errorf("corrupted entry %s: %w", header.Name, err)
		}
		if n != entry.Size {
			return fmt.Errorf("entry %s has size %d, manifest says %d", header.Name, n, entry.Size)
		}
		if sum := hex.EncodeToString(h.Sum(nil)); sum != entry.SHA256 {
			return fmt.Errorf("entry %s failed checksum verification", header.Name)
		}

		seen[header.Name] = true
	}

	for path := range expected {
		if !seen[path] {
			return fmt.Errorf("manifest entry %s missing from archive", path)
		}
	}

	for _, essential := range s.paths.Essential {
		if !containsPath(seen, essential) {
			return fmt.Errorf("essential path %s missing from archive", essential)
		}
	}

	return nil
}

// containsPath reports whether the archived file set includes the given
// path, either as a file or as a directory prefix.
func containsPath(files map[string]bool, path string) bool {
	if files[path] {
		return true
	}
	prefix := path + "/"
	for file := range files {
		if strings.HasPrefix(file, prefix) {
			return true
		}
	}
	return false
}
