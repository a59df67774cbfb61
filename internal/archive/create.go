package archive

import (
	"archive/tar"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/chatforge/upkeep/internal/store"
)

// Create archives the critical path set into a timestamped tar.gz in the
// backup directory, writes the manifest JSON alongside, and records the
// backup in the ledger. Retention is enforced after a successful create.
// A partially written archive is removed before an error is returned.
func (s *Store) Create(reason string) (*store.Backup, error) {
	b, err := s.create(reason)
	if err != nil {
		return nil, err
	}

	// Retention failure is not a backup failure: the archive exists.
	if _, err := s.EnforceRetention(); err != nil {
		fmt.Fprintf(os.Stderr, "archive: retention enforcement: %v\n", err)
	}

	return b, nil
}

func (s *Store) create(reason string) (*store.Backup, error) {
	if err := os.MkdirAll(s.backupDir, 0755); err != nil {
		return nil, &BackupError{Err: fmt.Errorf("failed to create backup directory: %w", err)}
	}

	createdAt := time.Now()
	archivePath, manifestPath := s.nextArchivePaths(createdAt)

	manifest, err := s.writeArchive(archivePath, reason, createdAt)
	if err != nil {
		os.Remove(archivePath)
		return nil, &BackupError{Err: err}
	}

	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		os.Remove(archivePath)
		return nil, &BackupError{Err: fmt.Errorf("failed to marshal manifest: %w", err)}
	}
	if err := os.WriteFile(manifestPath, data, 0644); err != nil {
		os.Remove(archivePath)
		return nil, &BackupError{Err: fmt.Errorf("failed to write manifest: %w", err)}
	}

	info, err := os.Stat(archivePath)
	if err != nil {
		os.Remove(archivePath)
		os.Remove(manifestPath)
		return nil, &BackupError{Err: fmt.Errorf("failed to stat archive: %w", err)}
	}

	backup := &store.Backup{
		CreatedAt:    createdAt,
		Reason:       reason,
		ArchivePath:  archivePath,
		ManifestPath: manifestPath,
		SizeBytes:    info.Size(),
		Verified:     true, // checksums were computed from the bytes just written
	}

	id, err := s.store.InsertBackup(backup)
	if err != nil {
		// Clean up the artifacts if the ledger insert fails
		os.Remove(archivePath)
		os.Remove(manifestPath)
		return nil, &BackupError{Err: fmt.Errorf("failed to record backup: %w", err)}
	}
	backup.ID = id

	return backup, nil
}

// nextArchivePaths returns unused archive and manifest paths named after
// the creation timestamp. A numeric suffix disambiguates archives created
// within the same second (a restore takes its safety net right after the
// primary backup).
func (s *Store) nextArchivePaths(createdAt time.Time) (string, string) {
	base := createdAt.Format("2006-01-02-150405")
	name := base
	for i := 1; ; i++ {
		archivePath := filepath.Join(s.backupDir, name+".tar.gz")
		if _, err := os.Stat(archivePath); os.IsNotExist(err) {
			return archivePath, filepath.Join(s.backupDir, name+".manifest.json")
		}
		name = fmt.Sprintf("%s-%d", base, i)
	}
}

// writeArchive streams the critical path set into a tar.gz file and
// returns the manifest of everything it wrote.
func (s *Store) writeArchive(archivePath, reason string, createdAt time.Time) (*Manifest, error) {
	f, err := os.Create(archivePath)
	if err != nil {
		return nil, fmt.Errorf("failed to create archive file: %w", err)
	}

	gz := gzip.NewWriter(f)
	tw := tar.NewWriter(gz)

	manifest := &Manifest{
		CreatedAt: createdAt,
		Reason:    reason,
	}

	for _, critical := range s.paths.Critical {
		if err := s.addPath(tw, manifest, critical); err != nil {
			tw.Close()
			gz.Close()
			f.Close()
			return nil, err
		}
	}

	// Close in order so buffered tar/gzip data reaches the file.
	if err := tw.Close(); err != nil {
		gz.Close()
		f.Close()
		return nil, fmt.Errorf("failed to finalize archive: %w", err)
	}
	if err := gz.Close(); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to finalize archive: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize archive: %w", err)
	}

	return manifest, nil
}

// addPath archives one critical path entry, recursing into directories.
// A missing critical path fails the whole backup.
func (s *Store) addPath(tw *tar.Writer, manifest *Manifest, relPath string) error {
	absPath := filepath.Join(s.liveRoot, filepath.FromSlash(relPath))

	info, err := os.Stat(absPath)
	if err != nil {
		return fmt.Errorf("critical path %s: %w", relPath, err)
	}

	if !info.IsDir() {
		return s.addFile(tw, manifest, relPath, info)
	}

	return filepath.WalkDir(absPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("critical path %s: %w", relPath, err)
		}
		if d.IsDir() {
			return nil
		}

		fileInfo, err := d.Info()
		if err != nil {
			return fmt.Errorf("critical path %s: %w", relPath, err)
		}
		if !fileInfo.Mode().IsRegular() {
			return nil // sockets, fifos, symlinks are not recoverable state
		}

		rel, err := filepath.Rel(s.liveRoot, path)
		if err != nil {
			return fmt.Errorf("critical path %s: %w", relPath, err)
		}

		return s.addFile(tw, manifest, filepath.ToSlash(rel), fileInfo)
	})
}

// addFile writes one regular file into the archive, hashing its content
// as it is copied.
func (s *Store) addFile(tw *tar.Writer, manifest *Manifest, relPath string, info os.FileInfo) error {
	f, err := os.Open(filepath.Join(s.liveRoot, filepath.FromSlash(relPath)))
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", relPath, err)
	}
	defer f.Close()

	header, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return fmt.Errorf("failed to build header for %s: %w", relPath, err)
	}
	header.Name = relPath

	if err := tw.WriteHeader(header); err != nil {
		return fmt.Errorf("failed to write header for %s: %w", relPath, err)
	}

	h := sha256.New()
	n, err := io.Copy(io.MultiWriter(tw, h), f)
	if err != nil {
		return fmt.Errorf("failed to archive %s: %w", relPath, err)
	}

	manifest.Entries = append(manifest.Entries, ManifestEntry{
		Path:   relPath,
		Size:   n,
		SHA256: hex.EncodeToString(h.Sum(nil)),
	})

	return nil
}

// loadManifest reads and parses a manifest JSON file.
func loadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}

	return &manifest, nil
}
