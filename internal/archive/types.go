// Package archive implements the backup store: write-once tar.gz
// snapshots of the critical path set with integrity manifests, restore
// with a safety-net backup, and a count-bounded retention policy.
package archive

import (
	"time"

	"github.com/chatforge/upkeep/internal/config"
	"github.com/chatforge/upkeep/internal/store"
)

// ManifestEntry describes one archived file.
type ManifestEntry struct {
	Path   string `json:"path"`
	Size   int64  `json:"size"`
	SHA256 string `json:"sha256"`
}

// Manifest is the integrity record written alongside each archive.
type Manifest struct {
	CreatedAt time.Time       `json:"created_at"`
	Reason    string          `json:"reason"`
	Entries   []ManifestEntry `json:"entries"`
}

// Store manages backup archives in a single directory. Archives are
// never mutated after creation.
type Store struct {
	store      *store.Store
	liveRoot   string
	backupDir  string
	paths      config.PathSet
	maxBackups int
}

// New creates a new archive Store.
func New(st *store.Store, liveRoot, backupDir string, paths config.PathSet, maxBackups int) *Store {
	return &Store{
		store:      st,
		liveRoot:   liveRoot,
		backupDir:  backupDir,
		paths:      paths,
		maxBackups: maxBackups,
	}
}

// List returns all recorded backups, newest first.
func (s *Store) List() ([]*store.Backup, error) {
	return s.store.ListBackups()
}
