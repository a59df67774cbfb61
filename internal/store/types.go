package store

import "time"

// Status values for an update attempt. An attempt starts as pending and
// ends in exactly one of the terminal states.
const (
	StatusPending    = "pending"
	StatusNoUpdate   = "no_update"
	StatusSuccess    = "success"
	StatusFailed     = "failed"
	StatusRolledBack = "rolled_back"
)

// IsTerminal reports whether status is a terminal state.
func IsTerminal(status string) bool {
	return status != StatusPending
}

// Attempt is one run of the update state machine.
type Attempt struct {
	ID           string
	VersionFrom  string
	VersionTo    string // empty until the attempt succeeds
	Status       string
	BackupID     int64 // 0 when no backup was taken
	ErrorMessage string
	StartedAt    time.Time
	CompletedAt  time.Time // zero until the attempt is terminal
	Steps        []*Step
}

// Step records one stage of an attempt for post-mortem diagnosis.
type Step struct {
	AttemptID string
	Name      string
	Outcome   string // "ok" or the error text
	Duration  time.Duration
}

// Backup is the ledger row for one write-once archive on disk.
type Backup struct {
	ID           int64
	CreatedAt    time.Time
	Reason       string
	ArchivePath  string
	ManifestPath string
	SizeBytes    int64
	Verified     bool
}
