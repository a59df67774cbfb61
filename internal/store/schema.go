package store

const schema = `
CREATE TABLE IF NOT EXISTS backups (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    created_at TIMESTAMP NOT NULL,
    reason TEXT,
    archive_path TEXT NOT NULL,
    manifest_path TEXT NOT NULL,
    size_bytes INTEGER NOT NULL DEFAULT 0,
    verified BOOLEAN NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS attempts (
    id TEXT PRIMARY KEY,
    version_from TEXT NOT NULL,
    version_to TEXT,
    status TEXT NOT NULL,
    backup_id INTEGER REFERENCES backups(id) ON DELETE SET NULL,
    error_message TEXT,
    started_at TIMESTAMP NOT NULL,
    completed_at TIMESTAMP
);

CREATE TABLE IF NOT EXISTS attempt_steps (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    attempt_id TEXT NOT NULL,
    name TEXT NOT NULL,
    outcome TEXT NOT NULL,
    duration_ms INTEGER NOT NULL,
    FOREIGN KEY (attempt_id) REFERENCES attempts(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_attempts_started ON attempts(started_at);
CREATE INDEX IF NOT EXISTS idx_steps_attempt ON attempt_steps(attempt_id);
CREATE INDEX IF NOT EXISTS idx_backups_created ON backups(created_at);
`
