package persistence

import (
	"database/sql"
	"errors"
	"fmt"
)

// migration brings the schema from version-1 to version. Each runs in its own transaction.
type migration struct {
	name       string
	statements []string
	version    int
}

//nolint:gochecknoglobals // ordered, append-only migration list
var migrations = []migration{
	{
		version: 1,
		name:    "snapshots and runs",
		statements: []string{
			`CREATE TABLE IF NOT EXISTS snapshots (
				id            TEXT PRIMARY KEY,
				run_id        TEXT NOT NULL,
				created_at    INTEGER NOT NULL,
				message_count INTEGER NOT NULL,
				token_count   INTEGER NOT NULL,
				data          BLOB NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_snapshots_run ON snapshots(run_id, created_at)`,
			`CREATE TABLE IF NOT EXISTS runs (
				run_id      TEXT PRIMARY KEY,
				agent       TEXT NOT NULL DEFAULT '',
				input       TEXT NOT NULL DEFAULT '',
				answer      TEXT NOT NULL DEFAULT '',
				state       TEXT NOT NULL,
				truncated   INTEGER NOT NULL DEFAULT 0,
				iterations  INTEGER NOT NULL DEFAULT 0,
				tool_calls  INTEGER NOT NULL DEFAULT 0,
				duration_ms INTEGER NOT NULL DEFAULT 0,
				error       TEXT NOT NULL DEFAULT '',
				created_at  INTEGER NOT NULL
			)`,
		},
	},
	{
		version: 2,
		name:    "run token usage",
		statements: []string{
			`ALTER TABLE runs ADD COLUMN prompt_tokens INTEGER NOT NULL DEFAULT 0`,
			`ALTER TABLE runs ADD COLUMN completion_tokens INTEGER NOT NULL DEFAULT 0`,
		},
	},
	{
		version: 3,
		name:    "run cost",
		statements: []string{
			`ALTER TABLE runs ADD COLUMN cost_usd REAL NOT NULL DEFAULT 0`,
			`CREATE INDEX IF NOT EXISTS idx_runs_created ON runs(created_at)`,
		},
	},
}

// CurrentSchemaVersion is the version a freshly opened Store is migrated to.
//
//nolint:gochecknoglobals // derived from migrations
var CurrentSchemaVersion = migrations[len(migrations)-1].version

// migrate applies every migration newer than the database's recorded version.
func migrate(db *sql.DB) error {
	current, err := GetSchemaVersion(db)
	if err != nil {
		return err
	}
	if current > CurrentSchemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported version %d", current, CurrentSchemaVersion)
	}
	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		if err := apply(db, m); err != nil {
			return fmt.Errorf("migration %d (%s) failed: %w", m.version, m.name, err)
		}
	}
	return nil
}

func apply(db *sql.DB, m migration) (err error) {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for _, stmt := range m.statements {
		if _, err = tx.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute %q: %w", stmt, err)
		}
	}
	if _, err = tx.Exec(`INSERT OR REPLACE INTO schema_version (version) VALUES (?)`, m.version); err != nil {
		return fmt.Errorf("failed to record version: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

// GetSchemaVersion returns the highest applied migration, or 0 for a new database.
func GetSchemaVersion(db *sql.DB) (int, error) {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version    INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
	)`); err != nil {
		return 0, fmt.Errorf("failed to create schema_version table: %w", err)
	}

	var version int
	err := db.QueryRow(`SELECT version FROM schema_version ORDER BY version DESC LIMIT 1`).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	return version, nil
}
