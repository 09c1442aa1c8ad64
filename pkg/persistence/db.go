// Package persistence provides SQLite-based storage for context snapshots and run records.
package persistence

import (
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/Lynx-Eco/lib-ai/pkg/logx"
)

// ErrNotFound is returned when a snapshot or run does not exist.
var ErrNotFound = errors.New("not found")

// Store owns one SQLite connection. SQLite allows a single writer, so the pool is
// capped at one connection and callers may share a Store across goroutines.
type Store struct {
	db     *sql.DB
	logger *logx.Logger
	path   string
}

// Open opens (creating if needed) the database at dbPath with WAL journaling and a
// busy timeout, and brings the schema to the current version. Use ":memory:" in tests.
func Open(dbPath string) (*Store, error) {
	dsn := dbPath
	if dbPath != ":memory:" {
		dsn = fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", dbPath)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer; an in-memory database also lives on one connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	s := &Store{db: db, logger: logx.NewLogger("persistence"), path: dbPath}
	s.logger.Info("📦 Database initialized: %s", dbPath)
	return s, nil
}

// DB exposes the underlying handle for callers that need ad-hoc queries.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the database connection.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}
