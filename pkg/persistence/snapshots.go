package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Lynx-Eco/lib-ai/pkg/contextmgr"
)

// SnapshotInfo describes a stored snapshot without its payload.
type SnapshotInfo struct {
	CreatedAt    time.Time
	ID           string
	RunID        string
	MessageCount int
	TokenCount   int
}

// Snapshot is a stored context state.
type Snapshot struct {
	Data []byte // contextmgr JSON form
	SnapshotInfo
}

// RestoreInto replaces the state of c with this snapshot.
func (s *Snapshot) RestoreInto(c *contextmgr.Context) error {
	if err := c.Restore(s.Data); err != nil {
		return fmt.Errorf("failed to restore snapshot %s: %w", s.ID, err)
	}
	return nil
}

// SaveSnapshot stores the current state of c under runID and returns the new snapshot ID.
func (s *Store) SaveSnapshot(ctx context.Context, runID string, c *contextmgr.Context) (string, error) {
	data, err := c.Snapshot()
	if err != nil {
		return "", fmt.Errorf("failed to snapshot context for run %s: %w", runID, err)
	}

	id := uuid.NewString()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO snapshots (id, run_id, created_at, message_count, token_count, data)
		VALUES (?, ?, ?, ?, ?, ?)
	`, id, runID, time.Now().UnixMilli(), c.Len(), c.TokenCount(), data)
	if err != nil {
		return "", fmt.Errorf("failed to insert snapshot for run %s: %w", runID, err)
	}

	s.logger.Debug("💾 Saved snapshot %s for run %s (%d bytes)", id, runID, len(data))
	return id, nil
}

// LoadSnapshot returns the snapshot with the given ID, or ErrNotFound.
func (s *Store) LoadSnapshot(ctx context.Context, id string) (*Snapshot, error) {
	var (
		snap    Snapshot
		created int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, run_id, created_at, message_count, token_count, data
		FROM snapshots WHERE id = ?
	`, id).Scan(&snap.ID, &snap.RunID, &created, &snap.MessageCount, &snap.TokenCount, &snap.Data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("snapshot %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot %s: %w", id, err)
	}
	snap.CreatedAt = time.UnixMilli(created)
	return &snap, nil
}

// LatestSnapshot returns the most recent snapshot for runID, or ErrNotFound.
func (s *Store) LatestSnapshot(ctx context.Context, runID string) (*Snapshot, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `
		SELECT id FROM snapshots WHERE run_id = ? ORDER BY created_at DESC, rowid DESC LIMIT 1
	`, runID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("snapshots for run %s: %w", runID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots for run %s: %w", runID, err)
	}
	return s.LoadSnapshot(ctx, id)
}

// ListSnapshots returns the snapshots of runID, oldest first.
func (s *Store) ListSnapshots(ctx context.Context, runID string) ([]SnapshotInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, created_at, message_count, token_count
		FROM snapshots WHERE run_id = ?
		ORDER BY created_at ASC, rowid ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots for run %s: %w", runID, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var infos []SnapshotInfo
	for rows.Next() {
		var (
			info    SnapshotInfo
			created int64
		)
		if err := rows.Scan(&info.ID, &info.RunID, &created, &info.MessageCount, &info.TokenCount); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		info.CreatedAt = time.UnixMilli(created)
		infos = append(infos, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return infos, nil
}

// DeleteSnapshots removes every snapshot of runID and returns how many were removed.
func (s *Store) DeleteSnapshots(ctx context.Context, runID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM snapshots WHERE run_id = ?`, runID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete snapshots for run %s: %w", runID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted snapshots: %w", err)
	}
	return n, nil
}
