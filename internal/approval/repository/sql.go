package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

type queries struct {
	get    string
	upsert string
}

var postgresQueries = queries{
	get: `SELECT last_update_id FROM approval_cursors WHERE channel = $1`,
	upsert: `INSERT INTO approval_cursors (channel, last_update_id, updated_at_ms) VALUES ($1, $2, $3)
ON CONFLICT (channel) DO UPDATE SET last_update_id = EXCLUDED.last_update_id, updated_at_ms = EXCLUDED.updated_at_ms
WHERE approval_cursors.last_update_id < EXCLUDED.last_update_id`,
}

var sqliteQueries = queries{
	get: `SELECT last_update_id FROM approval_cursors WHERE channel = ?`,
	upsert: `INSERT INTO approval_cursors (channel, last_update_id, updated_at_ms) VALUES (?, ?, ?)
ON CONFLICT (channel) DO UPDATE SET last_update_id = excluded.last_update_id, updated_at_ms = excluded.updated_at_ms
WHERE approval_cursors.last_update_id < excluded.last_update_id`,
}

// SQLStore keeps cursors in the approval_cursors table.
type SQLStore struct {
	db  *sql.DB
	q   queries
	now func() time.Time
}

// NewPostgresStore returns a cursor store for a pgx-backed db.
func NewPostgresStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db, q: postgresQueries, now: time.Now}
}

// NewSQLiteStore returns a cursor store for a go-sqlite3 db.
func NewSQLiteStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db, q: sqliteQueries, now: time.Now}
}

// Get returns the cursor for channel, or 0 when the channel has none yet.
func (s *SQLStore) Get(ctx context.Context, channel string) (int64, error) {
	var cursor int64
	err := s.db.QueryRowContext(ctx, s.q.get, channel).Scan(&cursor)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to get approval cursor: %w", err)
	}
	return cursor, nil
}

// Put advances the cursor for channel; lower values are ignored.
func (s *SQLStore) Put(ctx context.Context, channel string, cursor int64) error {
	if _, err := s.db.ExecContext(ctx, s.q.upsert, channel, cursor, s.now().UnixMilli()); err != nil {
		return fmt.Errorf("failed to put approval cursor: %w", err)
	}
	return nil
}
