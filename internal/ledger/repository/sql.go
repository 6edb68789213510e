package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"stepup-challenge/internal/ledger/domain"
)

type queries struct {
	get    string
	upsert string
}

var postgresQueries = queries{
	get: `SELECT instrument_key, failed_count, locked_until_ms, updated_at_ms FROM attempt_records WHERE instrument_key = $1`,
	upsert: `INSERT INTO attempt_records (instrument_key, failed_count, locked_until_ms, updated_at_ms) VALUES ($1, $2, $3, $4)
ON CONFLICT (instrument_key) DO UPDATE SET failed_count = EXCLUDED.failed_count, locked_until_ms = EXCLUDED.locked_until_ms, updated_at_ms = EXCLUDED.updated_at_ms`,
}

var sqliteQueries = queries{
	get: `SELECT instrument_key, failed_count, locked_until_ms, updated_at_ms FROM attempt_records WHERE instrument_key = ?`,
	upsert: `INSERT INTO attempt_records (instrument_key, failed_count, locked_until_ms, updated_at_ms) VALUES (?, ?, ?, ?)
ON CONFLICT (instrument_key) DO UPDATE SET failed_count = excluded.failed_count, locked_until_ms = excluded.locked_until_ms, updated_at_ms = excluded.updated_at_ms`,
}

// SQLRepository stores attempt records in the attempt_records table.
type SQLRepository struct {
	db *sql.DB
	q  queries
}

// NewPostgresRepository returns an attempt record repository for a pgx-backed db.
func NewPostgresRepository(db *sql.DB) *SQLRepository {
	return &SQLRepository{db: db, q: postgresQueries}
}

// NewSQLiteRepository returns an attempt record repository for a go-sqlite3 db.
func NewSQLiteRepository(db *sql.DB) *SQLRepository {
	return &SQLRepository{db: db, q: sqliteQueries}
}

// Get returns the record for key, or nil if not found.
func (r *SQLRepository) Get(ctx context.Context, key string) (*domain.Record, error) {
	var (
		rec      domain.Record
		lockedMs int64
		updated  int64
	)
	err := r.db.QueryRowContext(ctx, r.q.get, key).Scan(&rec.Key, &rec.FailedCount, &lockedMs, &updated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get attempt record: %w", err)
	}
	rec.LockedUntil = fromMillis(lockedMs)
	rec.UpdatedAt = fromMillis(updated)
	return &rec, nil
}

// Put upserts rec by key.
func (r *SQLRepository) Put(ctx context.Context, rec *domain.Record) error {
	if rec == nil {
		return nil
	}
	_, err := r.db.ExecContext(ctx, r.q.upsert, rec.Key, rec.FailedCount, toMillis(rec.LockedUntil), toMillis(rec.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to put attempt record: %w", err)
	}
	return nil
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
