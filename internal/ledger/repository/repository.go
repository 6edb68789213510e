package repository

import (
	"context"

	"stepup-challenge/internal/ledger/domain"
)

// Repository defines persistence for attempt records.
type Repository interface {
	// Get returns the record for key, or nil if none exists.
	Get(ctx context.Context, key string) (*domain.Record, error)
	// Put creates or replaces the record for r.Key.
	Put(ctx context.Context, r *domain.Record) error
}
