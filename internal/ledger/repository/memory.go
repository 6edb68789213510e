package repository

import (
	"context"
	"sync"

	"stepup-challenge/internal/ledger/domain"
)

// MemoryRepository is an in-memory Repository. State lives as long as the process.
type MemoryRepository struct {
	mu sync.RWMutex
	m  map[string]domain.Record
}

// NewMemoryRepository returns an empty in-memory attempt record store.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{m: make(map[string]domain.Record)}
}

// Get returns a copy of the record for key, or nil if missing.
func (r *MemoryRepository) Get(ctx context.Context, key string) (*domain.Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.m[key]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

// Put stores a copy of rec.
func (r *MemoryRepository) Put(ctx context.Context, rec *domain.Record) error {
	if rec == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.m[rec.Key] = *rec
	return nil
}
