package repository

import (
	"context"
	"sync"
)

// MemoryStore is an in-process CursorStore.
type MemoryStore struct {
	mu sync.Mutex
	m  map[string]int64
}

// NewMemoryStore returns an empty cursor store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{m: make(map[string]int64)}
}

func (s *MemoryStore) Get(ctx context.Context, channel string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.m[channel], nil
}

func (s *MemoryStore) Put(ctx context.Context, channel string, cursor int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cursor > s.m[channel] {
		s.m[channel] = cursor
	}
	return nil
}
