// Package ledger implements the per-instrument failed-attempt counter and lockout policy.
package ledger

import (
	"context"
	"sync"
	"time"

	"stepup-challenge/internal/ledger/domain"
	"stepup-challenge/internal/ledger/repository"
)

const (
	// MaxFailures is the number of failed submissions that locks an instrument.
	MaxFailures = 5
	// LockoutWindow is how long an instrument stays locked.
	LockoutWindow = 15 * time.Minute
)

// AttemptLedger is consulted before accepting a challenge submission and updated when
// a submission is rejected. It is the only state shared between challenge sessions.
type AttemptLedger interface {
	// RecordFailure increments the failure count for key; on reaching MaxFailures it
	// locks key until now+LockoutWindow and resets the count for the next window.
	RecordFailure(ctx context.Context, key string, now time.Time) (*domain.Record, error)
	// IsLocked reports now < LockedUntil for key.
	IsLocked(ctx context.Context, key string, now time.Time) (bool, error)
	// RemainingLock returns max(0, LockedUntil-now) for key.
	RemainingLock(ctx context.Context, key string, now time.Time) (time.Duration, error)
	// BeginSession clears the record for key when a previous lockout has fully elapsed.
	BeginSession(ctx context.Context, key string, now time.Time) error
}

// Ledger implements AttemptLedger over a record repository.
type Ledger struct {
	repo        repository.Repository
	maxFailures int
	window      time.Duration

	// mu serializes read-modify-write within this process.
	mu sync.Mutex
}

// New returns a Ledger using MaxFailures and LockoutWindow.
func New(repo repository.Repository) *Ledger {
	return &Ledger{repo: repo, maxFailures: MaxFailures, window: LockoutWindow}
}

// RecordFailure increments the failure count and applies the lockout when the threshold is reached.
func (l *Ledger) RecordFailure(ctx context.Context, key string, now time.Time) (*domain.Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, err := l.repo.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		rec = &domain.Record{Key: key}
	}
	rec.FailedCount++
	if rec.FailedCount >= l.maxFailures {
		rec.LockedUntil = now.Add(l.window)
		rec.FailedCount = 0
	}
	rec.UpdatedAt = now
	if err := l.repo.Put(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// IsLocked is a pure read: now < LockedUntil.
func (l *Ledger) IsLocked(ctx context.Context, key string, now time.Time) (bool, error) {
	rec, err := l.repo.Get(ctx, key)
	if err != nil {
		return false, err
	}
	return rec.Locked(now), nil
}

// RemainingLock returns how long key stays locked, or 0.
func (l *Ledger) RemainingLock(ctx context.Context, key string, now time.Time) (time.Duration, error) {
	rec, err := l.repo.Get(ctx, key)
	if err != nil {
		return 0, err
	}
	return rec.Remaining(now), nil
}

// BeginSession resets the failure count and lock once the lockout window has elapsed.
// Records that were never locked keep accumulating across sessions.
func (l *Ledger) BeginSession(ctx context.Context, key string, now time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, err := l.repo.Get(ctx, key)
	if err != nil || rec == nil {
		return err
	}
	if rec.LockedUntil.IsZero() || now.Before(rec.LockedUntil) {
		return nil
	}
	rec.FailedCount = 0
	rec.LockedUntil = time.Time{}
	rec.UpdatedAt = now
	return l.repo.Put(ctx, rec)
}
