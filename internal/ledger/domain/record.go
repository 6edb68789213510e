package domain

import "time"

// Record is the persisted failure counter and lockout expiry for one instrument key
// (stored in attempt_records table).
type Record struct {
	Key         string
	FailedCount int
	// LockedUntil is zero when the key has never been locked.
	LockedUntil time.Time
	UpdatedAt   time.Time
}

// Locked reports whether now falls before LockedUntil.
func (r *Record) Locked(now time.Time) bool {
	return r != nil && now.Before(r.LockedUntil)
}

// Remaining returns max(0, LockedUntil-now).
func (r *Record) Remaining(now time.Time) time.Duration {
	if r == nil {
		return 0
	}
	if d := r.LockedUntil.Sub(now); d > 0 {
		return d
	}
	return 0
}
