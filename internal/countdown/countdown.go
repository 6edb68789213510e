// Package countdown provides a restartable per-second countdown used for the resend
// cooldown and the approval deadline.
package countdown

import (
	"sync"
	"time"

	"stepup-challenge/internal/clock"
)

// Timer counts down whole seconds. OnTick receives the remaining seconds after each
// elapsed second; OnExpire fires exactly once per Start when the count reaches zero.
// Start while running replaces the schedule. A callback already dispatched when Stop
// or Start is called may still run; owners gate callbacks on their own state.
type Timer struct {
	clock    clock.Clock
	onTick   func(remaining int)
	onExpire func()

	mu       sync.Mutex
	gen      uint64
	deadline time.Time
	running  bool
	pending  clock.Timer
}

// New returns a stopped Timer. onTick and onExpire may be nil.
func New(c clock.Clock, onTick func(remaining int), onExpire func()) *Timer {
	if c == nil {
		c = clock.Real()
	}
	return &Timer{clock: c, onTick: onTick, onExpire: onExpire}
}

// Start begins counting down from d. Sub-second remainders round up to whole seconds.
// A non-positive d expires on the first tick.
func (t *Timer) Start(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopLocked()
	t.gen++
	t.running = true
	t.deadline = t.clock.Now().Add(d)
	t.scheduleLocked(t.gen)
}

// Stop cancels the countdown. Safe to call when not running.
func (t *Timer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopLocked()
	t.gen++
}

// Running reports whether a countdown is in progress.
func (t *Timer) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

// Remaining returns the whole seconds left, or 0 when stopped or expired.
func (t *Timer) Remaining() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.running {
		return 0
	}
	return ceilSeconds(t.deadline.Sub(t.clock.Now()))
}

func (t *Timer) stopLocked() {
	if t.pending != nil {
		t.pending.Stop()
		t.pending = nil
	}
	t.running = false
}

func (t *Timer) scheduleLocked(gen uint64) {
	t.pending = t.clock.AfterFunc(time.Second, func() { t.tick(gen) })
}

func (t *Timer) tick(gen uint64) {
	t.mu.Lock()
	if gen != t.gen || !t.running {
		t.mu.Unlock()
		return
	}
	remaining := ceilSeconds(t.deadline.Sub(t.clock.Now()))
	if remaining <= 0 {
		t.running = false
		t.pending = nil
		t.mu.Unlock()
		if t.onExpire != nil {
			t.onExpire()
		}
		return
	}
	t.scheduleLocked(gen)
	t.mu.Unlock()
	if t.onTick != nil {
		t.onTick(remaining)
	}
}

func ceilSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int((d + time.Second - 1) / time.Second)
}
