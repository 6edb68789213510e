// Package service runs step-up challenge sessions: the phase machine, its timers,
// lockout checks, operator notifications and the approval wait.
package service

import (
	"context"
	"errors"
	"log"
	"sync"

	"github.com/google/uuid"

	"stepup-challenge/internal/approval"
	"stepup-challenge/internal/challenge/domain"
	"stepup-challenge/internal/clock"
	"stepup-challenge/internal/countdown"
	"stepup-challenge/internal/ledger"
	"stepup-challenge/internal/telemetry"
)

// KeyFunc maps an instrument to its attempt ledger key.
type KeyFunc func(domain.Instrument) string

// KeyByLastFour keys the ledger by the last four digits of the masked number.
func KeyByLastFour(in domain.Instrument) string { return ledger.LastFourKey(in.MaskedNumber) }

// KeyByToken keys the ledger by the instrument token, falling back to the last four digits.
func KeyByToken(in domain.Instrument) string { return ledger.TokenKey(in.Token, in.MaskedNumber) }

// Deps are the collaborators shared by every session.
type Deps struct {
	Clock     clock.Clock
	Ledger    ledger.AttemptLedger
	Notifier  Notifier
	Approvals approval.Provider
	// Emitter may be nil.
	Emitter telemetry.EventEmitter
	// KeyFunc defaults to KeyByLastFour.
	KeyFunc KeyFunc
	Timings Timings
}

// Manager owns the single active session.
type Manager struct {
	deps Deps

	// startMu serializes Start so two callers cannot both become active.
	startMu sync.Mutex

	mu       sync.RWMutex
	current  *Session
	sessions map[string]*Session
}

// NewManager validates deps and returns a Manager.
func NewManager(deps Deps) (*Manager, error) {
	if deps.Ledger == nil {
		return nil, errors.New("challenge: attempt ledger is required")
	}
	if deps.Approvals == nil {
		return nil, errors.New("challenge: approval provider is required")
	}
	if deps.Clock == nil {
		deps.Clock = clock.Real()
	}
	if deps.KeyFunc == nil {
		deps.KeyFunc = KeyByLastFour
	}
	deps.Timings = deps.Timings.withDefaults()
	return &Manager{deps: deps, sessions: make(map[string]*Session)}, nil
}

// Start opens a challenge for in. Any session still running is closed first. The new
// session begins in preloading.
func (m *Manager) Start(ctx context.Context, in domain.Instrument, cb Callbacks) (*Session, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	m.startMu.Lock()
	defer m.startMu.Unlock()

	m.mu.RLock()
	prev := m.current
	m.mu.RUnlock()
	if prev != nil {
		prev.Close()
	}

	key := m.deps.KeyFunc(in)
	if err := m.deps.Ledger.BeginSession(ctx, key, m.deps.Clock.Now()); err != nil {
		log.Printf("challenge: begin session for %s: %v", in.MaskedNumber, err)
		return nil, err
	}

	id := uuid.NewString()
	s := &Session{
		id:         id,
		instrument: in,
		key:        key,
		clock:      m.deps.Clock,
		ledger:     m.deps.Ledger,
		notifier:   m.deps.Notifier,
		channel:    m.deps.Approvals.ForSession(id),
		emitter:    m.deps.Emitter,
		timings:    m.deps.Timings,
		callbacks:  cb,
		listeners:  make(map[int]func(View)),
	}
	s.resend = countdown.New(m.deps.Clock, func(int) { s.onResendTick() }, s.onResendTick)
	s.lockTimer = countdown.New(m.deps.Clock, func(int) { s.onLockTick() }, s.onLockTick)

	m.mu.Lock()
	m.current = s
	m.sessions = map[string]*Session{id: s}
	m.mu.Unlock()

	s.start()
	log.Printf("challenge: session %s started for %s", id, in.MaskedNumber)
	return s, nil
}

// Get returns the session with id. Only the most recent session is retained.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// Active returns the current session, or nil when none is running.
func (m *Manager) Active() *Session {
	m.mu.RLock()
	s := m.current
	m.mu.RUnlock()
	if s == nil || s.Ended() {
		return nil
	}
	return s
}

// Close closes the session with id.
func (m *Manager) Close(id string) error {
	s, err := m.Get(id)
	if err != nil {
		return err
	}
	s.Close()
	return nil
}

// Shutdown closes the active session.
func (m *Manager) Shutdown() {
	m.startMu.Lock()
	defer m.startMu.Unlock()
	m.mu.RLock()
	s := m.current
	m.mu.RUnlock()
	if s != nil {
		s.Close()
	}
}
