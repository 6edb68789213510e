package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"stepup-challenge/internal/approval"
	"stepup-challenge/internal/challenge/domain"
	"stepup-challenge/internal/clock"
	"stepup-challenge/internal/ledger"
	ledgerdomain "stepup-challenge/internal/ledger/domain"
	"stepup-challenge/internal/ledger/repository"
	"stepup-challenge/internal/notify"
)

var epoch = time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC)

type fakeNotifier struct {
	mu    sync.Mutex
	texts []string
}

func (n *fakeNotifier) Send(sessionID, text string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.texts = append(n.texts, text)
}

func (n *fakeNotifier) sent() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.texts...)
}

// fakeProvider hands out channels that share one pending decision and one set of counters.
type fakeProvider struct {
	mu       sync.Mutex
	pending  *approval.Kind
	pollErr  error
	polls    int
	requests []string
	acks     []string
}

func (p *fakeProvider) ForSession(sessionID string) approval.Channel {
	return &fakeChannel{p: p, sessionID: sessionID}
}

func (p *fakeProvider) decide(k approval.Kind) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending = &k
}

func (p *fakeProvider) pollCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.polls
}

func (p *fakeProvider) requestCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

func (p *fakeProvider) ackTexts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.acks...)
}

type fakeChannel struct {
	p         *fakeProvider
	sessionID string
}

func (c *fakeChannel) Actions() []notify.Action {
	return []notify.Action{
		{ID: "approve:" + c.sessionID, Label: "Approve"},
		{ID: "decline:" + c.sessionID, Label: "Decline"},
	}
}

func (c *fakeChannel) NotifyWithActions(text string, actions []notify.Action) {
	c.p.mu.Lock()
	defer c.p.mu.Unlock()
	c.p.requests = append(c.p.requests, text)
}

func (c *fakeChannel) PollForDecision(ctx context.Context) (*approval.Update, error) {
	c.p.mu.Lock()
	defer c.p.mu.Unlock()
	c.p.polls++
	if c.p.pollErr != nil {
		return nil, c.p.pollErr
	}
	if c.p.pending == nil {
		return nil, nil
	}
	k := *c.p.pending
	c.p.pending = nil
	return &approval.Update{Kind: k, Cursor: int64(c.p.polls), AckToken: "cb-1", SessionID: c.sessionID}, nil
}

func (c *fakeChannel) Acknowledge(ctx context.Context, token, text string) {
	c.p.mu.Lock()
	defer c.p.mu.Unlock()
	c.p.acks = append(c.p.acks, text)
}

type failingLedger struct {
	ledger.AttemptLedger
}

func (failingLedger) RemainingLock(ctx context.Context, key string, now time.Time) (time.Duration, error) {
	return 0, errors.New("ledger unavailable")
}

func (failingLedger) BeginSession(ctx context.Context, key string, now time.Time) error { return nil }

type harness struct {
	clock     *clock.Manual
	repo      *repository.MemoryRepository
	notifier  *fakeNotifier
	approvals *fakeProvider
	manager   *Manager
}

func newHarness(t *testing.T, timings Timings) *harness {
	t.Helper()
	h := &harness{
		clock:     clock.NewManual(epoch),
		repo:      repository.NewMemoryRepository(),
		notifier:  &fakeNotifier{},
		approvals: &fakeProvider{},
	}
	m, err := NewManager(Deps{
		Clock:     h.clock,
		Ledger:    ledger.New(h.repo),
		Notifier:  h.notifier,
		Approvals: h.approvals,
		Timings:   timings,
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	h.manager = m
	return h
}

type callbackRecorder struct {
	mu        sync.Mutex
	terminals []domain.Outcome
	closes    int
}

func (r *callbackRecorder) callbacks() Callbacks {
	return Callbacks{
		OnTerminal: func(o domain.Outcome) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.terminals = append(r.terminals, o)
		},
		OnClose: func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.closes++
		},
	}
}

func (r *callbackRecorder) counts() (terminals []domain.Outcome, closes int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Outcome(nil), r.terminals...), r.closes
}

func testInstrument() domain.Instrument {
	return domain.Instrument{Brand: "Visa", MaskedNumber: "•••• 4242", Currency: "EUR", MerchantLabel: "Acme"}
}

func (h *harness) start(t *testing.T, rec *callbackRecorder) *Session {
	t.Helper()
	s, err := h.manager.Start(context.Background(), testInstrument(), rec.callbacks())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	return s
}

// toPinEntry drives a fresh session through preloading, code submission and verification.
func (h *harness) toPinEntry(t *testing.T, s *Session, code string) {
	t.Helper()
	h.clock.Advance(DefaultPreloadDelay)
	if err := s.SubmitCode(context.Background(), code); err != nil {
		t.Fatalf("SubmitCode: %v", err)
	}
	h.clock.Advance(VerifyDelay)
	if name := s.Phase().Name(); name != domain.PhasePinEntry {
		t.Fatalf("phase = %s, want %s", name, domain.PhasePinEntry)
	}
}

func (h *harness) record(t *testing.T) *ledgerdomain.Record {
	t.Helper()
	rec, err := h.repo.Get(context.Background(), "4242")
	if err != nil {
		t.Fatalf("repo.Get: %v", err)
	}
	return rec
}
