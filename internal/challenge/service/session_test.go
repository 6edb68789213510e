package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"stepup-challenge/internal/approval"
	"stepup-challenge/internal/challenge/domain"
	"stepup-challenge/internal/ledger"
	"stepup-challenge/internal/notify"
)

func TestSession_ApprovedFlow(t *testing.T) {
	h := newHarness(t, Timings{})
	rec := &callbackRecorder{}
	s := h.start(t, rec)

	if name := s.Phase().Name(); name != domain.PhasePreloading {
		t.Fatalf("initial phase = %s, want preloading", name)
	}
	h.clock.Advance(DefaultPreloadDelay - time.Millisecond)
	if name := s.Phase().Name(); name != domain.PhasePreloading {
		t.Fatalf("phase before preload delay = %s", name)
	}
	h.clock.Advance(time.Millisecond)
	ch, ok := s.Phase().(domain.Challenge)
	if !ok {
		t.Fatalf("phase = %T, want Challenge", s.Phase())
	}
	if ch.ResendIn != 30 {
		t.Errorf("ResendIn = %d, want 30", ch.ResendIn)
	}

	if err := s.SubmitCode(context.Background(), "123456"); err != nil {
		t.Fatalf("SubmitCode: %v", err)
	}
	if name := s.Phase().Name(); name != domain.PhaseVerifyingCode {
		t.Fatalf("phase = %s, want verifyingCode", name)
	}
	h.clock.Advance(VerifyDelay)
	if err := s.SubmitPIN("9876"); err != nil {
		t.Fatalf("SubmitPIN: %v", err)
	}
	wa, ok := s.Phase().(domain.WaitingApproval)
	if !ok || wa.RemainingSeconds != 25 {
		t.Fatalf("phase = %#v, want WaitingApproval{25}", s.Phase())
	}

	sent := h.notifier.sent()
	if len(sent) != 2 || !strings.Contains(sent[0], "Code: 123456") || !strings.Contains(sent[1], "PIN: 9876") {
		t.Fatalf("notifications = %q, want code then pin", sent)
	}
	if h.approvals.requestCount() != 1 {
		t.Errorf("approval requests = %d, want 1", h.approvals.requestCount())
	}

	h.clock.Advance(3 * time.Second)
	if wa, _ := s.Phase().(domain.WaitingApproval); wa.RemainingSeconds != 22 {
		t.Errorf("RemainingSeconds = %d after 3s, want 22", wa.RemainingSeconds)
	}

	h.approvals.decide(approval.KindApprove)
	h.clock.Advance(approval.DefaultPollInterval)
	if name := s.Phase().Name(); name != domain.PhaseFinalizing {
		t.Fatalf("phase = %s, want finalizing", name)
	}
	if acks := h.approvals.ackTexts(); len(acks) != 1 {
		t.Errorf("acks = %v, want one", acks)
	}

	h.clock.Advance(FinalizeDelay)
	if name := s.Phase().Name(); name != domain.PhaseSucceeded {
		t.Fatalf("phase = %s, want succeeded", name)
	}
	terms, closes := rec.counts()
	if len(terms) != 1 || terms[0].Kind != domain.OutcomeSucceeded {
		t.Errorf("terminal callbacks = %v, want one succeeded", terms)
	}
	if closes != 0 {
		t.Errorf("OnClose called before auto-close")
	}

	h.clock.Advance(AutoCloseDelay)
	if !s.Ended() {
		t.Fatal("session should end after auto-close delay")
	}
	if _, closes := rec.counts(); closes != 1 {
		t.Errorf("OnClose calls = %d, want 1", closes)
	}
	if h.manager.Active() != nil {
		t.Error("Active should be nil after the session ended")
	}
	if r := h.record(t); r != nil {
		t.Errorf("ledger record = %+v, want none after success", r)
	}
}

func TestSession_DeclineFailsAndRecordsAttempt(t *testing.T) {
	h := newHarness(t, Timings{})
	rec := &callbackRecorder{}
	s := h.start(t, rec)
	h.toPinEntry(t, s, "1111")
	if err := s.SubmitPIN("0000"); err != nil {
		t.Fatalf("SubmitPIN: %v", err)
	}

	h.approvals.decide(approval.KindDecline)
	h.clock.Advance(approval.DefaultPollInterval)

	f, ok := s.Phase().(domain.Failed)
	if !ok || f.Reason != domain.ReasonDeclined {
		t.Fatalf("phase = %#v, want Failed with decline reason", s.Phase())
	}
	terms, _ := rec.counts()
	if len(terms) != 1 || terms[0].Kind != domain.OutcomeFailed || terms[0].Reason != domain.ReasonDeclined {
		t.Errorf("terminal callbacks = %v", terms)
	}
	r := h.record(t)
	if r == nil || r.FailedCount != 1 {
		t.Errorf("ledger record = %+v, want one failure", r)
	}
	if acks := h.approvals.ackTexts(); len(acks) != 1 || acks[0] != "Payment declined" {
		t.Errorf("acks = %v", acks)
	}

	polls := h.approvals.pollCount()
	h.clock.Advance(time.Minute)
	if h.approvals.pollCount() != polls {
		t.Error("polling continued after decision")
	}
	if s.Ended() {
		t.Error("failed session must wait for Retry or Close")
	}
}

func TestSession_ApprovalTimeout(t *testing.T) {
	h := newHarness(t, Timings{})
	rec := &callbackRecorder{}
	s := h.start(t, rec)
	h.toPinEntry(t, s, "1111")
	if err := s.SubmitPIN("0000"); err != nil {
		t.Fatalf("SubmitPIN: %v", err)
	}

	h.clock.Advance(ApprovalTimeout - time.Millisecond)
	if name := s.Phase().Name(); name != domain.PhaseWaitingApproval {
		t.Fatalf("phase before deadline = %s", name)
	}
	h.clock.Advance(time.Millisecond)

	f, ok := s.Phase().(domain.Failed)
	if !ok || f.Reason != domain.ReasonTimeout {
		t.Fatalf("phase = %#v, want Failed with timeout reason", s.Phase())
	}
	sent := h.notifier.sent()
	if len(sent) != 3 || !strings.Contains(sent[2], "expired") {
		t.Errorf("notifications = %q, want timeout status last", sent)
	}
	if r := h.record(t); r == nil || r.FailedCount != 1 {
		t.Errorf("ledger record = %+v, want one failure", r)
	}

	polls := h.approvals.pollCount()
	if polls == 0 {
		t.Fatal("expected polls while waiting")
	}
	h.approvals.decide(approval.KindApprove)
	h.clock.Advance(10 * time.Second)
	if h.approvals.pollCount() != polls {
		t.Errorf("polls = %d after timeout, want %d", h.approvals.pollCount(), polls)
	}
	if name := s.Phase().Name(); name != domain.PhaseFailed {
		t.Errorf("late approval changed phase to %s", name)
	}
}

func TestSession_ApproveJustBeforeDeadline(t *testing.T) {
	h := newHarness(t, Timings{PollInterval: 300 * time.Millisecond})
	rec := &callbackRecorder{}
	s := h.start(t, rec)
	h.toPinEntry(t, s, "1111")
	if err := s.SubmitPIN("0000"); err != nil {
		t.Fatalf("SubmitPIN: %v", err)
	}

	h.clock.Advance(24800 * time.Millisecond)
	h.approvals.decide(approval.KindApprove)
	h.clock.Advance(100 * time.Millisecond)
	if name := s.Phase().Name(); name != domain.PhaseFinalizing {
		t.Fatalf("phase at 24.9s = %s, want finalizing", name)
	}

	h.clock.Advance(200 * time.Millisecond)
	if name := s.Phase().Name(); name != domain.PhaseFinalizing {
		t.Fatalf("deadline overrode approval: phase = %s", name)
	}
	h.clock.Advance(FinalizeDelay)
	if name := s.Phase().Name(); name != domain.PhaseSucceeded {
		t.Fatalf("phase = %s, want succeeded", name)
	}
	if r := h.record(t); r != nil {
		t.Errorf("ledger record = %+v, want none", r)
	}
}

func TestSession_CodeDispatchedOncePerValue(t *testing.T) {
	h := newHarness(t, Timings{})
	s := h.start(t, &callbackRecorder{})
	h.clock.Advance(DefaultPreloadDelay)

	ctx := context.Background()
	if err := s.SubmitCode(ctx, "1234"); err != nil {
		t.Fatalf("SubmitCode: %v", err)
	}
	h.clock.Advance(2 * time.Second)
	if err := s.SubmitCode(ctx, "1234"); err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	if got := len(h.notifier.sent()); got != 1 {
		t.Fatalf("notifications = %d after duplicate, want 1", got)
	}
	if err := s.SubmitCode(ctx, "5678"); err != nil {
		t.Fatalf("changed code: %v", err)
	}
	sent := h.notifier.sent()
	if len(sent) != 2 || !strings.Contains(sent[1], "Code: 5678") {
		t.Fatalf("notifications = %q, want changed code dispatched", sent)
	}

	// Resubmission does not restart verification.
	h.clock.Advance(3 * time.Second)
	if name := s.Phase().Name(); name != domain.PhasePinEntry {
		t.Errorf("phase = %s, want pinEntry 5s after first submission", name)
	}
}

func TestSession_CodeTooShort(t *testing.T) {
	h := newHarness(t, Timings{})
	s := h.start(t, &callbackRecorder{})
	h.clock.Advance(DefaultPreloadDelay)

	err := s.SubmitCode(context.Background(), " 12 ")
	if !errors.Is(err, ErrCodeTooShort) {
		t.Fatalf("err = %v, want ErrCodeTooShort", err)
	}
	ch, ok := s.Phase().(domain.Challenge)
	if !ok || ch.Err == "" {
		t.Errorf("phase = %#v, want Challenge with error", s.Phase())
	}
	if len(h.notifier.sent()) != 0 {
		t.Error("short code must not be dispatched")
	}
	if r := h.record(t); r != nil {
		t.Errorf("short code recorded a failure: %+v", r)
	}
}

func TestSession_PINTooShort(t *testing.T) {
	h := newHarness(t, Timings{})
	s := h.start(t, &callbackRecorder{})
	h.toPinEntry(t, s, "1234")

	if err := s.SubmitPIN("12"); !errors.Is(err, ErrPINTooShort) {
		t.Fatalf("err = %v, want ErrPINTooShort", err)
	}
	if p, ok := s.Phase().(domain.PinEntry); !ok || p.Err == "" {
		t.Errorf("phase = %#v, want PinEntry with error", s.Phase())
	}
	if h.approvals.requestCount() != 0 {
		t.Error("approval requested for short PIN")
	}
}

func TestSession_WrongPhase(t *testing.T) {
	h := newHarness(t, Timings{})
	s := h.start(t, &callbackRecorder{})
	ctx := context.Background()

	if err := s.SubmitCode(ctx, "1234"); !errors.Is(err, ErrWrongPhase) {
		t.Errorf("SubmitCode in preloading: err = %v, want ErrWrongPhase", err)
	}
	h.clock.Advance(DefaultPreloadDelay)
	if err := s.SubmitPIN("1234"); !errors.Is(err, ErrWrongPhase) {
		t.Errorf("SubmitPIN in challenge: err = %v, want ErrWrongPhase", err)
	}
	if err := s.Retry(); !errors.Is(err, ErrWrongPhase) {
		t.Errorf("Retry in challenge: err = %v, want ErrWrongPhase", err)
	}
	s.Close()
	if err := s.SubmitCode(ctx, "1234"); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("SubmitCode after Close: err = %v, want ErrSessionClosed", err)
	}
}

func TestSession_ResendCooldown(t *testing.T) {
	h := newHarness(t, Timings{})
	s := h.start(t, &callbackRecorder{})
	h.clock.Advance(DefaultPreloadDelay)

	if err := s.Resend(); !errors.Is(err, ErrResendCooldown) {
		t.Fatalf("Resend during cooldown: err = %v", err)
	}
	h.clock.Advance(time.Second)
	if ch := s.Phase().(domain.Challenge); ch.ResendIn != 29 {
		t.Errorf("ResendIn = %d, want 29", ch.ResendIn)
	}
	h.clock.Advance(29 * time.Second)
	if ch := s.Phase().(domain.Challenge); ch.ResendIn != 0 {
		t.Errorf("ResendIn = %d after cooldown, want 0", ch.ResendIn)
	}
	if err := s.Resend(); err != nil {
		t.Fatalf("Resend: %v", err)
	}
	if ch := s.Phase().(domain.Challenge); ch.ResendIn != 30 {
		t.Errorf("ResendIn = %d after Resend, want 30", ch.ResendIn)
	}
	if len(h.notifier.sent()) != 0 {
		t.Error("Resend must not notify the operator")
	}
}

func TestSession_LockedInstrumentRejectsCode(t *testing.T) {
	h := newHarness(t, Timings{})
	ctx := context.Background()
	for i := 0; i < ledger.MaxFailures; i++ {
		s := h.start(t, &callbackRecorder{})
		h.toPinEntry(t, s, "1234")
		if err := s.SubmitPIN("0000"); err != nil {
			t.Fatalf("SubmitPIN: %v", err)
		}
		h.approvals.decide(approval.KindDecline)
		h.clock.Advance(approval.DefaultPollInterval)
		if err := s.Retry(); err != nil {
			t.Fatalf("Retry #%d: %v", i, err)
		}
	}

	s := h.start(t, &callbackRecorder{})
	h.clock.Advance(DefaultPreloadDelay)
	sentBefore := len(h.notifier.sent())

	var locked *LockedError
	if err := s.SubmitCode(ctx, "1"); !errors.As(err, &locked) {
		t.Fatalf("short code while locked: err = %v, want *LockedError", err)
	}
	if ch, _ := s.Phase().(domain.Challenge); ch.Err == msgCodeTooShort {
		t.Errorf("locked instrument shows the validation message %q", ch.Err)
	}

	err := s.SubmitCode(ctx, "1234")
	if !errors.As(err, &locked) {
		t.Fatalf("err = %v, want *LockedError", err)
	}
	if locked.Remaining <= 0 || locked.Remaining > ledger.LockoutWindow {
		t.Errorf("Remaining = %v", locked.Remaining)
	}
	ch, ok := s.Phase().(domain.Challenge)
	if !ok || ch.LockedUntil.IsZero() || ch.Err == "" {
		t.Fatalf("phase = %#v, want locked Challenge", s.Phase())
	}
	if len(h.notifier.sent()) != sentBefore {
		t.Error("locked submission was dispatched")
	}

	r1 := s.LockoutRemaining()
	h.clock.Advance(time.Second)
	r2 := s.LockoutRemaining()
	if r2 != r1-time.Second {
		t.Errorf("lockout remaining %v -> %v, want one second less", r1, r2)
	}

	// The display clears on the first whole-second tick past the lock.
	h.clock.Advance(r2 + time.Second)
	if s.LockoutRemaining() != 0 {
		t.Errorf("lockout remaining = %v after expiry", s.LockoutRemaining())
	}
	if ch := s.Phase().(domain.Challenge); !ch.LockedUntil.IsZero() || ch.Err != "" {
		t.Errorf("phase = %#v, want lock cleared", ch)
	}
	if err := s.SubmitCode(ctx, "1234"); err != nil {
		t.Errorf("SubmitCode after lockout: %v", err)
	}
}

func TestSession_LedgerErrorFailsClosed(t *testing.T) {
	h := newHarness(t, Timings{})
	m, err := NewManager(Deps{Clock: h.clock, Ledger: failingLedger{}, Notifier: h.notifier, Approvals: h.approvals})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	s, err := m.Start(context.Background(), testInstrument(), Callbacks{})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	h.clock.Advance(DefaultPreloadDelay)
	if err := s.SubmitCode(context.Background(), "1234"); err == nil {
		t.Fatal("SubmitCode should fail when the ledger is unavailable")
	}
	if name := s.Phase().Name(); name != domain.PhaseChallenge {
		t.Errorf("phase = %s, want challenge", name)
	}
	if len(h.notifier.sent()) != 0 {
		t.Error("code dispatched despite ledger failure")
	}
}

func TestSession_CloseWhileWaiting(t *testing.T) {
	h := newHarness(t, Timings{})
	rec := &callbackRecorder{}
	s := h.start(t, rec)
	h.toPinEntry(t, s, "1234")
	if err := s.SubmitPIN("0000"); err != nil {
		t.Fatalf("SubmitPIN: %v", err)
	}
	h.clock.Advance(2 * time.Second)

	s.Close()
	s.Close()
	polls := h.approvals.pollCount()
	sent := len(h.notifier.sent())
	h.clock.Advance(time.Minute)

	if h.approvals.pollCount() != polls {
		t.Error("polling continued after Close")
	}
	if len(h.notifier.sent()) != sent {
		t.Error("notification sent after Close")
	}
	terms, closes := rec.counts()
	if len(terms) != 0 {
		t.Errorf("terminal callbacks = %v, want none for a closed session", terms)
	}
	if closes != 1 {
		t.Errorf("OnClose calls = %d, want 1", closes)
	}
	o, ok := s.Outcome()
	if !ok || o.Kind != domain.OutcomeClosed {
		t.Errorf("outcome = %+v, %v, want closed", o, ok)
	}
	if r := h.record(t); r != nil {
		t.Errorf("Close recorded a failure: %+v", r)
	}
}

func TestSession_CloseDuringPreloadStopsTimers(t *testing.T) {
	h := newHarness(t, Timings{})
	s := h.start(t, &callbackRecorder{})
	s.Close()
	h.clock.Advance(time.Minute)
	if name := s.Phase().Name(); name != domain.PhasePreloading {
		t.Errorf("phase advanced to %s after Close", name)
	}
	if h.clock.Pending() != 0 {
		t.Errorf("Pending = %d, want no timers after Close", h.clock.Pending())
	}
}

func TestSession_RetryEndsFailedSession(t *testing.T) {
	h := newHarness(t, Timings{})
	rec := &callbackRecorder{}
	s := h.start(t, rec)
	h.toPinEntry(t, s, "1234")
	if err := s.SubmitPIN("0000"); err != nil {
		t.Fatalf("SubmitPIN: %v", err)
	}
	h.clock.Advance(ApprovalTimeout)

	if err := s.Retry(); err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if !s.Ended() {
		t.Error("Retry should end the session")
	}
	if _, closes := rec.counts(); closes != 1 {
		t.Errorf("OnClose calls = %d, want 1", closes)
	}
	o, _ := s.Outcome()
	if o.Kind != domain.OutcomeFailed {
		t.Errorf("outcome = %+v, want failed to be kept", o)
	}
	if err := s.Retry(); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("second Retry: err = %v, want ErrSessionClosed", err)
	}
}

func TestSession_PollErrorsDoNotChangePhase(t *testing.T) {
	h := newHarness(t, Timings{})
	h.approvals.pollErr = errors.New("network down")
	s := h.start(t, &callbackRecorder{})
	h.toPinEntry(t, s, "1234")
	if err := s.SubmitPIN("0000"); err != nil {
		t.Fatalf("SubmitPIN: %v", err)
	}
	h.clock.Advance(5 * time.Second)
	if name := s.Phase().Name(); name != domain.PhaseWaitingApproval {
		t.Errorf("phase = %s, want waitingApproval", name)
	}
	if h.approvals.pollCount() < 5 {
		t.Errorf("polls = %d, want polling to continue through errors", h.approvals.pollCount())
	}
}

func TestSession_SubscribeReceivesChanges(t *testing.T) {
	h := newHarness(t, Timings{})
	s := h.start(t, &callbackRecorder{})

	var views []View
	unsubscribe := s.Subscribe(func(v View) { views = append(views, v) })
	h.clock.Advance(DefaultPreloadDelay)
	if len(views) == 0 || views[len(views)-1].Phase.Name() != domain.PhaseChallenge {
		t.Fatalf("views = %d, want a challenge view", len(views))
	}
	for i := 1; i < len(views); i++ {
		if views[i].Version <= views[i-1].Version {
			t.Fatalf("versions not increasing: %d then %d", views[i-1].Version, views[i].Version)
		}
	}

	unsubscribe()
	n := len(views)
	h.clock.Advance(5 * time.Second)
	if len(views) != n {
		t.Error("listener called after unsubscribe")
	}
	if st := s.State(); st.SessionID != s.ID() || st.Ended {
		t.Errorf("State = %+v", st)
	}
}

func TestSession_LateDecisionIsAcknowledged(t *testing.T) {
	tests := []struct {
		name string
		end  func(h *harness, s *Session)
	}{
		{"after timeout", func(h *harness, s *Session) { h.clock.Advance(ApprovalTimeout) }},
		{"after close", func(h *harness, s *Session) { s.Close() }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, Timings{})
			s := h.start(t, &callbackRecorder{})
			h.toPinEntry(t, s, "1234")
			if err := s.SubmitPIN("0000"); err != nil {
				t.Fatalf("SubmitPIN: %v", err)
			}
			s.mu.Lock()
			gen := s.gen
			s.mu.Unlock()

			tt.end(h, s)
			before := s.Phase()
			s.onDecision(gen, &approval.Update{Kind: approval.KindApprove, AckToken: "cb-late", SessionID: s.ID()})

			if s.Phase() != before {
				t.Errorf("phase changed to %#v by a late decision", s.Phase())
			}
			acks := h.approvals.ackTexts()
			if len(acks) != 1 || acks[0] != notify.StaleAckText {
				t.Errorf("acks = %v, want one %q", acks, notify.StaleAckText)
			}
		})
	}
}
