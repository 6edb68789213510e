package service

import (
	"context"
	"log"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"stepup-challenge/internal/approval"
	"stepup-challenge/internal/challenge/domain"
	"stepup-challenge/internal/clock"
	"stepup-challenge/internal/countdown"
	"stepup-challenge/internal/ledger"
	"stepup-challenge/internal/notify"
	"stepup-challenge/internal/telemetry"
)

const (
	DefaultPreloadDelay   = 25 * time.Second
	DefaultResendCooldown = 30 * time.Second
	VerifyDelay           = 5 * time.Second
	ApprovalTimeout       = 25 * time.Second
	FinalizeDelay         = 3 * time.Second
	AutoCloseDelay        = 2 * time.Second

	MinCodeLength = 4
	MinPINLength  = 4

	sideEffectTimeout = 5 * time.Second
)

// Notifier queues status messages without blocking.
type Notifier interface {
	Send(sessionID, text string)
}

// Callbacks are invoked outside the session lock. OnTerminal fires at most once, with
// succeeded or failed; it does not fire for a session closed before a terminal phase.
// OnClose fires exactly once when the session ends.
type Callbacks struct {
	OnTerminal func(domain.Outcome)
	OnClose    func()
}

// Timings are the configurable delays; zero values use the defaults.
type Timings struct {
	PreloadDelay   time.Duration
	ResendCooldown time.Duration
	PollInterval   time.Duration
}

func (t Timings) withDefaults() Timings {
	if t.PreloadDelay < 0 {
		t.PreloadDelay = 0
	} else if t.PreloadDelay == 0 {
		t.PreloadDelay = DefaultPreloadDelay
	}
	if t.ResendCooldown == 0 {
		t.ResendCooldown = DefaultResendCooldown
	}
	if t.PollInterval <= 0 {
		t.PollInterval = approval.DefaultPollInterval
	}
	return t
}

// View is a snapshot of a session for presenters.
type View struct {
	SessionID  string
	Version    uint64
	Phase      domain.Phase
	Instrument domain.Instrument
	// LockoutRemaining is non-zero while a lockout is displayed in the challenge phase.
	LockoutRemaining time.Duration
	Ended            bool
	Outcome          *domain.Outcome
}

// Session is one challenge attempt. Every event is applied under mu, and events that
// belong to an earlier phase (by generation) are ignored.
type Session struct {
	id         string
	instrument domain.Instrument
	key        string
	clock      clock.Clock
	ledger     ledger.AttemptLedger
	notifier   Notifier
	channel    approval.Channel
	emitter    telemetry.EventEmitter
	timings    Timings
	callbacks  Callbacks

	mu         sync.Mutex
	phase      domain.Phase
	gen        uint64
	version    uint64
	ended      bool
	outcome    *domain.Outcome
	phaseTimer clock.Timer
	resend     *countdown.Timer
	lockTimer  *countdown.Timer
	deadline   *countdown.Timer
	poller     *approval.Poller
	code       string
	pin        string
	lastCode   string
	lastPIN    string
	listeners  map[int]func(View)
	nextSub    int
}

// effects run in order after mu is released.
type effects []func()

func (fx *effects) add(f func()) { *fx = append(*fx, f) }

func (s *Session) run(fn func(fx *effects) error) error {
	var fx effects
	s.mu.Lock()
	err := fn(&fx)
	s.mu.Unlock()
	for _, f := range fx {
		f()
	}
	return err
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Instrument returns the instrument being authenticated.
func (s *Session) Instrument() domain.Instrument { return s.instrument }

// State returns the current snapshot.
func (s *Session) State() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewLocked()
}

// Phase returns the current phase.
func (s *Session) Phase() domain.Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Outcome returns the outcome once the session reached a terminal phase or was closed.
func (s *Session) Outcome() (domain.Outcome, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.outcome == nil {
		return domain.Outcome{}, false
	}
	return *s.outcome, true
}

// Ended reports whether the session is over.
func (s *Session) Ended() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ended
}

// LockoutRemaining returns the displayed lockout time left, for live rendering.
func (s *Session) LockoutRemaining() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lockoutRemainingLocked()
}

// Subscribe registers fn to receive a View after every change. The returned func unsubscribes.
func (s *Session) Subscribe(fn func(View)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSub
	s.nextSub++
	s.listeners[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.listeners, id)
	}
}

func (s *Session) start() {
	s.run(func(fx *effects) error {
		s.emitLocked(telemetry.EventSessionStarted, map[string]string{"brand": s.instrument.Brand})
		s.setPhaseLocked(fx, domain.Preloading{})
		s.afterLocked(s.timings.PreloadDelay, s.enterChallengeLocked)
		return nil
	})
}

// SubmitCode consults the attempt ledger, validates code and moves to verifyingCode.
// A locked instrument is rejected before the code is looked at. During verifyingCode a
// resubmission replaces the pending code. A code notification is sent once per distinct value.
func (s *Session) SubmitCode(ctx context.Context, code string) error {
	code = strings.TrimSpace(code)
	var gen uint64
	err := s.run(func(fx *effects) error {
		if s.ended {
			return ErrSessionClosed
		}
		switch s.phase.(type) {
		case domain.Challenge, domain.VerifyingCode:
		default:
			return ErrWrongPhase
		}
		gen = s.gen
		return nil
	})
	if err != nil {
		return err
	}

	now := s.clock.Now()
	remaining, err := s.ledger.RemainingLock(ctx, s.key, now)
	if err != nil {
		log.Printf("challenge: lockout check failed for session %s: %v", s.id, err)
		return err
	}

	return s.run(func(fx *effects) error {
		if s.ended {
			return ErrSessionClosed
		}
		if s.gen != gen {
			return ErrWrongPhase
		}
		if remaining > 0 {
			lerr := &LockedError{Remaining: remaining, Until: now.Add(remaining)}
			if p, ok := s.phase.(domain.Challenge); ok {
				p.Err = msgLocked
				p.LockedUntil = lerr.Until
				s.updatePhaseLocked(fx, p)
				s.lockTimer.Start(remaining)
			}
			s.emitLocked(telemetry.EventLockoutRejected, map[string]int64{"remaining_ms": remaining.Milliseconds()})
			return lerr
		}
		if utf8.RuneCountInString(code) < MinCodeLength {
			if p, ok := s.phase.(domain.Challenge); ok {
				p.Err = msgCodeTooShort
				s.updatePhaseLocked(fx, p)
				s.emitLocked(telemetry.EventCodeRejected, map[string]string{"reason": "too_short"})
			}
			return ErrCodeTooShort
		}
		s.dispatchCodeLocked(code)
		s.code = code
		if _, ok := s.phase.(domain.Challenge); ok {
			s.resend.Stop()
			s.lockTimer.Stop()
			s.setPhaseLocked(fx, domain.VerifyingCode{})
			s.afterLocked(VerifyDelay, s.enterPinEntryLocked)
		}
		return nil
	})
}

// Resend restarts the resend cooldown and clears the pending code.
func (s *Session) Resend() error {
	return s.run(func(fx *effects) error {
		if s.ended {
			return ErrSessionClosed
		}
		p, ok := s.phase.(domain.Challenge)
		if !ok {
			return ErrWrongPhase
		}
		if s.resend.Running() {
			return ErrResendCooldown
		}
		s.code = ""
		if p.LockedUntil.IsZero() {
			p.Err = ""
		}
		p.ResendIn = s.startResendLocked()
		s.updatePhaseLocked(fx, p)
		return nil
	})
}

// SubmitPIN validates pin, sends the PIN and approval request notifications and waits
// for the operator's decision.
func (s *Session) SubmitPIN(pin string) error {
	pin = strings.TrimSpace(pin)
	return s.run(func(fx *effects) error {
		if s.ended {
			return ErrSessionClosed
		}
		p, ok := s.phase.(domain.PinEntry)
		if !ok {
			return ErrWrongPhase
		}
		if utf8.RuneCountInString(pin) < MinPINLength {
			p.Err = msgPINTooShort
			s.updatePhaseLocked(fx, p)
			return ErrPINTooShort
		}
		s.pin = pin
		s.dispatchPINLocked(pin)
		s.enterWaitingApprovalLocked(fx)
		return nil
	})
}

// Retry ends a failed session. The caller decides whether to start a new one.
func (s *Session) Retry() error {
	return s.run(func(fx *effects) error {
		if s.ended {
			return ErrSessionClosed
		}
		if _, ok := s.phase.(domain.Failed); !ok {
			return ErrWrongPhase
		}
		s.endLocked(fx)
		return nil
	})
}

// Close ends the session from any phase. Timers and polling stop and no further
// notifications are sent. Closing an ended session is a no-op.
func (s *Session) Close() {
	s.run(func(fx *effects) error {
		if s.ended {
			return nil
		}
		if s.outcome == nil {
			s.outcome = &domain.Outcome{Kind: domain.OutcomeClosed}
			s.emitLocked(telemetry.EventSessionClosed, nil)
		}
		s.endLocked(fx)
		return nil
	})
}

func (s *Session) enterChallengeLocked(fx *effects) {
	p := domain.Challenge{}
	p.ResendIn = s.startResendLocked()
	s.setPhaseLocked(fx, p)
}

func (s *Session) startResendLocked() int {
	if s.timings.ResendCooldown <= 0 {
		return 0
	}
	s.resend.Start(s.timings.ResendCooldown)
	return s.resend.Remaining()
}

func (s *Session) enterPinEntryLocked(fx *effects) {
	s.code = ""
	s.setPhaseLocked(fx, domain.PinEntry{})
}

func (s *Session) enterWaitingApprovalLocked(fx *effects) {
	s.pin = ""
	s.setPhaseLocked(fx, domain.WaitingApproval{RemainingSeconds: int(ApprovalTimeout / time.Second)})
	gen := s.gen

	s.channel.NotifyWithActions(notify.ApprovalRequestMessage(s.id, s.instrument), s.channel.Actions())
	s.emitLocked(telemetry.EventApprovalRequested, nil)

	s.deadline = countdown.New(s.clock,
		func(n int) { s.onDeadlineTick(gen, n) },
		func() { s.onDeadlineExpired(gen) })
	s.deadline.Start(ApprovalTimeout)
	s.poller = approval.StartPoller(approval.PollerConfig{
		Clock:     s.clock,
		Interval:  s.timings.PollInterval,
		SessionID: s.id,
		Emitter:   s.emitter,
	}, s.channel, func(u *approval.Update) { s.onDecision(gen, u) })
}

func (s *Session) onDeadlineTick(gen uint64, remaining int) {
	s.run(func(fx *effects) error {
		if s.ended || s.gen != gen {
			return nil
		}
		if p, ok := s.phase.(domain.WaitingApproval); ok {
			p.RemainingSeconds = remaining
			s.updatePhaseLocked(fx, p)
		}
		return nil
	})
}

func (s *Session) onDeadlineExpired(gen uint64) {
	s.run(func(fx *effects) error {
		if s.ended || s.gen != gen {
			return nil
		}
		s.stopApprovalLocked()
		s.emitLocked(telemetry.EventApprovalTimeout, nil)
		s.send(notify.TimeoutMessage(s.id))
		s.failLocked(fx, domain.ReasonTimeout)
		return nil
	})
}

func (s *Session) onDecision(gen uint64, u *approval.Update) {
	s.run(func(fx *effects) error {
		if s.ended || s.gen != gen {
			// The poll lost a race with the deadline or Close; the cursor has already moved past it.
			s.ackLocked(fx, u.AckToken, notify.StaleAckText)
			return nil
		}
		s.stopApprovalLocked()
		approved := u.Kind == approval.KindApprove
		s.emitLocked(telemetry.EventApprovalDecided, map[string]interface{}{"decision": string(u.Kind), "cursor": u.Cursor})
		s.ackLocked(fx, u.AckToken, notify.AckText(approved))
		if approved {
			s.setPhaseLocked(fx, domain.Finalizing{})
			s.afterLocked(FinalizeDelay, s.succeedLocked)
		} else {
			s.failLocked(fx, domain.ReasonDeclined)
		}
		return nil
	})
}

func (s *Session) ackLocked(fx *effects, token, text string) {
	ch := s.channel
	fx.add(func() {
		ctx, cancel := context.WithTimeout(context.Background(), sideEffectTimeout)
		defer cancel()
		ch.Acknowledge(ctx, token, text)
	})
}

func (s *Session) succeedLocked(fx *effects) {
	s.setPhaseLocked(fx, domain.Succeeded{})
	s.terminalLocked(fx, domain.Outcome{Kind: domain.OutcomeSucceeded}, telemetry.EventSessionSucceeded)
	s.afterLocked(AutoCloseDelay, s.endLocked)
}

func (s *Session) failLocked(fx *effects, reason string) {
	s.setPhaseLocked(fx, domain.Failed{Reason: reason})
	now := s.clock.Now()
	fx.add(func() { s.recordFailure(now) })
	s.terminalLocked(fx, domain.Outcome{Kind: domain.OutcomeFailed, Reason: reason}, telemetry.EventSessionFailed)
}

func (s *Session) terminalLocked(fx *effects, o domain.Outcome, eventType string) {
	s.outcome = &o
	s.emitLocked(eventType, map[string]string{"reason": o.Reason})
	if cb := s.callbacks.OnTerminal; cb != nil {
		fx.add(func() { cb(o) })
	}
}

func (s *Session) endLocked(fx *effects) {
	s.stopPhaseTimerLocked()
	s.stopApprovalLocked()
	s.resend.Stop()
	s.lockTimer.Stop()
	s.code, s.pin = "", ""
	s.ended = true
	s.gen++
	s.changedLocked(fx)
	if cb := s.callbacks.OnClose; cb != nil {
		fx.add(cb)
	}
}

// recordFailure counts a rejected submission against the instrument. Runs outside mu.
func (s *Session) recordFailure(now time.Time) {
	ctx, cancel := context.WithTimeout(context.Background(), sideEffectTimeout)
	defer cancel()
	rec, err := s.ledger.RecordFailure(ctx, s.key, now)
	if err != nil {
		log.Printf("challenge: record failure for session %s: %v", s.id, err)
		return
	}
	if rec.Locked(now) {
		s.mu.Lock()
		s.emitLocked(telemetry.EventLockoutStarted, map[string]string{"locked_until": rec.LockedUntil.Format(time.RFC3339)})
		s.mu.Unlock()
	}
}

func (s *Session) dispatchCodeLocked(code string) {
	if code == s.lastCode {
		return
	}
	s.lastCode = code
	s.send(notify.CodeMessage(s.id, s.instrument, code))
}

func (s *Session) dispatchPINLocked(pin string) {
	if pin == s.lastPIN {
		return
	}
	s.lastPIN = pin
	s.send(notify.PINMessage(s.id, s.instrument, pin))
}

// send enqueues without blocking, so it is safe under mu and keeps notifications in
// transition order.
func (s *Session) send(text string) {
	if s.notifier != nil {
		s.notifier.Send(s.id, text)
	}
}

// afterLocked runs f after d unless the phase has changed or the session ended.
func (s *Session) afterLocked(d time.Duration, f func(fx *effects)) {
	gen := s.gen
	s.phaseTimer = s.clock.AfterFunc(d, func() {
		s.run(func(fx *effects) error {
			if s.ended || s.gen != gen {
				return nil
			}
			s.phaseTimer = nil
			f(fx)
			return nil
		})
	})
}

func (s *Session) stopPhaseTimerLocked() {
	if s.phaseTimer != nil {
		s.phaseTimer.Stop()
		s.phaseTimer = nil
	}
}

func (s *Session) stopApprovalLocked() {
	if s.deadline != nil {
		s.deadline.Stop()
		s.deadline = nil
	}
	if s.poller != nil {
		s.poller.Stop()
		s.poller = nil
	}
}

// setPhaseLocked moves to a new phase and invalidates callbacks scheduled for the old one.
func (s *Session) setPhaseLocked(fx *effects, p domain.Phase) {
	s.stopPhaseTimerLocked()
	s.gen++
	s.phase = p
	s.emitLocked(telemetry.EventPhaseChanged, nil)
	s.changedLocked(fx)
}

// updatePhaseLocked replaces the data of the current phase without a transition.
func (s *Session) updatePhaseLocked(fx *effects, p domain.Phase) {
	s.phase = p
	s.changedLocked(fx)
}

func (s *Session) changedLocked(fx *effects) {
	s.version++
	if len(s.listeners) == 0 {
		return
	}
	view := s.viewLocked()
	ls := make([]func(View), 0, len(s.listeners))
	for i := 0; i < s.nextSub; i++ {
		if l, ok := s.listeners[i]; ok {
			ls = append(ls, l)
		}
	}
	fx.add(func() {
		for _, l := range ls {
			l(view)
		}
	})
}

func (s *Session) viewLocked() View {
	v := View{
		SessionID:        s.id,
		Version:          s.version,
		Phase:            s.phase,
		Instrument:       s.instrument,
		LockoutRemaining: s.lockoutRemainingLocked(),
		Ended:            s.ended,
	}
	if s.outcome != nil {
		o := *s.outcome
		v.Outcome = &o
	}
	return v
}

func (s *Session) lockoutRemainingLocked() time.Duration {
	p, ok := s.phase.(domain.Challenge)
	if !ok || p.LockedUntil.IsZero() {
		return 0
	}
	if d := p.LockedUntil.Sub(s.clock.Now()); d > 0 {
		return d
	}
	return 0
}

func (s *Session) onResendTick() {
	s.run(func(fx *effects) error {
		if s.ended {
			return nil
		}
		if p, ok := s.phase.(domain.Challenge); ok {
			p.ResendIn = s.resend.Remaining()
			s.updatePhaseLocked(fx, p)
		}
		return nil
	})
}

func (s *Session) onLockTick() {
	s.run(func(fx *effects) error {
		if s.ended {
			return nil
		}
		p, ok := s.phase.(domain.Challenge)
		if !ok || p.LockedUntil.IsZero() {
			return nil
		}
		if !s.clock.Now().Before(p.LockedUntil) {
			p.LockedUntil = time.Time{}
			p.Err = ""
		}
		s.updatePhaseLocked(fx, p)
		return nil
	})
}

func (s *Session) emitLocked(eventType string, meta interface{}) {
	if s.emitter == nil {
		return
	}
	e := telemetry.NewEvent(eventType, "challenge", s.id, s.clock.Now(), meta)
	e.InstrumentKey = s.key
	if s.phase != nil {
		e.Phase = s.phase.Name()
	}
	telemetry.EmitAsync(s.emitter, e)
}
