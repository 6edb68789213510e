package approval

import (
	"context"
	"log"
	"sync"
	"time"

	"stepup-challenge/internal/clock"
	"stepup-challenge/internal/telemetry"
)

// DefaultPollInterval is the pause between the end of one poll and the start of the next.
const DefaultPollInterval = 800 * time.Millisecond

// Poller calls PollForDecision on a fixed cadence until Stop. Polls never overlap.
type Poller struct {
	clock    clock.Clock
	interval time.Duration
	channel  Channel
	deliver  func(*Update)
	emitter  telemetry.EventEmitter
	session  string

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	stopped bool
	pending clock.Timer
}

// PollerConfig configures StartPoller.
type PollerConfig struct {
	Clock    clock.Clock
	Interval time.Duration
	// SessionID tags poll failures in logs and telemetry.
	SessionID string
	Emitter   telemetry.EventEmitter
}

// StartPoller schedules the first poll after one interval. deliver receives every
// decision found; it is never called after Stop returns, except for a poll already
// completing concurrently, which the owner must treat as stale.
func StartPoller(cfg PollerConfig, ch Channel, deliver func(*Update)) *Poller {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultPollInterval
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Poller{
		clock:    cfg.Clock,
		interval: cfg.Interval,
		channel:  ch,
		deliver:  deliver,
		emitter:  cfg.Emitter,
		session:  cfg.SessionID,
		ctx:      ctx,
		cancel:   cancel,
	}
	p.mu.Lock()
	p.pending = p.clock.AfterFunc(p.interval, p.tick)
	p.mu.Unlock()
	return p
}

// Stop cancels the pending schedule and any in-flight poll. Safe to call repeatedly.
func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return
	}
	p.stopped = true
	p.cancel()
	if p.pending != nil {
		p.pending.Stop()
		p.pending = nil
	}
}

// Stopped reports whether Stop has been called.
func (p *Poller) Stopped() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopped
}

func (p *Poller) tick() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.pending = nil
	p.mu.Unlock()

	update, err := p.channel.PollForDecision(p.ctx)
	if err != nil && !p.Stopped() {
		log.Printf("approval: poll failed for session %s: %v", p.session, err)
		telemetry.EmitAsync(p.emitter, telemetry.NewEvent(telemetry.EventPollFailed, "approval", p.session,
			p.clock.Now(), map[string]string{"error": err.Error()}))
	}
	if update != nil && p.deliver != nil {
		p.deliver(update)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.stopped {
		p.pending = p.clock.AfterFunc(p.interval, p.tick)
	}
}
