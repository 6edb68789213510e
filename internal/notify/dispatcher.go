// Package notify delivers status messages to the external channel. Delivery is
// best-effort: callers never wait on it and never see its errors.
package notify

import (
	"context"
	"log"
	"sync"
	"time"

	"stepup-challenge/internal/telemetry"
)

const (
	// DefaultQueueSize bounds pending messages; further sends are dropped.
	DefaultQueueSize = 64
	sendTimeout      = 10 * time.Second
)

type job struct {
	sessionID string
	text      string
	actions   []Action
}

// Dispatcher sends messages on a single worker goroutine in submission order.
// Failures and drops are logged and reported to the emitter.
type Dispatcher struct {
	sink    Sink
	emitter telemetry.EventEmitter
	now     func() time.Time

	mu     sync.RWMutex
	closed bool
	queue  chan job
	done   chan struct{}
}

// NewDispatcher starts the worker. emitter may be nil. queueSize <= 0 uses DefaultQueueSize.
func NewDispatcher(sink Sink, emitter telemetry.EventEmitter, queueSize int) *Dispatcher {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	d := &Dispatcher{
		sink:    sink,
		emitter: emitter,
		now:     func() time.Time { return time.Now().UTC() },
		queue:   make(chan job, queueSize),
		done:    make(chan struct{}),
	}
	go d.run()
	return d
}

// Send queues a plain status message.
func (d *Dispatcher) Send(sessionID, text string) {
	d.enqueue(job{sessionID: sessionID, text: text})
}

// SendWithActions queues a message carrying response actions.
func (d *Dispatcher) SendWithActions(sessionID, text string, actions []Action) {
	d.enqueue(job{sessionID: sessionID, text: text, actions: append([]Action(nil), actions...)})
}

// Close stops accepting messages, delivers what is queued and waits for the worker.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		<-d.done
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()
	<-d.done
}

func (d *Dispatcher) enqueue(j job) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		log.Printf("notify: dispatcher closed, dropping message for session %s", j.sessionID)
		return
	}
	select {
	case d.queue <- j:
	default:
		log.Printf("notify: queue full, dropping message for session %s", j.sessionID)
		d.report(j, "queue_full")
	}
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for j := range d.queue {
		d.deliver(j)
	}
}

func (d *Dispatcher) deliver(j job) {
	if d.sink == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()
	if err := d.sink.Send(ctx, j.text, j.actions); err != nil {
		log.Printf("notify: send failed for session %s: %v", j.sessionID, err)
		d.report(j, err.Error())
	}
}

func (d *Dispatcher) report(j job, reason string) {
	telemetry.EmitAsync(d.emitter, telemetry.NewEvent(telemetry.EventNotifyFailed, "notify", j.sessionID, d.now(),
		map[string]interface{}{"reason": reason, "with_actions": len(j.actions) > 0}))
}
