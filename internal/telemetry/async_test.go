package telemetry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// mockEventEmitter implements EventEmitter for tests.
type mockEventEmitter struct {
	mu      sync.Mutex
	events  []*Event
	emitErr error
	sawDone bool
}

func (m *mockEventEmitter) Emit(ctx context.Context, event *Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	m.sawDone = ctx.Err() != nil
	return m.emitErr
}

func (m *mockEventEmitter) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

func waitForCount(t *testing.T, m *mockEventEmitter, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if m.count() >= want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected %d events, got %d", want, m.count())
}

func TestEmitAsync_NilEmitterOrEvent(t *testing.T) {
	EmitAsync(nil, &Event{EventType: "x"})

	emitter := &mockEventEmitter{}
	EmitAsync(emitter, nil)
	time.Sleep(20 * time.Millisecond)
	if emitter.count() != 0 {
		t.Errorf("expected 0 events, got %d", emitter.count())
	}
}

func TestEmitAsync_Emits(t *testing.T) {
	emitter := &mockEventEmitter{}
	EmitAsync(emitter, &Event{SessionID: "s-1", EventType: EventSessionStarted})
	waitForCount(t, emitter, 1)

	emitter.mu.Lock()
	defer emitter.mu.Unlock()
	if emitter.events[0].SessionID != "s-1" || emitter.events[0].EventType != EventSessionStarted {
		t.Errorf("event = %+v", emitter.events[0])
	}
	if emitter.sawDone {
		t.Error("emit context should be live")
	}
}

func TestEmitAsync_ErrorIsSwallowed(t *testing.T) {
	emitter := &mockEventEmitter{emitErr: context.DeadlineExceeded}
	EmitAsync(emitter, &Event{EventType: "x"})
	waitForCount(t, emitter, 1)
}

func TestEmitAsync_Concurrent(t *testing.T) {
	emitter := &mockEventEmitter{}
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			EmitAsync(emitter, &Event{EventType: "x"})
		}()
	}
	wg.Wait()
	waitForCount(t, emitter, 10)
}

func TestMulti_FansOutAndJoinsErrors(t *testing.T) {
	boom := errors.New("boom")
	a := &mockEventEmitter{}
	b := &mockEventEmitter{emitErr: boom}
	m := Multi(a, nil, b)

	err := m.Emit(context.Background(), &Event{EventType: "x"})
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want boom", err)
	}
	if a.count() != 1 || b.count() != 1 {
		t.Errorf("counts = %d, %d; want 1, 1", a.count(), b.count())
	}
	if err := Multi().Emit(context.Background(), &Event{}); err != nil {
		t.Errorf("empty Multi: %v", err)
	}
}

func TestNewEvent(t *testing.T) {
	now := time.Date(2026, 2, 3, 4, 5, 6, 0, time.FixedZone("x", 3600))
	e := NewEvent(EventPhaseChanged, "challenge", "sess", now, map[string]string{"phase": "pinEntry"})
	if e.ID == "" {
		t.Error("ID should be set")
	}
	if e.CreatedAt.Location() != time.UTC || !e.CreatedAt.Equal(now) {
		t.Errorf("CreatedAt = %v", e.CreatedAt)
	}
	if string(e.Metadata) != `{"phase":"pinEntry"}` {
		t.Errorf("Metadata = %s", e.Metadata)
	}
	if NewEvent("x", "y", "", now, nil).Metadata != nil {
		t.Error("nil meta should leave Metadata empty")
	}
	if NewEvent("x", "y", "", now, func() {}).Metadata != nil {
		t.Error("unmarshalable meta should leave Metadata empty")
	}
}
