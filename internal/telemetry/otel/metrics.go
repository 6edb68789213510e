package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"stepup-challenge/internal/telemetry"
)

// Metrics counts challenge events. It implements telemetry.EventEmitter so it can be
// combined with the log emitter through telemetry.Multi.
type Metrics struct {
	events    metric.Int64Counter
	outcomes  metric.Int64Counter
	lockouts  metric.Int64Counter
	transport metric.Int64Counter
}

// NewMetrics registers the challenge counters on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	meter := mp.Meter(instrumentationScope)
	events, err := meter.Int64Counter("stepup.challenge.events",
		metric.WithDescription("Challenge events by type"))
	if err != nil {
		return nil, err
	}
	outcomes, err := meter.Int64Counter("stepup.challenge.outcomes",
		metric.WithDescription("Terminal challenge outcomes"))
	if err != nil {
		return nil, err
	}
	lockouts, err := meter.Int64Counter("stepup.challenge.lockouts",
		metric.WithDescription("Instrument lockouts started"))
	if err != nil {
		return nil, err
	}
	transport, err := meter.Int64Counter("stepup.challenge.transport_errors",
		metric.WithDescription("Absorbed messaging transport errors"))
	if err != nil {
		return nil, err
	}
	return &Metrics{events: events, outcomes: outcomes, lockouts: lockouts, transport: transport}, nil
}

// Emit increments the counters matching event.EventType.
func (m *Metrics) Emit(ctx context.Context, event *telemetry.Event) error {
	if m == nil || event == nil {
		return nil
	}
	m.events.Add(ctx, 1, metric.WithAttributes(attribute.String("event_type", event.EventType)))
	switch event.EventType {
	case telemetry.EventSessionSucceeded:
		m.outcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "succeeded")))
	case telemetry.EventSessionFailed:
		m.outcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "failed")))
	case telemetry.EventSessionClosed:
		m.outcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "closed")))
	case telemetry.EventLockoutStarted:
		m.lockouts.Add(ctx, 1)
	case telemetry.EventNotifyFailed, telemetry.EventPollFailed, telemetry.EventAckFailed:
		m.transport.Add(ctx, 1, metric.WithAttributes(attribute.String("event_type", event.EventType)))
	}
	return nil
}
