// Package producer publishes challenge telemetry events to a message broker.
package producer

import "stepup-challenge/internal/telemetry"

// Producer emits telemetry events. Callers use it best-effort: log and ignore errors.
// Every Producer is a telemetry.EventEmitter.
type Producer interface {
	telemetry.EventEmitter
	// Close releases resources (e.g. Kafka writer). Safe to call if already closed.
	Close() error
}
