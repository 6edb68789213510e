package telemetry

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event types emitted by the challenge orchestrator and its collaborators.
const (
	EventSessionStarted    = "session_started"
	EventPhaseChanged      = "phase_changed"
	EventCodeRejected      = "code_rejected"
	EventLockoutRejected   = "lockout_rejected"
	EventLockoutStarted    = "lockout_started"
	EventApprovalRequested = "approval_requested"
	EventApprovalDecided   = "approval_decided"
	EventApprovalTimeout   = "approval_timeout"
	EventSessionSucceeded  = "session_succeeded"
	EventSessionFailed     = "session_failed"
	EventSessionClosed     = "session_closed"
	EventNotifyFailed      = "notify_failed"
	EventPollFailed        = "poll_failed"
	EventAckFailed         = "ack_failed"
	EventGRPCRequest       = "grpc_request"
)

// Event is one telemetry record. It is serialized as JSON for Kafka and Loki.
type Event struct {
	ID            string          `json:"id"`
	SessionID     string          `json:"sessionId,omitempty"`
	InstrumentKey string          `json:"instrumentKey,omitempty"`
	EventType     string          `json:"eventType"`
	Source        string          `json:"source"`
	Phase         string          `json:"phase,omitempty"`
	Metadata      json.RawMessage `json:"metadata,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
}

// NewEvent returns an event with a fresh id. meta is marshalled into Metadata; a nil
// meta or a marshal failure leaves Metadata empty.
func NewEvent(eventType, source, sessionID string, now time.Time, meta interface{}) *Event {
	e := &Event{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		EventType: eventType,
		Source:    source,
		CreatedAt: now.UTC(),
	}
	if meta != nil {
		if b, err := json.Marshal(meta); err == nil {
			e.Metadata = b
		}
	}
	return e
}
