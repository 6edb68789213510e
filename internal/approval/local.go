package approval

import (
	"context"
	"log"
	"sync"

	"stepup-challenge/internal/notify"
)

// Local is a Provider for running without a messaging service: the operator's decision
// is injected with Decide, for example from a terminal prompt. At most one decision is
// held, for the most recent session.
type Local struct {
	sender Sender

	mu      sync.Mutex
	seq     int64
	pending *Update
}

// NewLocal returns a Local provider. sender may be nil.
func NewLocal(sender Sender) *Local {
	return &Local{sender: sender}
}

// ForSession returns the channel for sessionID. A decision still held for an earlier
// session is dropped.
func (l *Local) ForSession(sessionID string) Channel {
	l.mu.Lock()
	if l.pending != nil && l.pending.SessionID != sessionID {
		l.pending = nil
	}
	l.mu.Unlock()
	return &localChannel{l: l, sessionID: sessionID}
}

// Decide records the operator's decision for sessionID. The next poll of that session
// returns it; a later Decide before the poll replaces it, whatever its session.
func (l *Local) Decide(sessionID string, kind Kind) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seq++
	l.pending = &Update{Kind: kind, Cursor: l.seq, SessionID: sessionID}
}

type localChannel struct {
	l         *Local
	sessionID string
}

func (c *localChannel) Actions() []notify.Action {
	return []notify.Action{
		{ID: string(KindApprove) + ":" + c.sessionID, Label: "Approve"},
		{ID: string(KindDecline) + ":" + c.sessionID, Label: "Decline"},
	}
}

func (c *localChannel) NotifyWithActions(text string, actions []notify.Action) {
	if c.l.sender != nil {
		c.l.sender.SendWithActions(c.sessionID, text, actions)
	}
}

func (c *localChannel) PollForDecision(ctx context.Context) (*Update, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.l.mu.Lock()
	defer c.l.mu.Unlock()
	u := c.l.pending
	if u == nil || u.SessionID != c.sessionID {
		return nil, nil
	}
	c.l.pending = nil
	return u, nil
}

func (c *localChannel) Acknowledge(ctx context.Context, token, text string) {
	log.Printf("approval: session %s: %s", c.sessionID, text)
}
