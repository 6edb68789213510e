// Package approval delivers the approve/decline request to the operator channel and
// discovers the operator's decision by polling.
package approval

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"stepup-challenge/internal/approval/repository"
	"stepup-challenge/internal/notify"
	"stepup-challenge/internal/telegram"
	"stepup-challenge/internal/telemetry"
)

// Kind is the operator's decision.
type Kind string

const (
	KindApprove Kind = "approve"
	KindDecline Kind = "decline"
)

// Update is one decision found by PollForDecision.
type Update struct {
	Kind      Kind
	Cursor    int64
	AckToken  string
	SessionID string
}

// Channel is the approval channel as seen by one challenge session.
type Channel interface {
	// Actions returns the approve and decline actions recognized for this session.
	Actions() []notify.Action
	// NotifyWithActions queues text with actions. It never blocks and never fails.
	NotifyWithActions(text string, actions []notify.Action)
	// PollForDecision fetches updates past the stored cursor and returns the first
	// decision for this session, or nil when there is none yet. A returned decision
	// has already been committed to the cursor store.
	PollForDecision(ctx context.Context) (*Update, error)
	// Acknowledge tells the operator's client the decision was received. Best-effort.
	Acknowledge(ctx context.Context, token, text string)
}

// Provider hands out per-session channels.
type Provider interface {
	ForSession(sessionID string) Channel
}

// UpdateSource is the polling side of the messaging service.
type UpdateSource interface {
	GetUpdates(ctx context.Context, offset int64, limit int) ([]telegram.Update, error)
	AnswerCallbackQuery(ctx context.Context, callbackID, text string) error
}

// Sender is the sending side; *notify.Dispatcher implements it.
type Sender interface {
	SendWithActions(sessionID, text string, actions []notify.Action)
}

const pollLimit = 100

// Bot is a Provider backed by a bot's update stream. All sessions share one cursor,
// stored under the channel name.
type Bot struct {
	source  UpdateSource
	sender  Sender
	cursors repository.CursorStore
	channel string
	emitter telemetry.EventEmitter

	// mu serializes cursor read-advance cycles.
	mu sync.Mutex
}

// NewBot returns a Provider. channel names the cursor (e.g. "telegram:<chat id>").
// emitter may be nil.
func NewBot(source UpdateSource, sender Sender, cursors repository.CursorStore, channel string, emitter telemetry.EventEmitter) *Bot {
	return &Bot{source: source, sender: sender, cursors: cursors, channel: channel, emitter: emitter}
}

// ForSession returns the channel recognizing approve:<id> and decline:<id>.
func (b *Bot) ForSession(sessionID string) Channel {
	return &sessionChannel{
		bot:       b,
		sessionID: sessionID,
		approveID: string(KindApprove) + ":" + sessionID,
		declineID: string(KindDecline) + ":" + sessionID,
	}
}

type sessionChannel struct {
	bot       *Bot
	sessionID string
	approveID string
	declineID string
}

func (c *sessionChannel) Actions() []notify.Action {
	return []notify.Action{
		{ID: c.approveID, Label: "Approve"},
		{ID: c.declineID, Label: "Decline"},
	}
}

func (c *sessionChannel) NotifyWithActions(text string, actions []notify.Action) {
	if c.bot.sender == nil {
		return
	}
	c.bot.sender.SendWithActions(c.sessionID, text, actions)
}

func (c *sessionChannel) PollForDecision(ctx context.Context) (*Update, error) {
	b := c.bot
	b.mu.Lock()
	defer b.mu.Unlock()

	cursor, err := b.cursors.Get(ctx, b.channel)
	if err != nil {
		return nil, fmt.Errorf("approval: load cursor: %w", err)
	}
	updates, err := b.source.GetUpdates(ctx, cursor+1, pollLimit)
	if err != nil {
		return nil, err
	}
	for _, u := range updates {
		if u.UpdateID <= cursor || u.CallbackQuery == nil {
			continue
		}
		var kind Kind
		switch u.CallbackQuery.Data {
		case c.approveID:
			kind = KindApprove
		case c.declineID:
			kind = KindDecline
		default:
			continue
		}
		if err := b.cursors.Put(ctx, b.channel, u.UpdateID); err != nil {
			return nil, fmt.Errorf("approval: store cursor: %w", err)
		}
		return &Update{Kind: kind, Cursor: u.UpdateID, AckToken: u.CallbackQuery.ID, SessionID: c.sessionID}, nil
	}
	return nil, nil
}

func (c *sessionChannel) Acknowledge(ctx context.Context, token, text string) {
	if token == "" {
		return
	}
	if err := c.bot.source.AnswerCallbackQuery(ctx, token, text); err != nil {
		log.Printf("approval: acknowledge failed for session %s: %v", c.sessionID, err)
		telemetry.EmitAsync(c.bot.emitter, telemetry.NewEvent(telemetry.EventAckFailed, "approval", c.sessionID,
			time.Now(), map[string]string{"error": err.Error()}))
	}
}
