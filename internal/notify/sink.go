package notify

import (
	"context"
	"log"
	"strings"

	"stepup-challenge/internal/telegram"
)

// Action is a selectable response attached to a notification.
type Action struct {
	ID    string
	Label string
}

// Sink delivers one message to the external channel.
type Sink interface {
	Send(ctx context.Context, text string, actions []Action) error
}

// TelegramSink sends to a fixed chat through the Bot API. Actions render as a single
// inline keyboard row.
type TelegramSink struct {
	client *telegram.Client
	chatID string
}

// NewTelegramSink returns a Sink posting to chatID.
func NewTelegramSink(client *telegram.Client, chatID string) *TelegramSink {
	return &TelegramSink{client: client, chatID: chatID}
}

// Send posts text with the actions as buttons.
func (s *TelegramSink) Send(ctx context.Context, text string, actions []Action) error {
	var rows [][]telegram.InlineButton
	if len(actions) > 0 {
		row := make([]telegram.InlineButton, 0, len(actions))
		for _, a := range actions {
			row = append(row, telegram.InlineButton{Text: a.Label, CallbackData: a.ID})
		}
		rows = append(rows, row)
	}
	_, err := s.client.SendMessage(ctx, s.chatID, text, rows)
	return err
}

// LogSink writes messages to the process log. Used when no messaging service is configured.
type LogSink struct{}

// Send logs text and the action labels.
func (LogSink) Send(ctx context.Context, text string, actions []Action) error {
	labels := make([]string, 0, len(actions))
	for _, a := range actions {
		labels = append(labels, a.Label)
	}
	if len(labels) > 0 {
		log.Printf("notify: %s [%s]", text, strings.Join(labels, " | "))
		return nil
	}
	log.Printf("notify: %s", text)
	return nil
}
