// Package telegram is a minimal client for a Telegram-compatible Bot API: plain and
// inline-keyboard messages, update polling and callback acknowledgement.
package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	defaultBaseURL = "https://api.telegram.org"
	defaultTimeout = 10 * time.Second
)

// ErrNotConfigured is returned when the bot token or chat id is missing.
var ErrNotConfigured = errors.New("telegram: bot token not configured")

// APIError is a response with ok=false or a non-2xx status.
type APIError struct {
	StatusCode  int
	Code        int
	Description string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram: request failed status=%d code=%d: %s", e.StatusCode, e.Code, e.Description)
}

// Client calls the Bot API for a single bot token.
type Client struct {
	token string
	http  *resty.Client
}

// New returns a client for baseURL (default api.telegram.org) and token. A non-positive
// timeout uses the default.
func New(baseURL, token string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	hc := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")
	return &Client{token: token, http: hc}
}

// InlineButton is one button of an inline keyboard. CallbackData is echoed back in the
// CallbackQuery when pressed.
type InlineButton struct {
	Text         string `json:"text"`
	CallbackData string `json:"callback_data"`
}

type inlineKeyboard struct {
	InlineKeyboard [][]InlineButton `json:"inline_keyboard"`
}

// Chat identifies the conversation a message belongs to.
type Chat struct {
	ID int64 `json:"id"`
}

// Message is the subset of a Bot API message used here.
type Message struct {
	MessageID int64  `json:"message_id"`
	Chat      Chat   `json:"chat"`
	Text      string `json:"text"`
}

// CallbackQuery is sent when an inline button is pressed.
type CallbackQuery struct {
	ID      string   `json:"id"`
	Data    string   `json:"data"`
	Message *Message `json:"message,omitempty"`
}

// Update is one entry of getUpdates. UpdateID increases monotonically per bot.
type Update struct {
	UpdateID      int64          `json:"update_id"`
	Message       *Message       `json:"message,omitempty"`
	CallbackQuery *CallbackQuery `json:"callback_query,omitempty"`
}

type envelope struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	ErrorCode   int             `json:"error_code"`
	Description string          `json:"description"`
}

type sendMessageRequest struct {
	ChatID      string          `json:"chat_id"`
	Text        string          `json:"text"`
	ReplyMarkup *inlineKeyboard `json:"reply_markup,omitempty"`
}

type getUpdatesRequest struct {
	Offset         int64    `json:"offset,omitempty"`
	Limit          int      `json:"limit,omitempty"`
	Timeout        int      `json:"timeout"`
	AllowedUpdates []string `json:"allowed_updates,omitempty"`
}

type answerCallbackRequest struct {
	CallbackQueryID string `json:"callback_query_id"`
	Text            string `json:"text,omitempty"`
}

// SendMessage posts text to chatID. buttons, when non-empty, is rendered as an inline
// keyboard with one row per slice.
func (c *Client) SendMessage(ctx context.Context, chatID, text string, buttons [][]InlineButton) (*Message, error) {
	if chatID == "" {
		return nil, fmt.Errorf("telegram: chat id not configured")
	}
	req := sendMessageRequest{ChatID: chatID, Text: text}
	if len(buttons) > 0 {
		req.ReplyMarkup = &inlineKeyboard{InlineKeyboard: buttons}
	}
	var msg Message
	if err := c.call(ctx, "sendMessage", req, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// GetUpdates returns pending updates with update_id >= offset. Telegram treats every
// update below offset as confirmed and stops returning it. Only message and
// callback_query updates are requested; the call does not long-poll server side.
func (c *Client) GetUpdates(ctx context.Context, offset int64, limit int) ([]Update, error) {
	req := getUpdatesRequest{
		Offset:         offset,
		Limit:          limit,
		AllowedUpdates: []string{"message", "callback_query"},
	}
	var updates []Update
	if err := c.call(ctx, "getUpdates", req, &updates); err != nil {
		return nil, err
	}
	return updates, nil
}

// AnswerCallbackQuery dismisses the loading indicator on the pressed button and shows text.
func (c *Client) AnswerCallbackQuery(ctx context.Context, callbackID, text string) error {
	return c.call(ctx, "answerCallbackQuery", answerCallbackRequest{CallbackQueryID: callbackID, Text: text}, nil)
}

func (c *Client) call(ctx context.Context, method string, body, out interface{}) error {
	if c.token == "" {
		return ErrNotConfigured
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(body).
		Post("/bot" + c.token + "/" + method)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("telegram: %s: %w", method, ctxErr)
		}
		// Transport errors embed the request URL, which carries the token.
		return fmt.Errorf("telegram: %s: %s", method, strings.ReplaceAll(err.Error(), c.token, "<redacted>"))
	}
	var env envelope
	if jsonErr := json.Unmarshal(resp.Body(), &env); jsonErr != nil && !resp.IsError() {
		return fmt.Errorf("telegram: decode %s response: %w", method, jsonErr)
	}
	if resp.IsError() || !env.OK {
		desc := env.Description
		if desc == "" {
			desc = resp.String()
		}
		return &APIError{StatusCode: resp.StatusCode(), Code: env.ErrorCode, Description: desc}
	}
	if out == nil || len(env.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return fmt.Errorf("telegram: decode %s result: %w", method, err)
	}
	return nil
}
