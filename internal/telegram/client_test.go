package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestNew_Defaults(t *testing.T) {
	c := New("", "tok", 0)
	if c.http.BaseURL != defaultBaseURL {
		t.Errorf("BaseURL = %q, want %q", c.http.BaseURL, defaultBaseURL)
	}
	if c.http.GetClient().Timeout != defaultTimeout {
		t.Errorf("Timeout = %v, want %v", c.http.GetClient().Timeout, defaultTimeout)
	}
}

func TestSendMessage_WithInlineKeyboard(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %q, want POST", r.Method)
		}
		if r.URL.Path != "/botsecret/sendMessage" {
			t.Errorf("path = %q", r.URL.Path)
		}
		var body map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if body["chat_id"] != "42" || body["text"] != "approve?" {
			t.Errorf("body = %v", body)
		}
		markup, ok := body["reply_markup"].(map[string]interface{})
		if !ok {
			t.Fatalf("reply_markup missing: %v", body)
		}
		rows := markup["inline_keyboard"].([]interface{})
		row := rows[0].([]interface{})
		if len(row) != 2 {
			t.Errorf("row = %v, want 2 buttons", row)
		}
		first := row[0].(map[string]interface{})
		if first["callback_data"] != "approve:abc" {
			t.Errorf("callback_data = %v", first["callback_data"])
		}
		w.Write([]byte(`{"ok":true,"result":{"message_id":7,"chat":{"id":42},"text":"approve?"}}`))
	}))
	defer server.Close()

	c := New(server.URL, "secret", time.Second)
	msg, err := c.SendMessage(context.Background(), "42", "approve?", [][]InlineButton{{
		{Text: "Approve", CallbackData: "approve:abc"},
		{Text: "Decline", CallbackData: "decline:abc"},
	}})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if msg.MessageID != 7 || msg.Chat.ID != 42 {
		t.Errorf("msg = %+v", msg)
	}
}

func TestSendMessage_PlainOmitsMarkup(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		json.NewDecoder(r.Body).Decode(&body)
		if _, ok := body["reply_markup"]; ok {
			t.Errorf("reply_markup present in plain message: %v", body)
		}
		w.Write([]byte(`{"ok":true,"result":{"message_id":1,"chat":{"id":1}}}`))
	}))
	defer server.Close()

	if _, err := New(server.URL, "t", time.Second).SendMessage(context.Background(), "1", "hi", nil); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
}

func TestGetUpdates_SendsOffsetAndDecodes(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		json.NewDecoder(r.Body).Decode(&body)
		if body["offset"] != float64(101) {
			t.Errorf("offset = %v, want 101", body["offset"])
		}
		w.Write([]byte(`{"ok":true,"result":[
			{"update_id":101,"message":{"message_id":3,"chat":{"id":1},"text":"hello"}},
			{"update_id":102,"callback_query":{"id":"cb-1","data":"approve:abc"}}
		]}`))
	}))
	defer server.Close()

	updates, err := New(server.URL, "t", time.Second).GetUpdates(context.Background(), 101, 50)
	if err != nil {
		t.Fatalf("GetUpdates: %v", err)
	}
	if len(updates) != 2 {
		t.Fatalf("len = %d, want 2", len(updates))
	}
	if updates[0].CallbackQuery != nil || updates[0].Message.Text != "hello" {
		t.Errorf("updates[0] = %+v", updates[0])
	}
	cb := updates[1].CallbackQuery
	if updates[1].UpdateID != 102 || cb == nil || cb.ID != "cb-1" || cb.Data != "approve:abc" {
		t.Errorf("updates[1] = %+v", updates[1])
	}
}

func TestAnswerCallbackQuery(t *testing.T) {
	var got map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/answerCallbackQuery") {
			t.Errorf("path = %q", r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte(`{"ok":true,"result":true}`))
	}))
	defer server.Close()

	if err := New(server.URL, "t", time.Second).AnswerCallbackQuery(context.Background(), "cb-9", "Approved"); err != nil {
		t.Fatalf("AnswerCallbackQuery: %v", err)
	}
	if got["callback_query_id"] != "cb-9" || got["text"] != "Approved" {
		t.Errorf("body = %v", got)
	}
}

func TestCall_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"ok":false,"error_code":400,"description":"Bad Request: chat not found"}`))
	}))
	defer server.Close()

	_, err := New(server.URL, "t", time.Second).SendMessage(context.Background(), "1", "x", nil)
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want *APIError", err)
	}
	if apiErr.StatusCode != http.StatusBadRequest || apiErr.Code != 400 || !strings.Contains(apiErr.Description, "chat not found") {
		t.Errorf("apiErr = %+v", apiErr)
	}
}

func TestCall_OKFalseWith200(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ok":false,"description":"conflict"}`))
	}))
	defer server.Close()

	err := New(server.URL, "t", time.Second).AnswerCallbackQuery(context.Background(), "x", "")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want *APIError", err)
	}
}

func TestCall_NotConfigured(t *testing.T) {
	_, err := New("http://127.0.0.1:1", "", time.Second).GetUpdates(context.Background(), 0, 0)
	if !errors.Is(err, ErrNotConfigured) {
		t.Errorf("err = %v, want ErrNotConfigured", err)
	}
	if _, err := New("http://127.0.0.1:1", "t", time.Second).SendMessage(context.Background(), "", "x", nil); err == nil {
		t.Error("SendMessage without chat id should fail")
	}
}

func TestCall_TransportErrorRedactsToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	_, err := New(url, "very-secret-token", time.Second).GetUpdates(context.Background(), 0, 0)
	if err == nil {
		t.Fatal("expected transport error")
	}
	if strings.Contains(err.Error(), "very-secret-token") {
		t.Errorf("error leaks token: %v", err)
	}
}

func TestCall_ContextCanceled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(server.URL, "t", time.Second).GetUpdates(ctx, 0, 0)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}
