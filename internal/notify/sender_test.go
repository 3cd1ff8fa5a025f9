package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func captureServer(t *testing.T, status int, got *map[string]string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type = %q", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(got); err != nil {
			t.Error(err)
		}
		w.WriteHeader(status)
	}))
}

func TestDiscordSendPostsBoldTitle(t *testing.T) {
	var got map[string]string
	srv := captureServer(t, http.StatusNoContent, &got)
	defer srv.Close()

	d := NewDiscordSender(srv.URL)
	if err := d.Send(context.Background(), "Signal: BUY HYPE", "details"); err != nil {
		t.Fatal(err)
	}
	if got["content"] != "**Signal: BUY HYPE**\ndetails" {
		t.Fatalf("content = %q", got["content"])
	}
}

func TestTelegramSendPayload(t *testing.T) {
	var got map[string]string
	srv := captureServer(t, http.StatusOK, &got)
	defer srv.Close()

	tg := NewTelegramSender("bot-token", "chat-1")
	if !strings.Contains(tg.endpoint, "botbot-token/sendMessage") {
		t.Fatalf("endpoint = %q, token not baked in", tg.endpoint)
	}
	tg.endpoint = srv.URL

	if err := tg.Send(context.Background(), "Execution: CONFIRMED", "filled"); err != nil {
		t.Fatal(err)
	}
	if got["chat_id"] != "chat-1" || got["parse_mode"] != "Markdown" {
		t.Fatalf("payload = %v", got)
	}
	if got["text"] != "*Execution: CONFIRMED*\nfilled" {
		t.Fatalf("text = %q", got["text"])
	}
}

func TestPostJSONRejectsNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	err := postJSON(context.Background(), srv.Client(), "discord", srv.URL, map[string]string{"content": "x"})
	if err == nil || !strings.Contains(err.Error(), "status 429") {
		t.Fatalf("err = %v, want status 429", err)
	}
}
