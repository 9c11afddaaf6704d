// Copyright 2024-2026 Aiku AI

package discord

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// apiCall records a request received by fakeAPI.
type apiCall struct {
	Method string
	Path   string
	Auth   string
	Body   string
}

// fakeAPI simulates the REST API. Handlers are keyed by "METHOD /path".
type fakeAPI struct {
	Server *httptest.Server

	mu       sync.Mutex
	calls    []apiCall
	handlers map[string]http.HandlerFunc
}

func newFakeAPI(t *testing.T) *fakeAPI {
	t.Helper()
	f := &fakeAPI{handlers: make(map[string]http.HandlerFunc)}
	f.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		path := strings.TrimPrefix(r.URL.Path, apiPath)
		f.mu.Lock()
		f.calls = append(f.calls, apiCall{Method: r.Method, Path: path, Auth: r.Header.Get("Authorization"), Body: string(body)})
		h := f.handlers[r.Method+" "+path]
		f.mu.Unlock()
		if h == nil {
			http.NotFound(w, r)
			return
		}
		h(w, r)
	}))
	t.Cleanup(f.Server.Close)
	return f
}

func (f *fakeAPI) Handle(route string, h http.HandlerFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[route] = h
}

func (f *fakeAPI) Calls() []apiCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]apiCall(nil), f.calls...)
}

func (f *fakeAPI) Client(opts ClientOptions) *Client {
	opts.BaseURL = f.Server.URL + apiPath
	if opts.RetryFallback == 0 {
		opts.RetryFallback = 10 * time.Millisecond
	}
	return NewClient("test", "unused.example", "secret", opts, zerolog.Nop())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestClientSend(t *testing.T) {
	t.Parallel()
	api := newFakeAPI(t)
	api.Handle("POST /channels/200/messages", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"id": "5001"})
	})
	client := api.Client(ClientOptions{})

	id, err := client.Send(context.Background(), "200", OutgoingMessage{
		Embeds:           []Embed{{Type: "rich", Description: "hi"}},
		MessageReference: &MessageReference{MessageID: "77", ChannelID: "200"},
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if id != "5001" {
		t.Errorf("id: got %q, want %q", id, "5001")
	}

	calls := api.Calls()
	if len(calls) != 1 {
		t.Fatalf("calls: got %d, want 1", len(calls))
	}
	if calls[0].Auth != "Bot secret" {
		t.Errorf("Authorization: got %q, want %q", calls[0].Auth, "Bot secret")
	}
	var body map[string]any
	if err = json.Unmarshal([]byte(calls[0].Body), &body); err != nil {
		t.Fatalf("body: %v", err)
	}
	if nonce, _ := body["nonce"].(string); nonce == "" {
		t.Error("body should carry a nonce")
	}
	if _, ok := body["message_reference"]; !ok {
		t.Error("body should carry message_reference")
	}
	if _, ok := body["allowed_mentions"]; ok {
		t.Error("body should omit allowed_mentions when unset")
	}
	if content, ok := body["content"]; !ok || content != "" {
		t.Errorf("content: got %v, want empty string", content)
	}
}

func TestClientSendMissingID(t *testing.T) {
	t.Parallel()
	api := newFakeAPI(t)
	api.Handle("POST /channels/200/messages", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{})
	})
	if _, err := api.Client(ClientOptions{}).Send(context.Background(), "200", OutgoingMessage{}); err == nil {
		t.Error("Send without ID in response should fail")
	}
}

func TestClientRetriesOnRateLimit(t *testing.T) {
	t.Parallel()
	api := newFakeAPI(t)
	var attempts atomic.Int32
	api.Handle("POST /channels/200/messages", func(w http.ResponseWriter, _ *http.Request) {
		if attempts.Add(1) == 1 {
			w.Header().Set("Retry-After", "0")
			writeJSON(w, http.StatusTooManyRequests, map[string]any{"retry_after": 0})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"id": "5002"})
	})
	id, err := api.Client(ClientOptions{}).Send(context.Background(), "200", OutgoingMessage{Content: "x"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if id != "5002" || attempts.Load() != 2 {
		t.Errorf("got id %q after %d attempts, want 5002 after 2", id, attempts.Load())
	}
}

func TestClientRetriesOnlyOnce(t *testing.T) {
	t.Parallel()
	api := newFakeAPI(t)
	api.Handle("PATCH /channels/200/messages/5001", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{})
	})
	err := api.Client(ClientOptions{}).Edit(context.Background(), "200", "5001", OutgoingMessage{Content: "x"})
	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.Status != http.StatusServiceUnavailable {
		t.Fatalf("Edit: got %v, want StatusError 503", err)
	}
	if n := len(api.Calls()); n != 2 {
		t.Errorf("attempts: got %d, want 2", n)
	}
}

func TestClientSendNotRetriedOnServerError(t *testing.T) {
	t.Parallel()
	api := newFakeAPI(t)
	api.Handle("POST /channels/200/messages", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusBadGateway, map[string]string{})
	})
	_, err := api.Client(ClientOptions{}).Send(context.Background(), "200", OutgoingMessage{})
	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.Status != http.StatusBadGateway {
		t.Fatalf("Send: got %v, want StatusError 502", err)
	}
	if n := len(api.Calls()); n != 1 {
		t.Errorf("attempts: got %d, want 1", n)
	}
}

func TestClientEditAndDelete(t *testing.T) {
	t.Parallel()
	api := newFakeAPI(t)
	api.Handle("PATCH /channels/200/messages/5001", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"id": "5001"})
	})
	api.Handle("DELETE /channels/200/messages/5001", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	client := api.Client(ClientOptions{})
	ctx := context.Background()

	if err := client.Edit(ctx, "200", "5001", OutgoingMessage{
		Embeds:           []Embed{{Description: "edited"}},
		MessageReference: &MessageReference{MessageID: "1"},
	}); err != nil {
		t.Fatalf("Edit: %v", err)
	}
	if err := client.DeleteMessage(ctx, "200", "5001"); err != nil {
		t.Fatalf("DeleteMessage: %v", err)
	}

	calls := api.Calls()
	if len(calls) != 2 {
		t.Fatalf("calls: got %d, want 2", len(calls))
	}
	if strings.Contains(calls[0].Body, "message_reference") {
		t.Errorf("edit body should only carry content and embeds: %s", calls[0].Body)
	}
	if calls[1].Method != http.MethodDelete || calls[1].Body != "" {
		t.Errorf("delete: got %+v", calls[1])
	}
}

func TestClientDeleteWrongStatus(t *testing.T) {
	t.Parallel()
	api := newFakeAPI(t)
	api.Handle("DELETE /channels/200/messages/5001", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusForbidden, map[string]string{"message": "Missing Permissions"})
	})
	err := api.Client(ClientOptions{}).DeleteMessage(context.Background(), "200", "5001")
	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.Status != http.StatusForbidden {
		t.Fatalf("DeleteMessage: got %v, want StatusError 403", err)
	}
	if !strings.Contains(statusErr.Body, "Missing Permissions") {
		t.Errorf("error body: got %q", statusErr.Body)
	}
}

func TestClientGatewayURL(t *testing.T) {
	t.Parallel()
	api := newFakeAPI(t)
	api.Handle("GET /gateway", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"url": "wss://gateway.example"})
	})
	url, err := api.Client(ClientOptions{}).GatewayURL(context.Background())
	if err != nil {
		t.Fatalf("GatewayURL: %v", err)
	}
	if url != "wss://gateway.example" {
		t.Errorf("url: got %q", url)
	}
}

func TestClientContextCancelled(t *testing.T) {
	t.Parallel()
	api := newFakeAPI(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := api.Client(ClientOptions{RequestsPerSecond: 1}).Send(ctx, "200", OutgoingMessage{}); err == nil {
		t.Error("Send with cancelled context should fail")
	}
}

func TestNormalizeHost(t *testing.T) {
	t.Parallel()
	tests := []struct{ in, want string }{
		{"discord.com", "discord.com"},
		{"https://discord.com", "discord.com"},
		{"https://spacebar.example/api", "spacebar.example"},
		{"cdn.example.com/", "cdn.example.com"},
	}
	for _, tt := range tests {
		if got := NormalizeHost(tt.in); got != tt.want {
			t.Errorf("NormalizeHost(%q): got %q, want %q", tt.in, got, tt.want)
		}
	}
}
