// RelayDesk - Multi-Tenant Customer Messaging Backend
// Copyright 2026 RelayDesk Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/relaydesk/relaydesk

package ai

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/relaydesk/relaydesk/internal/config"
	"github.com/relaydesk/relaydesk/internal/logging"
)

//nolint:gochecknoinits // init ensures consistent logging for tests
func init() {
	logging.Init(logging.Config{Level: "error", Format: "json", Output: io.Discard})
}

func newTestClient(srv *httptest.Server) *Client {
	return NewClient(config.AIConfig{
		Enabled:     true,
		APIURL:      srv.URL,
		Token:       "test-token",
		Model:       "gpt-4o-mini",
		Temperature: 0.7,
		MaxTokens:   256,
		Timeout:     2 * time.Second,
	})
}

func TestGenerateReply(t *testing.T) {
	var gotAuth, gotPath string
	var gotReq chatRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"role": "assistant", "content": "  Sure, I can help with that.  "}},
			},
		})
	}))
	defer srv.Close()

	reply, err := newTestClient(srv).GenerateReply(context.Background(), "where is my order?")
	if err != nil {
		t.Fatal(err)
	}
	if reply != "Sure, I can help with that." {
		t.Errorf("reply = %q", reply)
	}
	if gotAuth != "Bearer test-token" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotPath != "/chat/completions" {
		t.Errorf("request path = %q, want /chat/completions", gotPath)
	}
	if gotReq.Model != "gpt-4o-mini" || len(gotReq.Messages) != 2 {
		t.Errorf("request = %+v", gotReq)
	}
	if gotReq.Messages[1].Content != "where is my order?" {
		t.Errorf("user message = %q", gotReq.Messages[1].Content)
	}
}

func TestGenerateReplyProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"rate limited","type":"rate_limit_error"}}`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv).GenerateReply(context.Background(), "hi")
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "rate limited") {
		t.Errorf("error = %v, want provider message surfaced", err)
	}
}

func TestGenerateReplyEmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	if _, err := newTestClient(srv).GenerateReply(context.Background(), "hi"); err == nil {
		t.Error("expected error for empty choices")
	}
}

func TestGenerateReplyMissingToken(t *testing.T) {
	c := NewClient(config.AIConfig{APIURL: "http://127.0.0.1:1", Timeout: time.Second})
	if _, err := c.GenerateReply(context.Background(), "hi"); err == nil {
		t.Error("expected error without a token")
	}
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := newTestClient(srv)
	for i := 0; i < 5; i++ {
		_, _ = c.GenerateReply(context.Background(), "hi")
	}
	// Breaker trips after three consecutive failures; later calls fail
	// fast without reaching the server.
	if calls > 3 {
		t.Errorf("server saw %d calls, want at most 3", calls)
	}
}
