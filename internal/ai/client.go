// RelayDesk - Multi-Tenant Customer Messaging Backend
// Copyright 2026 RelayDesk Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/relaydesk/relaydesk

// Package ai calls a chat-completion provider to draft replies to inbound
// messages. Failures here are expected and non-fatal; the worker falls back
// to a deterministic reply whenever GenerateReply errors.
package ai

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/relaydesk/relaydesk/internal/config"
	"github.com/relaydesk/relaydesk/internal/logging"
)

const systemPrompt = "You are a concise, friendly customer support assistant. " +
	"Answer the customer's message directly. If you cannot help, say so briefly."

// Client is a chat-completion client with a per-call timeout and a circuit
// breaker so a degraded provider cannot stall the worker pool.
type Client struct {
	cfg     config.AIConfig
	client  *http.Client
	breaker *gobreaker.CircuitBreaker[string]
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

type chatError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

// NewClient creates a reply client from config.
func NewClient(cfg config.AIConfig) *Client {
	return &Client{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		breaker: gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
			Name:    "ai-reply",
			Timeout: 30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logging.Warn().
					Str("breaker", name).
					Str("from", from.String()).
					Str("to", to.String()).
					Msg("Reply provider circuit breaker state change")
			},
		}),
	}
}

// GenerateReply drafts a reply to one inbound message. The context should
// carry the caller's deadline; the client adds its own request timeout on
// top. An open breaker fails fast without a network call.
func (c *Client) GenerateReply(ctx context.Context, content string) (string, error) {
	if c.cfg.Token == "" {
		return "", fmt.Errorf("reply provider token not configured")
	}

	return c.breaker.Execute(func() (string, error) {
		return c.complete(ctx, content)
	})
}

func (c *Client) complete(ctx context.Context, content string) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: content},
		},
		Temperature: c.cfg.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	url := strings.TrimSuffix(c.cfg.APIURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("reply provider request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr chatError
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Error.Message != "" {
			return "", fmt.Errorf("reply provider error (%d): %s", resp.StatusCode, apiErr.Error.Message)
		}
		return "", fmt.Errorf("reply provider error (%d)", resp.StatusCode)
	}

	var chat chatResponse
	if err := json.Unmarshal(respBody, &chat); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if len(chat.Choices) == 0 {
		return "", fmt.Errorf("reply provider returned no choices")
	}

	reply := strings.TrimSpace(chat.Choices[0].Message.Content)
	if reply == "" {
		return "", fmt.Errorf("reply provider returned an empty reply")
	}
	return reply, nil
}
