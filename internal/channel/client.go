// RelayDesk - Multi-Tenant Customer Messaging Backend
// Copyright 2026 RelayDesk Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/relaydesk/relaydesk

// Package channel sends outbound messages through the delivery provider's
// HTTP API. The provider enforces idempotency on our client reference id, so
// a redelivered job that retries a send gets ErrAlreadySent, which callers
// treat as success.
package channel

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/goccy/go-json"

	"github.com/relaydesk/relaydesk/internal/config"
)

// ErrAlreadySent reports that the provider already accepted a message with
// this client reference. The message is delivered; do not retry.
var ErrAlreadySent = errors.New("channel: message already sent")

// ErrRejected reports a permanent provider rejection (bad recipient,
// malformed content). Retrying the same send cannot succeed.
var ErrRejected = errors.New("channel: message rejected")

// Sender delivers one outbound message. Implemented by Client; faked in
// worker tests.
type Sender interface {
	Send(ctx context.Context, to, content, clientRef string) (providerID string, err error)
}

// Client talks to the provider's send endpoint.
type Client struct {
	cfg    config.ChannelConfig
	client *http.Client
}

var _ Sender = (*Client)(nil)

type sendRequest struct {
	To        string `json:"to"`
	Type      string `json:"type"`
	Text      text   `json:"text"`
	ClientRef string `json:"client_ref,omitempty"`
}

type text struct {
	Body string `json:"body"`
}

type sendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

type sendError struct {
	Error struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error"`
}

// duplicate client reference, reported by the provider as a conflict
const codeDuplicateRef = 131056

// NewClient creates a send client from config.
func NewClient(cfg config.ChannelConfig) *Client {
	return &Client{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

// Send posts one text message. clientRef keys provider-side idempotency;
// pass the outbound message's external id. Transport and 5xx failures are
// retryable, a duplicate reference returns ErrAlreadySent, and other 4xx
// responses are permanent.
func (c *Client) Send(ctx context.Context, to, content, clientRef string) (string, error) {
	body, err := json.Marshal(sendRequest{
		To:        to,
		Type:      "text",
		Text:      text{Body: content},
		ClientRef: clientRef,
	})
	if err != nil {
		return "", fmt.Errorf("marshal send request: %w", err)
	}

	url := c.cfg.APIURL + "/" + c.cfg.SenderID + "/messages"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create send request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("send message: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read send response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated:
		var sr sendResponse
		if err := json.Unmarshal(respBody, &sr); err != nil {
			return "", fmt.Errorf("decode send response: %w", err)
		}
		if len(sr.Messages) == 0 || sr.Messages[0].ID == "" {
			return "", fmt.Errorf("send response missing message id, body=%q", string(respBody))
		}
		return sr.Messages[0].ID, nil

	case resp.StatusCode == http.StatusConflict:
		return "", ErrAlreadySent

	case resp.StatusCode >= 500:
		return "", fmt.Errorf("provider unavailable (%d)", resp.StatusCode)

	default:
		var se sendError
		if json.Unmarshal(respBody, &se) == nil {
			if se.Error.Code == codeDuplicateRef {
				return "", ErrAlreadySent
			}
			if se.Error.Message != "" {
				return "", fmt.Errorf("%w (%d): %s", ErrRejected, resp.StatusCode, se.Error.Message)
			}
		}
		return "", fmt.Errorf("%w (%d), body=%q", ErrRejected, resp.StatusCode, string(respBody))
	}
}
