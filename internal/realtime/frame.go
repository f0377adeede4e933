// RelayDesk - Multi-Tenant Customer Messaging Backend
// Copyright 2026 RelayDesk Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/relaydesk/relaydesk

package realtime

import (
	"time"

	"github.com/goccy/go-json"
)

// Frame types exchanged with dashboard clients.
const (
	FrameHello      = "hello"
	FramePing       = "ping"
	FramePong       = "pong"
	FrameNewMessage = "new_message"
	FrameHeartbeat  = "heartbeat"
	FrameReconnect  = "reconnect"
)

// Frame is one JSON frame on a dashboard connection.
type Frame struct {
	Type string `json:"type"`
	TS   string `json:"ts,omitempty"`

	// Message carries the notification payload of new_message frames.
	Message *MessageNotice `json:"message,omitempty"`
}

// MessageNotice is the broadcast payload announcing a completed message.
// Preview is truncated; clients fetch the full message over the REST API.
type MessageNotice struct {
	TenantID  string `json:"tenantId"`
	MessageID string `json:"messageId"`
	Preview   string `json:"preview"`
}

// NewFrame creates a timestamped frame of the given type.
func NewFrame(frameType string) Frame {
	return Frame{Type: frameType, TS: time.Now().UTC().Format(time.RFC3339)}
}

// MarshalFrame converts a frame to JSON.
func MarshalFrame(f Frame) ([]byte, error) {
	return json.Marshal(f)
}
