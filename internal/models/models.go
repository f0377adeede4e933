// RelayDesk - Multi-Tenant Customer Messaging Backend
// Copyright 2026 RelayDesk Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/relaydesk/relaydesk

// Package models defines the domain entities shared across the intake,
// worker, and realtime pipelines. All entities are scoped to exactly one
// tenant; cross-tenant access is a bug, not a feature.
package models

import (
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// Direction of a message relative to the tenant.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// MessageStatus tracks delivery state of a message.
type MessageStatus string

const (
	StatusReceived MessageStatus = "received"
	StatusSent     MessageStatus = "sent"
	StatusFailed   MessageStatus = "failed"
)

// Tenant is an isolated customer organization. Tenants are provisioned
// out-of-band and immutable for this service.
type Tenant struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Contact is a tenant-scoped external identity, created lazily on the first
// inbound event from an unseen channel address. Exactly one Contact exists
// per (tenant, channel address) pair, enforced by a database uniqueness
// constraint.
type Contact struct {
	ID             uuid.UUID `json:"id"`
	TenantID       string    `json:"tenant_id"`
	ChannelAddress string    `json:"channel_address"`
	DisplayName    string    `json:"display_name,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Message belongs to exactly one Tenant and Contact.
//
// ExternalMessageID is the delivery channel's message id. When present it is
// unique per tenant and direction, which is what makes webhook retries and
// queue redeliveries idempotent.
type Message struct {
	ID                uuid.UUID     `json:"id"`
	TenantID          string        `json:"tenant_id"`
	ContactID         uuid.UUID     `json:"contact_id"`
	Direction         Direction     `json:"direction"`
	Content           string        `json:"content"`
	ExternalMessageID string        `json:"external_message_id,omitempty"`
	FromAddress       string        `json:"from"`
	ToAddress         string        `json:"to"`
	Status            MessageStatus `json:"status"`
	CreatedAt         time.Time     `json:"created_at"`
}

// Preview returns a short excerpt of the message content for realtime
// notifications.
func (m *Message) Preview() string {
	return Truncate(m.Content, 120)
}

// Truncate cuts s to at most max bytes without splitting a UTF-8 rune.
func Truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// Job is the queue payload for one inbound event awaiting reply generation
// and delivery. Jobs are transient: they exist only between enqueue and
// worker acknowledgment, and may be delivered more than once.
type Job struct {
	TenantID          string `json:"tenantId"`
	From              string `json:"from"`
	To                string `json:"to"`
	ExternalMessageID string `json:"externalMessageId"`
	Content           string `json:"content"`
}
