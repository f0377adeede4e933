// RelayDesk - Multi-Tenant Customer Messaging Backend
// Copyright 2026 RelayDesk Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/relaydesk/relaydesk

// Package store provides the Postgres repository for tenants, contacts, and
// messages. All write paths are idempotent: inserting the same inbound or
// outbound message twice is a no-op reported to the caller, never an error.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/relaydesk/relaydesk/internal/models"
)

// ErrTenantNotFound is returned when no tenant owns the given channel
// address. Webhook intake treats this as a client error, not a retry.
var ErrTenantNotFound = errors.New("store: tenant not found")

// InboundMessage carries one inbound event into the repository. The contact
// is upserted from (TenantID, From) in the same transaction as the message
// insert.
type InboundMessage struct {
	TenantID          string
	From              string
	To                string
	ExternalMessageID string
	Content           string
	DisplayName       string
}

// OutboundMessage carries one reply or operator-sent message. For replies,
// ExternalMessageID is the inbound event's external id, which is what makes
// redelivered jobs collapse into a single row.
type OutboundMessage struct {
	TenantID          string
	From              string
	To                string
	ExternalMessageID string
	Content           string
}

// ListQuery selects a page of tenant message history, newest first.
type ListQuery struct {
	TenantID string
	Before   time.Time // zero value means "from now"
	Limit    int
}

// Store is the persistence boundary consumed by the webhook intake, the
// reply worker, and the dashboard handlers.
type Store interface {
	// TenantByChannelAddress maps a receiving channel address (the number
	// the webhook event was delivered to) back to its tenant.
	TenantByChannelAddress(ctx context.Context, address string) (models.Tenant, error)

	// InboundSeen reports whether an inbound message with this external id
	// already exists for the tenant.
	InboundSeen(ctx context.Context, tenantID, externalMessageID string) (bool, error)

	// SaveInbound upserts the contact and inserts the inbound message in
	// one transaction. inserted is false when the external id was already
	// recorded for the tenant.
	SaveInbound(ctx context.Context, in InboundMessage) (msg models.Message, inserted bool, err error)

	// SaveOutbound inserts an outbound message, upserting the recipient
	// contact. inserted is false on an idempotency-key conflict; the
	// previously stored row is returned in that case.
	SaveOutbound(ctx context.Context, out OutboundMessage) (msg models.Message, inserted bool, err error)

	// MarkStatus transitions a message to the given delivery status.
	MarkStatus(ctx context.Context, tenantID string, id uuid.UUID, status models.MessageStatus) error

	// ListMessages returns a page of the tenant's history, newest first.
	ListMessages(ctx context.Context, q ListQuery) ([]models.Message, error)

	// Ping verifies database connectivity for readiness checks.
	Ping(ctx context.Context) error
}
