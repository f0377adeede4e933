// RelayDesk - Multi-Tenant Customer Messaging Backend
// Copyright 2026 RelayDesk Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/relaydesk/relaydesk

package store

import (
	"context"
	"fmt"
	"time"
)

// schemaContext bounds schema statements so a hung connection fails boot
// instead of hanging it.
func schemaContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 30*time.Second)
}

// createSchema creates tables and indexes if they do not exist. All columns
// are defined up front; there is no separate migration step yet.
func (p *Postgres) createSchema() error {
	ctx, cancel := schemaContext()
	defer cancel()

	for _, query := range schemaQueries() {
		if _, err := p.db.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("schema statement failed: %w", err)
		}
	}
	return nil
}

func schemaQueries() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS tenants (
			id   TEXT PRIMARY KEY,
			name TEXT NOT NULL DEFAULT ''
		)`,

		// channel_address is the tenant's receiving number on the delivery
		// channel; webhook events are routed to a tenant through it.
		`CREATE TABLE IF NOT EXISTS tenant_channels (
			tenant_id       TEXT NOT NULL REFERENCES tenants(id),
			channel_address TEXT NOT NULL,
			PRIMARY KEY (channel_address)
		)`,

		`CREATE TABLE IF NOT EXISTS contacts (
			id              UUID PRIMARY KEY,
			tenant_id       TEXT NOT NULL REFERENCES tenants(id),
			channel_address TEXT NOT NULL,
			display_name    TEXT NOT NULL DEFAULT '',
			created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
			UNIQUE (tenant_id, channel_address)
		)`,

		`CREATE TABLE IF NOT EXISTS messages (
			id                  UUID PRIMARY KEY,
			tenant_id           TEXT NOT NULL REFERENCES tenants(id),
			contact_id          UUID NOT NULL REFERENCES contacts(id),
			direction           TEXT NOT NULL,
			content             TEXT NOT NULL,
			external_message_id TEXT NOT NULL DEFAULT '',
			from_address        TEXT NOT NULL,
			to_address          TEXT NOT NULL,
			status              TEXT NOT NULL,
			created_at          TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,

		// Idempotency key for webhook retries and queue redeliveries. One
		// inbound and one outbound row may share an external id (the reply
		// reuses the inbound id), so direction is part of the key.
		`CREATE UNIQUE INDEX IF NOT EXISTS messages_external_id_key
			ON messages (tenant_id, external_message_id, direction)
			WHERE external_message_id <> ''`,

		`CREATE INDEX IF NOT EXISTS messages_tenant_created_idx
			ON messages (tenant_id, created_at DESC)`,
	}
}
