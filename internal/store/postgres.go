// RelayDesk - Multi-Tenant Customer Messaging Backend
// Copyright 2026 RelayDesk Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/relaydesk/relaydesk

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/relaydesk/relaydesk/internal/config"
	"github.com/relaydesk/relaydesk/internal/logging"
	"github.com/relaydesk/relaydesk/internal/models"
)

// Postgres implements Store over database/sql with the pgx stdlib driver.
type Postgres struct {
	db *sql.DB
}

var _ Store = (*Postgres)(nil)

// Open connects to Postgres, applies pool settings, verifies connectivity,
// and ensures the schema exists.
func Open(ctx context.Context, cfg config.DatabaseConfig) (*Postgres, error) {
	db, err := sql.Open("pgx", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	p := &Postgres{db: db}
	if err := p.createSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}

	logging.Info().Int("max_open_conns", cfg.MaxOpenConns).Msg("Database connected")
	return p, nil
}

// NewPostgres wraps an existing connection without touching the schema.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// Close releases the connection pool.
func (p *Postgres) Close() error {
	return p.db.Close()
}

// Ping verifies database connectivity.
func (p *Postgres) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// TenantByChannelAddress maps a receiving channel address to its tenant.
func (p *Postgres) TenantByChannelAddress(ctx context.Context, address string) (models.Tenant, error) {
	var t models.Tenant
	err := p.db.QueryRowContext(ctx, `
		SELECT t.id, t.name
		FROM tenant_channels tc
		JOIN tenants t ON t.id = tc.tenant_id
		WHERE tc.channel_address = $1
	`, address).Scan(&t.ID, &t.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Tenant{}, ErrTenantNotFound
	}
	if err != nil {
		return models.Tenant{}, err
	}
	return t, nil
}

// InboundSeen reports whether the tenant already recorded this external id
// for an inbound message.
func (p *Postgres) InboundSeen(ctx context.Context, tenantID, externalMessageID string) (bool, error) {
	if externalMessageID == "" {
		return false, nil
	}
	var seen bool
	err := p.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM messages
			WHERE tenant_id = $1
			  AND external_message_id = $2
			  AND direction = 'inbound'
		)
	`, tenantID, externalMessageID).Scan(&seen)
	return seen, err
}

// SaveInbound upserts the sender contact and inserts the inbound message in
// one transaction. A duplicate external id leaves the database untouched and
// returns the previously stored row with inserted=false.
func (p *Postgres) SaveInbound(ctx context.Context, in InboundMessage) (models.Message, bool, error) {
	msg := models.Message{
		ID:                uuid.New(),
		TenantID:          in.TenantID,
		Direction:         models.DirectionInbound,
		Content:           in.Content,
		ExternalMessageID: in.ExternalMessageID,
		FromAddress:       in.From,
		ToAddress:         in.To,
		Status:            models.StatusReceived,
	}
	inserted, err := p.saveMessage(ctx, &msg, in.From, in.DisplayName)
	return msg, inserted, err
}

// SaveOutbound upserts the recipient contact and inserts the outbound
// message, collapsing idempotency-key conflicts into the stored row.
func (p *Postgres) SaveOutbound(ctx context.Context, out OutboundMessage) (models.Message, bool, error) {
	msg := models.Message{
		ID:                uuid.New(),
		TenantID:          out.TenantID,
		Direction:         models.DirectionOutbound,
		Content:           out.Content,
		ExternalMessageID: out.ExternalMessageID,
		FromAddress:       out.From,
		ToAddress:         out.To,
		Status:            models.StatusReceived,
	}
	inserted, err := p.saveMessage(ctx, &msg, out.To, "")
	return msg, inserted, err
}

// saveMessage holds the shared transaction for both directions. contactAddr
// is the external party's channel address (the sender for inbound, the
// recipient for outbound).
func (p *Postgres) saveMessage(ctx context.Context, msg *models.Message, contactAddr, displayName string) (bool, error) {
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	contactID, err := upsertContact(ctx, tx, msg.TenantID, contactAddr, displayName)
	if err != nil {
		return false, err
	}
	msg.ContactID = contactID

	err = tx.QueryRowContext(ctx, `
		INSERT INTO messages
			(id, tenant_id, contact_id, direction, content,
			 external_message_id, from_address, to_address, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (tenant_id, external_message_id, direction)
			WHERE external_message_id <> ''
			DO NOTHING
		RETURNING created_at
	`, msg.ID, msg.TenantID, msg.ContactID, msg.Direction, msg.Content,
		msg.ExternalMessageID, msg.FromAddress, msg.ToAddress, msg.Status,
	).Scan(&msg.CreatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		// Conflict: fetch the row that won so callers see stable ids
		// across webhook retries and queue redeliveries.
		stored, lookupErr := p.messageByExternalID(ctx, tx, msg.TenantID, msg.ExternalMessageID, msg.Direction)
		if lookupErr != nil {
			return false, lookupErr
		}
		*msg = stored
		if err := tx.Commit(); err != nil {
			return false, err
		}
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

func upsertContact(ctx context.Context, tx *sql.Tx, tenantID, address, displayName string) (uuid.UUID, error) {
	var id uuid.UUID
	err := tx.QueryRowContext(ctx, `
		INSERT INTO contacts (id, tenant_id, channel_address, display_name)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (tenant_id, channel_address) DO UPDATE
			SET display_name = CASE
				WHEN EXCLUDED.display_name <> '' THEN EXCLUDED.display_name
				ELSE contacts.display_name
			END
		RETURNING id
	`, uuid.New(), tenantID, address, displayName).Scan(&id)
	return id, err
}

func (p *Postgres) messageByExternalID(ctx context.Context, tx *sql.Tx, tenantID, externalID string, direction models.Direction) (models.Message, error) {
	var m models.Message
	err := tx.QueryRowContext(ctx, `
		SELECT id, tenant_id, contact_id, direction, content,
		       external_message_id, from_address, to_address, status, created_at
		FROM messages
		WHERE tenant_id = $1 AND external_message_id = $2 AND direction = $3
	`, tenantID, externalID, direction).Scan(
		&m.ID, &m.TenantID, &m.ContactID, &m.Direction, &m.Content,
		&m.ExternalMessageID, &m.FromAddress, &m.ToAddress, &m.Status, &m.CreatedAt,
	)
	return m, err
}

// MarkStatus transitions a message's delivery status.
func (p *Postgres) MarkStatus(ctx context.Context, tenantID string, id uuid.UUID, status models.MessageStatus) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE messages SET status = $3
		WHERE tenant_id = $1 AND id = $2
	`, tenantID, id, status)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("message %s not found for tenant %s", id, tenantID)
	}
	return nil
}

// ListMessages returns a page of the tenant's history, newest first.
func (p *Postgres) ListMessages(ctx context.Context, q ListQuery) ([]models.Message, error) {
	if q.Limit <= 0 || q.Limit > 200 {
		q.Limit = 50
	}
	before := q.Before
	if before.IsZero() {
		before = time.Now().UTC().Add(time.Second)
	}

	rows, err := p.db.QueryContext(ctx, `
		SELECT id, tenant_id, contact_id, direction, content,
		       external_message_id, from_address, to_address, status, created_at
		FROM messages
		WHERE tenant_id = $1 AND created_at < $2
		ORDER BY created_at DESC
		LIMIT $3
	`, q.TenantID, before, q.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Message
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(
			&m.ID, &m.TenantID, &m.ContactID, &m.Direction, &m.Content,
			&m.ExternalMessageID, &m.FromAddress, &m.ToAddress, &m.Status, &m.CreatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
