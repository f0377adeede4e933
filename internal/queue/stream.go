// RelayDesk - Multi-Tenant Customer Messaging Backend
// Copyright 2026 RelayDesk Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/relaydesk/relaydesk

package queue

import (
	"context"
	"errors"
	"fmt"

	natsgo "github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/relaydesk/relaydesk/internal/config"
	"github.com/relaydesk/relaydesk/internal/logging"
)

// JetStreamContext is the subset of jetstream.JetStream the stream manager
// needs. Narrowed for testing.
type JetStreamContext interface {
	Stream(ctx context.Context, name string) (jetstream.Stream, error)
	CreateStream(ctx context.Context, cfg jetstream.StreamConfig) (jetstream.Stream, error)
	UpdateStream(ctx context.Context, cfg jetstream.StreamConfig) (jetstream.Stream, error)
}

// StreamManager provisions the job stream before publishers and subscribers
// start. EnsureStream is idempotent.
type StreamManager struct {
	js  JetStreamContext
	cfg config.NATSConfig

	nc *natsgo.Conn
}

// NewStreamManager connects to NATS and prepares a manager for the
// configured stream. Close releases the connection.
func NewStreamManager(cfg config.NATSConfig) (*StreamManager, error) {
	nc, err := natsgo.Connect(cfg.URL,
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(cfg.MaxReconnects),
		natsgo.ReconnectWait(cfg.ReconnectWait),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	return &StreamManager{js: js, cfg: cfg, nc: nc}, nil
}

// NewStreamManagerWithContext wraps an existing JetStream context. Used in
// tests with a fake.
func NewStreamManagerWithContext(js JetStreamContext, cfg config.NATSConfig) *StreamManager {
	return &StreamManager{js: js, cfg: cfg}
}

// EnsureStream creates or updates the job stream. The duplicate window backs
// Nats-Msg-Id deduplication of re-published webhook events; limits retention
// keeps jobs until acked or expired.
func (m *StreamManager) EnsureStream(ctx context.Context) error {
	streamCfg := jetstream.StreamConfig{
		Name:       m.cfg.Stream,
		Subjects:   []string{subjectRoot(m.cfg.Subject) + ".>"},
		Retention:  jetstream.LimitsPolicy,
		MaxAge:     m.cfg.MaxAge,
		Duplicates: m.cfg.DuplicateWindow,
		Storage:    jetstream.FileStorage,
		Discard:    jetstream.DiscardOld,
	}

	_, err := m.js.Stream(ctx, m.cfg.Stream)
	if err == nil {
		if _, err := m.js.UpdateStream(ctx, streamCfg); err != nil {
			return fmt.Errorf("update stream %s: %w", m.cfg.Stream, err)
		}
		return nil
	}
	if !errors.Is(err, jetstream.ErrStreamNotFound) {
		return fmt.Errorf("check stream %s: %w", m.cfg.Stream, err)
	}

	if _, err := m.js.CreateStream(ctx, streamCfg); err != nil {
		return fmt.Errorf("create stream %s: %w", m.cfg.Stream, err)
	}
	logging.Info().Str("stream", m.cfg.Stream).Msg("JetStream stream created")
	return nil
}

// Healthy reports whether the stream is reachable.
func (m *StreamManager) Healthy(ctx context.Context) bool {
	_, err := m.js.Stream(ctx, m.cfg.Stream)
	return err == nil
}

// Close releases the NATS connection, if this manager owns one.
func (m *StreamManager) Close() {
	if m.nc != nil {
		m.nc.Close()
	}
}

// subjectRoot returns the first token of a subject, so "jobs.reply" and
// "jobs.poison" both land in a stream capturing "jobs.>".
func subjectRoot(subject string) string {
	for i := 0; i < len(subject); i++ {
		if subject[i] == '.' {
			return subject[:i]
		}
	}
	return subject
}
