// RelayDesk - Multi-Tenant Customer Messaging Backend
// Copyright 2026 RelayDesk Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/relaydesk/relaydesk

// Package queue provides the durable at-least-once job queue between webhook
// intake and the reply workers, built on watermill over NATS JetStream.
package queue

import (
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/relaydesk/relaydesk/internal/models"
)

// Metadata keys carried alongside the job payload.
const (
	metaTenantID = "tenant_id"

	// metaDedupeID doubles as the Nats-Msg-Id, so the broker's duplicate
	// window suppresses re-publishes of the same inbound event.
	metaDedupeID = "dedupe_id"
)

// MarshalJob encodes a job into a watermill message. The message UUID and
// dedupe id derive from the inbound external id when present, so publishing
// the same event twice within the duplicate window is a broker-level no-op.
func MarshalJob(job *models.Job) (*message.Message, error) {
	data, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("marshal job: %w", err)
	}

	id := dedupeID(job)
	msg := message.NewMessage(id, data)
	msg.Metadata.Set(metaTenantID, job.TenantID)
	msg.Metadata.Set(metaDedupeID, id)
	return msg, nil
}

// UnmarshalJob decodes a watermill message back into a job.
func UnmarshalJob(msg *message.Message) (*models.Job, error) {
	var job models.Job
	if err := json.Unmarshal(msg.Payload, &job); err != nil {
		return nil, fmt.Errorf("unmarshal job %s: %w", msg.UUID, err)
	}
	if job.TenantID == "" {
		return nil, fmt.Errorf("job %s has no tenant", msg.UUID)
	}
	return &job, nil
}

func dedupeID(job *models.Job) string {
	if job.ExternalMessageID != "" {
		return job.TenantID + ":" + job.ExternalMessageID
	}
	return uuid.New().String()
}
