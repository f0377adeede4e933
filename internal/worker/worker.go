// RelayDesk - Multi-Tenant Customer Messaging Backend
// Copyright 2026 RelayDesk Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/relaydesk/relaydesk

// Package worker consumes reply jobs from the queue and turns each into a
// persisted outbound message plus a delivery-channel send. Delivery is
// at-least-once: every step tolerates seeing the same job again.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/relaydesk/relaydesk/internal/channel"
	"github.com/relaydesk/relaydesk/internal/config"
	"github.com/relaydesk/relaydesk/internal/logging"
	"github.com/relaydesk/relaydesk/internal/metrics"
	"github.com/relaydesk/relaydesk/internal/models"
	"github.com/relaydesk/relaydesk/internal/queue"
	"github.com/relaydesk/relaydesk/internal/store"
)

// replyTimeout bounds one generative-reply attempt. The fallback covers the
// rest of the job budget.
const replyTimeout = 15 * time.Second

// Replier drafts a reply to inbound content. Implemented by ai.Client; a
// nil Replier sends every job down the fallback path.
type Replier interface {
	GenerateReply(ctx context.Context, content string) (string, error)
}

// JobPublisher republishes jobs, used for dead-lettering. Implemented by
// queue.Publisher.
type JobPublisher interface {
	PublishJob(ctx context.Context, topic string, job *models.Job) error
}

// JobSubscriber yields the job message channel. Implemented by
// queue.Subscriber.
type JobSubscriber interface {
	Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error)
}

// Notifier announces completed messages to dashboard connections.
// Implemented by realtime.Hub.
type Notifier interface {
	BroadcastNewMessage(tenantID, messageID, preview string)
}

// Pool is the reply worker pool. It satisfies suture.Service via Serve.
type Pool struct {
	cfg       config.NATSConfig
	replier   Replier
	sender    channel.Sender
	store     store.Store
	notifier  Notifier
	publisher JobPublisher
	sub       JobSubscriber
}

// NewPool assembles a worker pool. replier may be nil when generative
// replies are disabled.
func NewPool(
	cfg config.NATSConfig,
	sub JobSubscriber,
	replier Replier,
	sender channel.Sender,
	st store.Store,
	notifier Notifier,
	publisher JobPublisher,
) *Pool {
	return &Pool{
		cfg:       cfg,
		sub:       sub,
		replier:   replier,
		sender:    sender,
		store:     st,
		notifier:  notifier,
		publisher: publisher,
	}
}

// Serve consumes jobs until the context is canceled. Concurrency comes from
// the subscriber's consumer count; Serve itself is one dispatch loop.
func (p *Pool) Serve(ctx context.Context) error {
	msgs, err := p.sub.Subscribe(ctx, p.cfg.Subject)
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", p.cfg.Subject, err)
	}

	logging.Info().Str("subject", p.cfg.Subject).Msg("Reply worker started")

	for {
		select {
		case <-ctx.Done():
			logging.Info().Msg("Reply worker stopped")
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				return fmt.Errorf("job channel closed")
			}
			p.dispatch(ctx, msg)
		}
	}
}

// dispatch processes one delivery and settles it. Permanent failures are
// dead-lettered and acked so the broker stops redelivering; transient
// failures are nacked for redelivery within the broker's MaxDeliver budget.
func (p *Pool) dispatch(ctx context.Context, msg *message.Message) {
	start := time.Now()

	job, err := queue.UnmarshalJob(msg)
	if err != nil {
		logging.Err(err).Str("message_uuid", msg.UUID).Msg("Discarding undecodable job")
		p.poison(ctx, nil, msg)
		return
	}

	if err := p.process(ctx, job); err != nil {
		if isPermanent(err) {
			logging.Err(err).
				Str("tenant_id", job.TenantID).
				Str("external_message_id", job.ExternalMessageID).
				Msg("Job failed permanently, dead-lettering")
			p.poison(ctx, job, msg)
			return
		}

		logging.Warn().Err(err).
			Str("tenant_id", job.TenantID).
			Str("external_message_id", job.ExternalMessageID).
			Msg("Job failed, requesting redelivery")
		metrics.RecordJob("retry")
		msg.Nack()
		return
	}

	metrics.RecordJob("ok")
	metrics.ReplyDuration.Observe(time.Since(start).Seconds())
	msg.Ack()
}

// process runs the reply pipeline for one job: draft a reply, persist the
// outbound message, send it, mark it sent, notify the dashboard.
func (p *Pool) process(ctx context.Context, job *models.Job) error {
	reply := p.draftReply(ctx, job.Content)

	outbound, inserted, err := p.store.SaveOutbound(ctx, store.OutboundMessage{
		TenantID:          job.TenantID,
		From:              job.To,
		To:                job.From,
		ExternalMessageID: job.ExternalMessageID,
		Content:           reply,
	})
	if err != nil {
		return fmt.Errorf("persist outbound: %w", err)
	}
	if !inserted && outbound.Status == models.StatusSent {
		// Redelivered job whose reply already went out. Nothing to do.
		logging.Debug().
			Str("tenant_id", job.TenantID).
			Str("external_message_id", job.ExternalMessageID).
			Msg("Reply already sent, acking redelivery")
		return nil
	}

	_, err = p.sender.Send(ctx, outbound.ToAddress, outbound.Content, sendRef(job))
	switch {
	case err == nil, errors.Is(err, channel.ErrAlreadySent):
		// Delivered, either now or on an earlier attempt.
	case errors.Is(err, channel.ErrRejected):
		if markErr := p.store.MarkStatus(ctx, outbound.TenantID, outbound.ID, models.StatusFailed); markErr != nil {
			logging.Err(markErr).Msg("Failed to mark rejected message")
		}
		return &PermanentError{Err: fmt.Errorf("send reply: %w", err)}
	default:
		return fmt.Errorf("send reply: %w", err)
	}

	if err := p.store.MarkStatus(ctx, outbound.TenantID, outbound.ID, models.StatusSent); err != nil {
		return fmt.Errorf("mark sent: %w", err)
	}

	if p.notifier != nil {
		p.notifier.BroadcastNewMessage(outbound.TenantID, outbound.ID.String(), outbound.Preview())
	}
	return nil
}

// draftReply attempts the generative path under its own timeout and falls
// back deterministically on any failure. It never errors.
func (p *Pool) draftReply(ctx context.Context, content string) string {
	if p.replier == nil {
		metrics.FallbackReplies.Inc()
		return FallbackReply(content)
	}

	replyCtx, cancel := context.WithTimeout(ctx, replyTimeout)
	defer cancel()

	reply, err := p.replier.GenerateReply(replyCtx, content)
	if err != nil || reply == "" {
		if err != nil {
			logging.Warn().Err(err).Msg("Generative reply failed, using fallback")
		}
		metrics.FallbackReplies.Inc()
		return FallbackReply(content)
	}
	return reply
}

// poison publishes the job to the dead-letter subject and acks the original
// delivery. Publish failure keeps the original unacked so the broker retries
// the whole cycle.
func (p *Pool) poison(ctx context.Context, job *models.Job, msg *message.Message) {
	if job == nil {
		// Undecodable payload: forward the raw bytes as-is.
		raw := message.NewMessage(msg.UUID+":poison", msg.Payload)
		if err := p.publishRaw(ctx, raw); err != nil {
			logging.Err(err).Msg("Failed to dead-letter undecodable job")
			msg.Nack()
			return
		}
	} else {
		if err := p.publisher.PublishJob(ctx, p.cfg.PoisonSubject, job); err != nil {
			logging.Err(err).Msg("Failed to dead-letter job")
			msg.Nack()
			return
		}
	}

	metrics.JobsPoisoned.Inc()
	metrics.RecordJob("poisoned")
	msg.Ack()
}

func (p *Pool) publishRaw(ctx context.Context, msg *message.Message) error {
	type rawPublisher interface {
		Publish(ctx context.Context, topic string, msg *message.Message) error
	}
	if pub, ok := p.publisher.(rawPublisher); ok {
		return pub.Publish(ctx, p.cfg.PoisonSubject, msg)
	}
	return fmt.Errorf("publisher cannot forward raw payloads")
}

// sendRef is the provider-side idempotency key for one job's reply.
func sendRef(job *models.Job) string {
	if job.ExternalMessageID == "" {
		return ""
	}
	return "reply:" + job.ExternalMessageID
}

// isPermanent classifies pipeline errors. Store conflicts and transport
// failures are transient (redelivery can succeed); only explicit permanent
// markers dead-letter.
func isPermanent(err error) bool {
	var perm *PermanentError
	return errors.As(err, &perm)
}

// PermanentError wraps an error that redelivery cannot fix.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }
