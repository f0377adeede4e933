// RelayDesk - Multi-Tenant Customer Messaging Backend
// Copyright 2026 RelayDesk Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/relaydesk/relaydesk

package api

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/goccy/go-json"

	"github.com/relaydesk/relaydesk/internal/logging"
	"github.com/relaydesk/relaydesk/internal/metrics"
	"github.com/relaydesk/relaydesk/internal/models"
	"github.com/relaydesk/relaydesk/internal/store"
)

// maxWebhookBody bounds the raw event body read into memory.
const maxWebhookBody = 1 << 20 // 1 MB

// webhookEvent is the provider's nested event envelope. Only the fields the
// intake path needs are mapped.
type webhookEvent struct {
	Entry []struct {
		Changes []struct {
			Value struct {
				Metadata struct {
					DisplayPhoneNumber string `json:"display_phone_number"`
				} `json:"metadata"`
				Contacts []struct {
					Profile struct {
						Name string `json:"name"`
					} `json:"profile"`
					WaID string `json:"wa_id"`
				} `json:"contacts"`
				Messages []struct {
					From string `json:"from"`
					ID   string `json:"id"`
					Text struct {
						Body string `json:"body"`
					} `json:"text"`
					Type string `json:"type"`
				} `json:"messages"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

// inboundEvent is the flattened result of parsing one webhook event.
type inboundEvent struct {
	From              string
	To                string
	ExternalMessageID string
	Content           string
	DisplayName       string
}

// WebhookVerify handles the provider's one-time subscription handshake:
// echo the challenge when the verify token matches, 403 otherwise.
func (h *Handler) WebhookVerify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	mode := q.Get("mode")
	token := q.Get("verify_token")
	challenge := q.Get("challenge")

	if mode != "subscribe" || token == "" || token != h.cfg.Channel.VerifyToken {
		logging.Warn().
			Str("mode", sanitizeLogValue(mode)).
			Msg("Webhook verification rejected")
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(challenge))
}

// WebhookEvent ingests one signed provider event. The signature is checked
// over the raw bytes before anything is parsed; only then is the payload
// interpreted, deduplicated, persisted, and enqueued.
func (h *Handler) WebhookEvent(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		metrics.RecordWebhook("rejected")
		respondError(w, http.StatusBadRequest, "BAD_REQUEST", "unreadable body", err)
		return
	}

	if !verifySignature(body, r.Header.Get("X-Hub-Signature-256"), h.cfg.Channel.AppSecret) {
		metrics.RecordWebhook("bad_signature")
		logging.Warn().Msg("Webhook signature verification failed")
		respondError(w, http.StatusForbidden, "INVALID_SIGNATURE", "signature verification failed", nil)
		return
	}

	event, ok, err := parseEvent(body)
	if err != nil {
		metrics.RecordWebhook("rejected")
		respondError(w, http.StatusBadRequest, "INVALID_PAYLOAD", err.Error(), nil)
		return
	}
	if !ok {
		// Status-only notification (delivery receipts etc). Acknowledge
		// and move on; there is nothing to enqueue.
		metrics.RecordWebhook("ignored")
		respondOK(w)
		return
	}

	ctx := r.Context()

	tenant, err := h.store.TenantByChannelAddress(ctx, event.To)
	if err != nil {
		if errors.Is(err, store.ErrTenantNotFound) {
			metrics.RecordWebhook("rejected")
			respondError(w, http.StatusBadRequest, "UNKNOWN_RECIPIENT", "no tenant for receiving address", nil)
			return
		}
		respondError(w, http.StatusInternalServerError, "STORAGE_ERROR", "tenant lookup failed", err)
		return
	}

	job := &models.Job{
		TenantID:          tenant.ID,
		From:              event.From,
		To:                event.To,
		ExternalMessageID: event.ExternalMessageID,
		Content:           event.Content,
	}

	if event.ExternalMessageID != "" {
		seen, err := h.store.InboundSeen(ctx, tenant.ID, event.ExternalMessageID)
		if err != nil {
			respondError(w, http.StatusInternalServerError, "STORAGE_ERROR", "dedup check failed", err)
			return
		}
		if seen {
			// A retry of an event we already recorded, possibly because a
			// previous attempt failed between the insert and the publish.
			// Publish again so a lost job gets another chance; the broker's
			// duplicate window collapses the publish when the first attempt
			// went through.
			if err := h.publisher.PublishJob(ctx, h.cfg.NATS.Subject, job); err != nil {
				respondError(w, http.StatusInternalServerError, "ENQUEUE_FAILED", "could not enqueue job", err)
				return
			}
			metrics.RecordWebhook("duplicate")
			respondOK(w)
			return
		}
	}

	_, inserted, err := h.store.SaveInbound(ctx, store.InboundMessage{
		TenantID:          tenant.ID,
		From:              event.From,
		To:                event.To,
		ExternalMessageID: event.ExternalMessageID,
		Content:           event.Content,
		DisplayName:       event.DisplayName,
	})
	if err != nil {
		respondError(w, http.StatusInternalServerError, "STORAGE_ERROR", "persist failed", err)
		return
	}
	if !inserted {
		// Raced with a concurrent retry of the same event. The racing
		// request may not have published yet, so publish here too and let
		// broker-side dedup sort it out.
		if err := h.publisher.PublishJob(ctx, h.cfg.NATS.Subject, job); err != nil {
			respondError(w, http.StatusInternalServerError, "ENQUEUE_FAILED", "could not enqueue job", err)
			return
		}
		metrics.RecordWebhook("duplicate")
		respondOK(w)
		return
	}

	if err := h.publisher.PublishJob(ctx, h.cfg.NATS.Subject, job); err != nil {
		// The inbound row exists but no job does. Fail the webhook so the
		// provider retries; the retry lands on the duplicate path above,
		// which publishes again.
		respondError(w, http.StatusInternalServerError, "ENQUEUE_FAILED", "could not enqueue job", err)
		return
	}

	metrics.RecordWebhook("accepted")
	respondOK(w)
}

// respondOK writes the provider-facing acknowledgment body.
func respondOK(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// verifySignature checks the HMAC-SHA256 hex digest in an
// "sha256=<hex>" header against the raw body.
func verifySignature(body []byte, header, secret string) bool {
	if secret == "" || header == "" {
		return false
	}
	const prefix = "sha256="
	if !strings.HasPrefix(header, prefix) {
		return false
	}
	provided, err := hex.DecodeString(header[len(prefix):])
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(provided, mac.Sum(nil))
}

// parseEvent extracts the inbound message from the provider envelope.
// ok=false with nil error means a well-formed event that carries no
// message (status updates). An error means a structurally invalid payload.
func parseEvent(body []byte) (inboundEvent, bool, error) {
	var evt webhookEvent
	if err := json.Unmarshal(body, &evt); err != nil {
		return inboundEvent{}, false, errors.New("payload is not valid JSON")
	}
	if len(evt.Entry) == 0 || len(evt.Entry[0].Changes) == 0 {
		return inboundEvent{}, false, errors.New("payload missing entry or changes")
	}

	value := evt.Entry[0].Changes[0].Value
	if len(value.Messages) == 0 {
		return inboundEvent{}, false, nil
	}

	msg := value.Messages[0]
	if msg.From == "" {
		return inboundEvent{}, false, errors.New("message missing sender")
	}
	if value.Metadata.DisplayPhoneNumber == "" {
		return inboundEvent{}, false, errors.New("payload missing receiving address")
	}

	out := inboundEvent{
		From:              msg.From,
		To:                value.Metadata.DisplayPhoneNumber,
		ExternalMessageID: msg.ID,
		Content:           msg.Text.Body,
	}
	if len(value.Contacts) > 0 {
		out.DisplayName = value.Contacts[0].Profile.Name
	}
	return out, true, nil
}
