// RelayDesk - Multi-Tenant Customer Messaging Backend
// Copyright 2026 RelayDesk Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/relaydesk/relaydesk

// Package api wires the HTTP surface: webhook intake, the operator message
// API, the websocket endpoint, and health/metrics.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/relaydesk/relaydesk/internal/auth"
	"github.com/relaydesk/relaydesk/internal/channel"
	"github.com/relaydesk/relaydesk/internal/config"
	"github.com/relaydesk/relaydesk/internal/logging"
	"github.com/relaydesk/relaydesk/internal/models"
	"github.com/relaydesk/relaydesk/internal/realtime"
	"github.com/relaydesk/relaydesk/internal/store"
)

// JobPublisher is the slice of the queue publisher the intake path needs.
type JobPublisher interface {
	PublishJob(ctx context.Context, subject string, job *models.Job) error
}

// ReadinessCheck names one dependency probed by the readiness endpoint.
type ReadinessCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// Handler contains dependencies for the API handlers.
//
// Handler methods are split across files:
//   - handlers.go: Handler struct, constructor, message API, websocket, health
//   - webhook.go: provider webhook verification and event intake
//   - helpers.go: shared response helpers
type Handler struct {
	cfg       *config.Config
	store     store.Store
	publisher JobPublisher
	sender    channel.Sender
	hub       *realtime.Hub
	gate      *auth.Gate
	startTime time.Time
	ready     []ReadinessCheck
}

// NewHandler creates the API handler. sender and hub may be nil in tests that
// exercise only the intake path.
func NewHandler(cfg *config.Config, st store.Store, publisher JobPublisher, sender channel.Sender, hub *realtime.Hub, gate *auth.Gate, ready ...ReadinessCheck) *Handler {
	return &Handler{
		cfg:       cfg,
		store:     st,
		publisher: publisher,
		sender:    sender,
		hub:       hub,
		gate:      gate,
		startTime: time.Now(),
		ready:     ready,
	}
}

// sendMessageRequest is the operator-facing send body.
type sendMessageRequest struct {
	To      string `json:"to" validate:"required,min=3"`
	Content string `json:"content" validate:"required,max=4096"`
}

// ListMessages returns a page of the authenticated tenant's message history,
// newest first. Pagination is cursor-based on created_at via the before
// query parameter (RFC3339).
func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing identity", nil)
		return
	}

	q := store.ListQuery{
		TenantID: identity.TenantID,
		Limit:    getIntParam(r, "limit", 50),
	}
	if before := r.URL.Query().Get("before"); before != "" {
		ts, err := time.Parse(time.RFC3339, before)
		if err != nil {
			respondError(w, http.StatusBadRequest, "INVALID_PARAMETER", "before must be RFC3339", err)
			return
		}
		q.Before = ts
	}

	messages, err := h.store.ListMessages(r.Context(), q)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "STORAGE_ERROR", "message listing failed", err)
		return
	}

	respondJSON(w, http.StatusOK, &models.APIResponse{
		Status: "success",
		Data: map[string]interface{}{
			"messages": messages,
			"count":    len(messages),
		},
		Metadata: models.Metadata{Timestamp: time.Now()},
	})
}

// SendMessage delivers an operator-composed outbound message on the tenant's
// channel: persist first, then send, then mark the outcome. A duplicate-send
// conflict from the provider counts as delivered.
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing identity", nil)
		return
	}

	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid request body", err)
		return
	}
	if apiErr := validateRequest(&req); apiErr != nil {
		respondJSON(w, http.StatusBadRequest, &models.APIResponse{
			Status:   "error",
			Metadata: models.Metadata{Timestamp: time.Now()},
			Error:    apiErr,
		})
		return
	}

	ctx := r.Context()
	msg, _, err := h.store.SaveOutbound(ctx, store.OutboundMessage{
		TenantID: identity.TenantID,
		From:     h.cfg.Channel.SenderID,
		To:       req.To,
		Content:  req.Content,
	})
	if err != nil {
		respondError(w, http.StatusInternalServerError, "STORAGE_ERROR", "persist failed", err)
		return
	}

	if _, err := h.sender.Send(ctx, msg.ToAddress, msg.Content, ""); err != nil && !errors.Is(err, channel.ErrAlreadySent) {
		status := models.StatusFailed
		if markErr := h.store.MarkStatus(ctx, msg.TenantID, msg.ID, status); markErr != nil {
			logging.Error().Err(markErr).Str("message_id", msg.ID.String()).Msg("Failed to record delivery failure")
		}
		if errors.Is(err, channel.ErrRejected) {
			respondError(w, http.StatusUnprocessableEntity, "CHANNEL_REJECTED", "provider rejected the message", err)
			return
		}
		respondError(w, http.StatusBadGateway, "CHANNEL_UNAVAILABLE", "provider send failed", err)
		return
	}

	if err := h.store.MarkStatus(ctx, msg.TenantID, msg.ID, models.StatusSent); err != nil {
		respondError(w, http.StatusInternalServerError, "STORAGE_ERROR", "status update failed", err)
		return
	}
	msg.Status = models.StatusSent

	if h.hub != nil {
		h.hub.BroadcastNewMessage(msg.TenantID, msg.ID.String(), msg.Preview())
	}

	respondJSON(w, http.StatusCreated, &models.APIResponse{
		Status:   "success",
		Data:     msg,
		Metadata: models.Metadata{Timestamp: time.Now()},
	})
}

// getUpgrader creates a WebSocket upgrader with origin checking and a
// handshake timeout.
func (h *Handler) getUpgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
		CheckOrigin:      h.checkWebSocketOrigin,
		HandshakeTimeout: 10 * time.Second,
	}
}

// checkWebSocketOrigin validates WebSocket connection origins.
func (h *Handler) checkWebSocketOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")

	// Browser WebSockets always include Origin; an empty one means the
	// request did not come through CORS and is rejected.
	if origin == "" {
		logging.Warn().Msg("WebSocket connection rejected: missing Origin header")
		return false
	}

	if h.cfg == nil {
		return true
	}

	for _, allowed := range h.cfg.Security.CORSOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}

	logging.Warn().Str("origin", sanitizeLogValue(origin)).Msg("WebSocket connection rejected from unauthorized origin")
	return false
}

// WebSocket admits and upgrades a realtime connection. Admission runs before
// the upgrade, so rejected credentials never hold a socket; browsers cannot
// set headers on WebSocket dials, so the credential may also arrive in the
// token query parameter.
func (h *Handler) WebSocket(w http.ResponseWriter, r *http.Request) {
	if h.hub == nil {
		logging.Warn().Msg("WebSocket connection rejected: hub not initialized")
		respondError(w, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "realtime service unavailable", nil)
		return
	}

	credential := auth.ResolveRequest(r).Token
	if credential == "" {
		credential = r.URL.Query().Get("token")
	}

	result := h.gate.Admit(r.Context(), credential)
	switch result.Kind {
	case auth.Admitted:
	case auth.RateLimited:
		w.Header().Set("Retry-After", retryAfterSeconds(result.RetryAfter))
		respondError(w, http.StatusTooManyRequests, "RATE_LIMITED", "rate limit exceeded", nil)
		return
	default:
		respondError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing or invalid credential", nil)
		return
	}

	upgrader := h.getUpgrader()
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Error().Err(err).Msg("WebSocket upgrade error")
		return
	}

	client := realtime.NewClient(h.hub, conn, result.TenantID)
	h.hub.Register <- client
	client.Start()
}

// HealthLive reports process liveness.
func (h *Handler) HealthLive(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, &models.APIResponse{
		Status: "success",
		Data: map[string]interface{}{
			"status": "alive",
			"uptime": time.Since(h.startTime).String(),
		},
		Metadata: models.Metadata{Timestamp: time.Now()},
	})
}

// HealthReady probes every registered dependency and reports 503 when any is
// unreachable.
func (h *Handler) HealthReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]string, len(h.ready))
	healthy := true
	for _, rc := range h.ready {
		if err := rc.Check(ctx); err != nil {
			checks[rc.Name] = err.Error()
			healthy = false
			continue
		}
		checks[rc.Name] = "ok"
	}

	status := http.StatusOK
	overall := "ready"
	if !healthy {
		status = http.StatusServiceUnavailable
		overall = "degraded"
	}

	respondJSON(w, status, &models.APIResponse{
		Status: "success",
		Data: map[string]interface{}{
			"status": overall,
			"checks": checks,
		},
		Metadata: models.Metadata{Timestamp: time.Now()},
	})
}

func retryAfterSeconds(d time.Duration) string {
	seconds := int(d.Round(time.Second).Seconds())
	if seconds < 1 {
		seconds = 1
	}
	return strconv.Itoa(seconds)
}
