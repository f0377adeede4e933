// RelayDesk - Multi-Tenant Customer Messaging Backend
// Copyright 2026 RelayDesk Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/relaydesk/relaydesk

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/relaydesk/relaydesk/internal/middleware"
)

// webhookRateLimit bounds unauthenticated webhook traffic per source IP.
// The provider retries on 429, so a burst above the limit is deferred, not
// lost.
const (
	webhookRateLimit  = 300
	webhookRateWindow = time.Minute
)

// NewRouter assembles the full HTTP surface.
//
// The webhook routes authenticate with signature verification instead of the
// admission gate: the provider cannot carry a tenant credential. Everything
// under /api/v1 except health goes through the gate.
func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   h.cfg.Security.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization", "X-Tenant-Id", "X-User-Id"},
		AllowCredentials: false,
		MaxAge:           86400,
	}))

	r.Route("/webhook", func(r chi.Router) {
		r.Use(httprate.LimitByRealIP(webhookRateLimit, webhookRateWindow))
		r.Get("/", h.WebhookVerify)
		r.Post("/", h.WebhookEvent)
	})

	r.Route("/api/v1/health", func(r chi.Router) {
		r.Use(httprate.LimitByRealIP(1000, time.Minute))
		r.Get("/live", h.HealthLive)
		r.Get("/ready", h.HealthReady)
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.PrometheusMetrics)
		r.Use(h.gate.Middleware(h.cfg.Security.TrustServiceHeaders))

		r.Get("/messages", h.ListMessages)
		r.Post("/messages", h.SendMessage)
	})

	// The websocket endpoint runs its own admission before the upgrade; the
	// gate middleware cannot wrap it because hijacked connections must not
	// pass through header-writing middleware.
	r.Get("/ws", h.WebSocket)

	r.Handle("/metrics", promhttp.Handler())

	return r
}
