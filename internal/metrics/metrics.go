// RelayDesk - Multi-Tenant Customer Messaging Backend
// Copyright 2026 RelayDesk Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/relaydesk/relaydesk

// Package metrics provides Prometheus instrumentation for the message
// pipeline. Metrics are exposed at /metrics in Prometheus text format.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP surface
	APIRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total API requests by method, path, and status",
		},
		[]string{"method", "path", "status"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "API request duration by method and path",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	APIActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "api_requests_active",
			Help: "Number of API requests currently in flight",
		},
	)

	// Webhook intake
	WebhooksReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_events_total",
			Help: "Total webhook events by outcome",
		},
		[]string{"outcome"}, // "accepted", "duplicate", "rejected"
	)

	// Queue
	JobsPublished = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "queue_jobs_published_total",
			Help: "Total jobs published to the queue",
		},
	)

	JobsPoisoned = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "queue_jobs_poisoned_total",
			Help: "Total jobs dead-lettered to the poison subject",
		},
	)

	// Reply worker
	JobsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_jobs_processed_total",
			Help: "Total jobs processed by outcome",
		},
		[]string{"outcome"}, // "completed", "duplicate", "retried"
	)

	FallbackReplies = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "worker_fallback_replies_total",
			Help: "Total replies produced by the deterministic fallback path",
		},
	)

	ReplyDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "worker_reply_duration_seconds",
			Help:    "End-to-end duration of one job (generate, persist, send)",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Admission control
	RateLimitRejections = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ratelimit_rejections_total",
			Help: "Total requests rejected by the per-tenant rate limiter",
		},
	)

	// Realtime notifier
	WSConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "websocket_connections_active",
			Help: "Number of active websocket connections",
		},
	)

	WSBroadcasts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "websocket_broadcasts_total",
			Help: "Total broadcast frames fanned out to connections",
		},
	)

	WSHeartbeatDrops = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "websocket_heartbeat_drops_total",
			Help: "Connections terminated for missing a heartbeat",
		},
	)
)

// RecordAPIRequest records one completed API request.
func RecordAPIRequest(method, path, status string, duration time.Duration) {
	APIRequests.WithLabelValues(method, path, status).Inc()
	APIRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// TrackActiveRequest adjusts the in-flight request gauge.
func TrackActiveRequest(start bool) {
	if start {
		APIActiveRequests.Inc()
		return
	}
	APIActiveRequests.Dec()
}

// RecordRateLimited increments the rate limit rejection counter.
func RecordRateLimited() {
	RateLimitRejections.Inc()
}

// RecordWebhook increments the webhook outcome counter.
func RecordWebhook(outcome string) {
	WebhooksReceived.WithLabelValues(outcome).Inc()
}

// RecordJob increments the worker outcome counter.
func RecordJob(outcome string) {
	JobsProcessed.WithLabelValues(outcome).Inc()
}
