// RelayDesk - Multi-Tenant Customer Messaging Backend
// Copyright 2026 RelayDesk Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/relaydesk/relaydesk

// Package ratelimit implements per-tenant admission control backed by a
// shared Redis counter, so multiple process instances enforce one global
// limit per tenant.
//
// Policy: fixed window. The counter is INCR'd per admitted request and
// expires at the window boundary; it does not slide. A tenant can burst up
// to 2x the budget across a boundary, which is accepted and what the tests
// target.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/relaydesk/relaydesk/internal/logging"
	"github.com/relaydesk/relaydesk/internal/metrics"
)

// Decision is the outcome of one point consumption.
type Decision struct {
	Allowed bool

	// Remaining is the number of points left in the current window.
	Remaining int

	// RetryAfter hints when the window resets. Only set when !Allowed.
	RetryAfter time.Duration
}

// Limiter consumes one point per call from a tenant's fixed-window budget.
type Limiter struct {
	rdb    redis.Cmdable
	points int
	window time.Duration
}

// New creates a limiter with the given per-window point budget.
func New(rdb redis.Cmdable, points int, window time.Duration) *Limiter {
	return &Limiter{rdb: rdb, points: points, window: window}
}

// Allow consumes one point for the tenant and reports the decision.
//
// Failure direction: fail-open. When the counter store is unreachable the
// request is admitted and a warning logged; availability of messaging
// outranks strict quota enforcement. This is a documented policy decision.
func (l *Limiter) Allow(ctx context.Context, tenantID string) Decision {
	key := fmt.Sprintf("ratelimit:%s", tenantID)

	pipe := l.rdb.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, l.window)
	ttl := pipe.PTTL(ctx, key)

	if _, err := pipe.Exec(ctx); err != nil {
		logging.Warn().Err(err).Str("tenant_id", tenantID).
			Msg("rate limit store unreachable, admitting (fail-open)")
		return Decision{Allowed: true, Remaining: l.points}
	}

	count := int(incr.Val())
	if count > l.points {
		retryAfter := ttl.Val()
		if retryAfter <= 0 {
			retryAfter = l.window
		}
		metrics.RecordRateLimited()
		return Decision{Allowed: false, RetryAfter: retryAfter}
	}

	return Decision{Allowed: true, Remaining: l.points - count}
}
