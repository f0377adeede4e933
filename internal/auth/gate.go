// RelayDesk - Multi-Tenant Customer Messaging Backend
// Copyright 2026 RelayDesk Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/relaydesk/relaydesk

package auth

import (
	"context"
	"time"

	"github.com/relaydesk/relaydesk/internal/logging"
	"github.com/relaydesk/relaydesk/internal/ratelimit"
)

// AdmissionKind enumerates the admission outcomes. Callers switch on it
// exhaustively instead of matching error types.
type AdmissionKind int

const (
	// Admitted means the credential is valid, tenant-scoped, and within
	// the tenant's rate budget.
	Admitted AdmissionKind = iota

	// Unauthorized means the credential is missing, invalid, or carries
	// no tenant scope. Never retried automatically.
	Unauthorized

	// RateLimited means the tenant exhausted its point budget for the
	// current window. RetryAfter carries the hint.
	RateLimited
)

// AdmissionResult is the outcome of one admission decision.
type AdmissionResult struct {
	Kind       AdmissionKind
	TenantID   string
	UserID     string
	RetryAfter time.Duration
}

// TenantLimiter is the slice of the rate limiter the gate needs.
type TenantLimiter interface {
	Allow(ctx context.Context, tenantID string) ratelimit.Decision
}

// Gate composes credential verification with per-tenant rate limiting into a
// single admission decision used by every inbound entry point.
type Gate struct {
	jwt     *JWTManager
	limiter TenantLimiter
}

// NewGate creates an admission gate. limiter may be nil, which disables
// rate limiting (used when RATE_LIMIT_DISABLED=true).
func NewGate(jwt *JWTManager, limiter TenantLimiter) *Gate {
	return &Gate{jwt: jwt, limiter: limiter}
}

// Admit decides admission for one request credential.
//
// The missing-credential check runs before any limiter consumption, so
// unauthenticated noise never spends a tenant's quota.
func (g *Gate) Admit(ctx context.Context, credential string) AdmissionResult {
	if credential == "" {
		return AdmissionResult{Kind: Unauthorized}
	}

	claims, err := g.jwt.ValidateToken(credential)
	if err != nil {
		logging.Debug().Err(err).Msg("credential rejected")
		return AdmissionResult{Kind: Unauthorized}
	}

	if g.limiter != nil {
		decision := g.limiter.Allow(ctx, claims.TenantID)
		if !decision.Allowed {
			return AdmissionResult{
				Kind:       RateLimited,
				TenantID:   claims.TenantID,
				RetryAfter: decision.RetryAfter,
			}
		}
	}

	return AdmissionResult{
		Kind:     Admitted,
		TenantID: claims.TenantID,
		UserID:   claims.UserID,
	}
}
