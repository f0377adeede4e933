// RelayDesk - Multi-Tenant Customer Messaging Backend
// Copyright 2026 RelayDesk Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/relaydesk/relaydesk

package auth

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"github.com/relaydesk/relaydesk/internal/models"
)

type contextKey string

const identityKey contextKey = "identity"

// Identity is the admitted tenant/user pair attached to the request context.
type Identity struct {
	TenantID string
	UserID   string
}

// WithIdentity returns a context carrying the admitted identity.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// IdentityFromContext retrieves the admitted identity from context.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey).(Identity)
	return id, ok
}

// Middleware returns a chi-compatible middleware enforcing admission on
// every request it wraps. On admission the tenant (and user, if present) is
// attached to the request context and echoed in response headers so
// downstream infrastructure can scope by tenant without re-parsing the
// credential.
//
// trustServiceHeaders additionally admits requests that carry an
// x-tenant-id header and no credential, a deliberate trust relaxation for
// service-to-service calls inside the network boundary.
func (g *Gate) Middleware(trustServiceHeaders bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rc := ResolveRequest(r)

			if rc.Token == "" && trustServiceHeaders && rc.TenantID != "" {
				g.admitService(w, r, next, rc)
				return
			}

			result := g.Admit(r.Context(), rc.Token)
			switch result.Kind {
			case Admitted:
				serveAdmitted(w, r, next, Identity{TenantID: result.TenantID, UserID: result.UserID})
			case RateLimited:
				writeRateLimited(w, result.RetryAfter)
			case Unauthorized:
				writeAdmissionError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing or invalid credential")
			}
		})
	}
}

// admitService handles the trusted service-header path. The limiter still
// applies; only credential verification is bypassed.
func (g *Gate) admitService(w http.ResponseWriter, r *http.Request, next http.Handler, rc RequestContext) {
	if g.limiter != nil {
		decision := g.limiter.Allow(r.Context(), rc.TenantID)
		if !decision.Allowed {
			writeRateLimited(w, decision.RetryAfter)
			return
		}
	}
	serveAdmitted(w, r, next, Identity{TenantID: rc.TenantID, UserID: rc.UserID})
}

func serveAdmitted(w http.ResponseWriter, r *http.Request, next http.Handler, id Identity) {
	w.Header().Set("X-Tenant-Id", id.TenantID)
	if id.UserID != "" {
		w.Header().Set("X-User-Id", id.UserID)
	}
	next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
}

func writeRateLimited(w http.ResponseWriter, retryAfter time.Duration) {
	seconds := int(retryAfter.Round(time.Second).Seconds())
	if seconds < 1 {
		seconds = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(seconds))
	writeAdmissionError(w, http.StatusTooManyRequests, "RATE_LIMITED", "rate limit exceeded")
}

func writeAdmissionError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := &models.APIResponse{
		Status:   "error",
		Metadata: models.Metadata{Timestamp: time.Now()},
		Error:    &models.APIError{Code: code, Message: message},
	}
	_ = json.NewEncoder(w).Encode(resp)
}
