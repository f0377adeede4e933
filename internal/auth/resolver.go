// RelayDesk - Multi-Tenant Customer Messaging Backend
// Copyright 2026 RelayDesk Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/relaydesk/relaydesk

package auth

import (
	"net/http"
	"strings"
)

// RequestContext is the per-request identity material extracted from
// headers: the bearer credential plus any trusted service identity headers.
// It does not enforce admission; that is the Gate's job.
type RequestContext struct {
	// Token is the bearer credential, if present.
	Token string

	// TenantID and UserID come from x-tenant-id / x-user-id headers.
	// They are honored only behind a trusted network boundary
	// (security.trust_service_headers); treat them as hints otherwise.
	TenantID string
	UserID   string
}

// Entry points hand the resolver three call shapes: a raw request, a bare
// header map, or just a bearer token string. All three collapse into the
// same normalization below.

// ResolveRequest extracts identity material from an HTTP request.
func ResolveRequest(r *http.Request) RequestContext {
	return ResolveHeaders(r.Header)
}

// ResolveHeaders extracts identity material from a header map.
// Lookup is case-insensitive; multi-valued headers collapse to their first
// value, matching net/http semantics.
func ResolveHeaders(h http.Header) RequestContext {
	return RequestContext{
		Token:    bearerToken(h.Get("Authorization")),
		TenantID: h.Get("X-Tenant-Id"),
		UserID:   h.Get("X-User-Id"),
	}
}

// ResolveBearer wraps a bare bearer token in a RequestContext.
func ResolveBearer(token string) RequestContext {
	return RequestContext{Token: strings.TrimSpace(token)}
}

// bearerToken strips the "Bearer " scheme prefix, case-insensitively.
// A value without the scheme is returned as-is so websocket query tokens
// and raw service tokens resolve the same way.
func bearerToken(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	if len(value) > 7 && strings.EqualFold(value[:7], "bearer ") {
		return strings.TrimSpace(value[7:])
	}
	return value
}
