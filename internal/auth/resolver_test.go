// RelayDesk - Multi-Tenant Customer Messaging Backend
// Copyright 2026 RelayDesk Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/relaydesk/relaydesk

package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestResolveRequest(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/api/v1/messages", nil)
	r.Header.Set("Authorization", "Bearer tok-123")
	r.Header.Set("X-Tenant-Id", "tenant-a")
	r.Header.Set("X-User-Id", "user-1")

	rc := ResolveRequest(r)
	if rc.Token != "tok-123" {
		t.Errorf("Token = %q, want tok-123", rc.Token)
	}
	if rc.TenantID != "tenant-a" || rc.UserID != "user-1" {
		t.Errorf("identity = %q/%q", rc.TenantID, rc.UserID)
	}
}

func TestResolveHeadersCaseInsensitive(t *testing.T) {
	h := http.Header{}
	// Set canonicalizes, but raw maps from other call sites may not; go
	// through Set to match net/http semantics.
	h.Set("authorization", "bearer tok-abc")
	h.Set("x-tenant-id", "tenant-b")

	rc := ResolveHeaders(h)
	if rc.Token != "tok-abc" {
		t.Errorf("Token = %q, want tok-abc", rc.Token)
	}
	if rc.TenantID != "tenant-b" {
		t.Errorf("TenantID = %q, want tenant-b", rc.TenantID)
	}
}

func TestResolveHeadersCollapsesMultiValue(t *testing.T) {
	h := http.Header{}
	h.Add("Authorization", "Bearer first")
	h.Add("Authorization", "Bearer second")

	if rc := ResolveHeaders(h); rc.Token != "first" {
		t.Errorf("Token = %q, want first value", rc.Token)
	}
}

func TestResolveBearer(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"tok-raw", "tok-raw"},
		{"  tok-padded  ", "tok-padded"},
		{"", ""},
	}
	for _, tt := range tests {
		if rc := ResolveBearer(tt.input); rc.Token != tt.want {
			t.Errorf("ResolveBearer(%q).Token = %q, want %q", tt.input, rc.Token, tt.want)
		}
	}
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"Bearer abc", "abc"},
		{"bearer abc", "abc"},
		{"BEARER abc", "abc"},
		{"Bearer   abc  ", "abc"},
		{"abc", "abc"}, // scheme-less values pass through
		{"", ""},
		{"Bearer ", "Bearer"}, // malformed; treated as a raw value
	}
	for _, tt := range tests {
		if got := bearerToken(tt.input); got != tt.want {
			t.Errorf("bearerToken(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}
