// RelayDesk - Multi-Tenant Customer Messaging Backend
// Copyright 2026 RelayDesk Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/relaydesk/relaydesk

package auth

import (
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/relaydesk/relaydesk/internal/logging"
)

//nolint:gochecknoinits // init ensures consistent logging for tests
func init() {
	logging.Init(logging.Config{Level: "error", Format: "json", Output: io.Discard})
}

const testSecret = "0123456789abcdef0123456789abcdef"

func newTestManager(t *testing.T) *JWTManager {
	t.Helper()
	m, err := NewJWTManager(testSecret, time.Hour)
	if err != nil {
		t.Fatalf("NewJWTManager: %v", err)
	}
	return m
}

func TestNewJWTManagerRejectsEmptySecret(t *testing.T) {
	if _, err := NewJWTManager("", time.Hour); err == nil {
		t.Fatal("expected error for empty secret")
	}
}

func TestGenerateAndValidateToken(t *testing.T) {
	m := newTestManager(t)

	token, err := m.GenerateToken("tenant-a", "user-1")
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	claims, err := m.ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if claims.TenantID != "tenant-a" {
		t.Errorf("TenantID = %q, want tenant-a", claims.TenantID)
	}
	if claims.UserID != "user-1" {
		t.Errorf("UserID = %q, want user-1", claims.UserID)
	}
}

func TestValidateTokenRejectsMissingTenantScope(t *testing.T) {
	m := newTestManager(t)

	// A signature-valid token without a tenant claim is still unusable.
	token, err := m.GenerateToken("", "user-1")
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	_, err = m.ValidateToken(token)
	if !errors.Is(err, ErrNoTenantScope) {
		t.Fatalf("expected ErrNoTenantScope, got %v", err)
	}
}

func TestValidateTokenRejectsTampered(t *testing.T) {
	m := newTestManager(t)

	token, err := m.GenerateToken("tenant-a", "")
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	tampered := token[:len(token)-2] + "xx"
	if _, err := m.ValidateToken(tampered); err == nil {
		t.Fatal("tampered token accepted")
	}
}

func TestValidateTokenRejectsWrongSecret(t *testing.T) {
	m := newTestManager(t)
	other, _ := NewJWTManager(strings.Repeat("x", 32), time.Hour)

	token, _ := other.GenerateToken("tenant-a", "")
	if _, err := m.ValidateToken(token); err == nil {
		t.Fatal("token signed with a different secret accepted")
	}
}

func TestValidateTokenRejectsExpired(t *testing.T) {
	m := newTestManager(t)

	claims := &Claims{
		TenantID: "tenant-a",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now().Add(-2 * time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	if _, err := m.ValidateToken(token); err == nil {
		t.Fatal("expired token accepted")
	}
}

func TestValidateTokenRejectsAlgorithmConfusion(t *testing.T) {
	m := newTestManager(t)

	// alg=none must never validate.
	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{TenantID: "tenant-a"}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	if _, err := m.ValidateToken(token); err == nil {
		t.Fatal("unsigned token accepted")
	}
}

func TestValidateTokenRejectsGarbage(t *testing.T) {
	m := newTestManager(t)

	for _, input := range []string{"", "not-a-token", "a.b.c", strings.Repeat("x", 4096)} {
		if _, err := m.ValidateToken(input); err == nil {
			t.Errorf("garbage input %q accepted", input)
		}
	}
}
