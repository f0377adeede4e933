// RelayDesk - Multi-Tenant Customer Messaging Backend
// Copyright 2026 RelayDesk Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/relaydesk/relaydesk

package ratelimit

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/relaydesk/relaydesk/internal/logging"
)

//nolint:gochecknoinits // init ensures consistent logging for tests
func init() {
	logging.Init(logging.Config{Level: "error", Format: "json", Output: io.Discard})
}

func newTestLimiter(t *testing.T, points int, window time.Duration) (*Limiter, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return New(rdb, points, window), mr
}

func TestAllowWithinBudget(t *testing.T) {
	limiter, _ := newTestLimiter(t, 3, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		d := limiter.Allow(ctx, "tenant-a")
		if !d.Allowed {
			t.Fatalf("request %d should be admitted", i+1)
		}
		if want := 3 - (i + 1); d.Remaining != want {
			t.Errorf("request %d remaining = %d, want %d", i+1, d.Remaining, want)
		}
	}
}

func TestRejectOverBudget(t *testing.T) {
	limiter, _ := newTestLimiter(t, 100, time.Minute)
	ctx := context.Background()

	// Consume exactly the configured budget.
	for i := 0; i < 100; i++ {
		if d := limiter.Allow(ctx, "tenant-a"); !d.Allowed {
			t.Fatalf("request %d within budget rejected", i+1)
		}
	}

	// The 101st request within the same window is rejected with a hint.
	d := limiter.Allow(ctx, "tenant-a")
	if d.Allowed {
		t.Fatal("request over budget was admitted")
	}
	if d.RetryAfter <= 0 {
		t.Errorf("RetryAfter = %v, want positive hint", d.RetryAfter)
	}
}

func TestWindowReset(t *testing.T) {
	limiter, mr := newTestLimiter(t, 2, time.Minute)
	ctx := context.Background()

	limiter.Allow(ctx, "tenant-a")
	limiter.Allow(ctx, "tenant-a")
	if d := limiter.Allow(ctx, "tenant-a"); d.Allowed {
		t.Fatal("third request should be rejected")
	}

	// After the window elapses the counter expires and a new request is
	// admitted.
	mr.FastForward(61 * time.Second)

	if d := limiter.Allow(ctx, "tenant-a"); !d.Allowed {
		t.Fatal("request after window reset should be admitted")
	}
}

func TestTenantsCountedIndependently(t *testing.T) {
	limiter, _ := newTestLimiter(t, 1, time.Minute)
	ctx := context.Background()

	if d := limiter.Allow(ctx, "tenant-a"); !d.Allowed {
		t.Fatal("tenant-a first request rejected")
	}
	if d := limiter.Allow(ctx, "tenant-a"); d.Allowed {
		t.Fatal("tenant-a second request admitted over budget")
	}
	if d := limiter.Allow(ctx, "tenant-b"); !d.Allowed {
		t.Fatal("tenant-b must not be affected by tenant-a's quota")
	}
}

func TestFailOpenWhenStoreUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	limiter := New(rdb, 1, time.Minute)

	// Kill the store; the limiter must admit rather than reject.
	mr.Close()

	d := limiter.Allow(context.Background(), "tenant-a")
	if !d.Allowed {
		t.Fatal("limiter must fail open when the counter store is unreachable")
	}
}
