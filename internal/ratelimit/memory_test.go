package ratelimit

import (
	"context"
	"strconv"
	"testing"
	"time"
)

func TestMemoryLimiterFixedWindow(t *testing.T) {
	limiter := NewMemoryLimiter()
	now := time.Unix(1000, 0)

	for i := 0; i < 3; i++ {
		res, errAllow := limiter.Allow(context.Background(), "1.2.3.4", 3, now)
		if errAllow != nil {
			t.Fatalf("allow: %v", errAllow)
		}
		if !res.Allowed {
			t.Fatalf("request %d should be allowed", i)
		}
	}

	res, errAllow := limiter.Allow(context.Background(), "1.2.3.4", 3, now)
	if errAllow != nil {
		t.Fatalf("allow: %v", errAllow)
	}
	if res.Allowed {
		t.Fatalf("fourth request in the window should be rejected")
	}

	next, errNext := limiter.Allow(context.Background(), "1.2.3.4", 3, now.Add(time.Second))
	if errNext != nil {
		t.Fatalf("allow: %v", errNext)
	}
	if !next.Allowed {
		t.Fatalf("next window should admit again")
	}
}

func TestMemoryLimiterKeysAreIndependent(t *testing.T) {
	limiter := NewMemoryLimiter()
	now := time.Unix(1000, 0)

	if res, _ := limiter.Allow(context.Background(), "a", 1, now); !res.Allowed {
		t.Fatalf("first key should be allowed")
	}
	if res, _ := limiter.Allow(context.Background(), "a", 1, now); res.Allowed {
		t.Fatalf("first key should now be limited")
	}
	if res, _ := limiter.Allow(context.Background(), "b", 1, now); !res.Allowed {
		t.Fatalf("second key must not share the first key's window")
	}
}

func TestMemoryLimiterZeroLimitAllows(t *testing.T) {
	limiter := NewMemoryLimiter()
	if res, _ := limiter.Allow(context.Background(), "a", 0, time.Now()); !res.Allowed {
		t.Fatalf("zero limit disables limiting")
	}
}

func TestMemoryLimiterEvictsStaleKeys(t *testing.T) {
	limiter := NewMemoryLimiter()
	start := time.Unix(1000, 0)

	for i := 0; i < 50; i++ {
		key := "10.0.0." + strconv.Itoa(i)
		if _, errAllow := limiter.Allow(context.Background(), key, 5, start); errAllow != nil {
			t.Fatalf("allow: %v", errAllow)
		}
	}
	if got := limiter.size(); got != 50 {
		t.Fatalf("expected 50 tracked keys, got %d", got)
	}

	// Once the sweep interval passes, the next check drops every window
	// that ended before it.
	later := start.Add((memorySweepInterval + 1) * time.Second)
	if _, errAllow := limiter.Allow(context.Background(), "fresh", 5, later); errAllow != nil {
		t.Fatalf("allow: %v", errAllow)
	}
	if got := limiter.size(); got != 1 {
		t.Fatalf("expected stale keys evicted, got %d tracked", got)
	}
}

func TestResultRetryAfterSeconds(t *testing.T) {
	now := time.Unix(1000, 0)
	res := Result{Reset: now.Add(5 * time.Second)}
	if got := res.RetryAfterSeconds(now); got != 5 {
		t.Fatalf("expected 5 seconds, got %d", got)
	}
	past := Result{Reset: now.Add(-time.Second)}
	if got := past.RetryAfterSeconds(now); got != 1 {
		t.Fatalf("expected floor of 1 second, got %d", got)
	}
}
