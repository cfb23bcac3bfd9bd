package security

import (
	"context"
	"testing"
	"time"
)

func TestRateLimiter_BasicEnforcement(t *testing.T) {
	limiter := NewRateLimiter(2.0, 2, 0)

	if !limiter.Allow("scout-1") {
		t.Error("first request should be allowed")
	}
	if !limiter.Allow("scout-1") {
		t.Error("second request should be allowed")
	}
	if limiter.Allow("scout-1") {
		t.Error("third request should be rate limited")
	}
}

func TestRateLimiter_RateReset(t *testing.T) {
	limiter := NewRateLimiter(10.0, 1, 0)

	limiter.Allow("a")
	if limiter.Allow("a") {
		t.Error("request should be rate limited")
	}

	time.Sleep(150 * time.Millisecond)

	if !limiter.Allow("a") {
		t.Error("request should be allowed after waiting")
	}
}

func TestRateLimiter_KeysAreIndependent(t *testing.T) {
	limiter := NewRateLimiter(1.0, 1, 0)

	if !limiter.Allow("a") || !limiter.Allow("b") {
		t.Fatal("each key should get its own burst")
	}
	if limiter.Allow("a") {
		t.Error("key a should be limited")
	}
	if limiter.Len() != 2 {
		t.Errorf("tracked keys = %d, want 2", limiter.Len())
	}

	limiter.Forget("a")
	if !limiter.Allow("a") {
		t.Error("forgotten key should start with a fresh burst")
	}
}

func TestRateLimiter_GlobalCap(t *testing.T) {
	// Per key: burst 2. Global: 1.5x, so burst 3 across all keys.
	limiter := NewRateLimiter(1.0, 2, 1.5)

	allowed := 0
	for _, key := range []string{"a", "a", "b", "b", "c", "c"} {
		if limiter.Allow(key) {
			allowed++
		}
	}
	if allowed != 3 {
		t.Errorf("allowed = %d, want 3", allowed)
	}
}

func TestRateLimiter_WaitHonorsContext(t *testing.T) {
	limiter := NewRateLimiter(0.1, 1, 0)
	limiter.Allow("a")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := limiter.Wait(ctx, "a"); err == nil {
		t.Fatal("expected wait to fail before the next token")
	}
}
