package security

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/time/rate"
)

// RateLimiter throttles callers by key, typically an agent id. A shared
// limiter caps the aggregate rate across all keys.
type RateLimiter struct {
	global  *rate.Limiter
	clients map[string]*rate.Limiter
	mu      sync.Mutex

	perSecond rate.Limit
	burst     int
}

// NewRateLimiter allows each key perSecond events with the given burst.
// The aggregate limit is globalFactor times the per-key limit; a factor
// below 1 disables the aggregate cap.
func NewRateLimiter(perSecond float64, burst int, globalFactor float64) *RateLimiter {
	rl := &RateLimiter{
		clients:   make(map[string]*rate.Limiter),
		perSecond: rate.Limit(perSecond),
		burst:     burst,
	}
	if globalFactor >= 1 {
		rl.global = rate.NewLimiter(rate.Limit(perSecond*globalFactor), int(float64(burst)*globalFactor))
	}
	return rl
}

// Allow reports whether key may act now, consuming a token if so.
func (rl *RateLimiter) Allow(key string) bool {
	if !rl.limiter(key).Allow() {
		return false
	}
	return rl.global == nil || rl.global.Allow()
}

// Wait blocks until key may act or ctx ends.
func (rl *RateLimiter) Wait(ctx context.Context, key string) error {
	if err := rl.limiter(key).Wait(ctx); err != nil {
		return fmt.Errorf("rate limit for %s: %w", key, err)
	}
	if rl.global != nil {
		if err := rl.global.Wait(ctx); err != nil {
			return fmt.Errorf("global rate limit: %w", err)
		}
	}
	return nil
}

// Forget drops the limiter state for key.
func (rl *RateLimiter) Forget(key string) {
	rl.mu.Lock()
	delete(rl.clients, key)
	rl.mu.Unlock()
}

// Len returns the number of tracked keys.
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}

func (rl *RateLimiter) limiter(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	l, ok := rl.clients[key]
	if !ok {
		l = rate.NewLimiter(rl.perSecond, rl.burst)
		rl.clients[key] = l
	}
	return l
}
