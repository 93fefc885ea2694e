package ratelimit

import (
	"sync"
	"time"
)

// Limiter defines the interface for rate limiting
type Limiter interface {
	// Allow checks if a request is allowed under the current rate limit
	Allow() bool
	// Wait blocks until the rate limit allows another request
	Wait()
	// Reset resets the rate limiter state
	Reset()
}

// TokenBucket implements a token bucket limiter refilled continuously
// at a fixed per-interval rate. API calls and media fetches share one
// bucket so the platform sees a single request stream.
type TokenBucket struct {
	capacity   int
	tokens     float64
	refillRate float64 // tokens per second
	lastRefill time.Time
	mu         sync.Mutex
}

// NewTokenBucket creates a limiter allowing ratePerInterval requests
// per interval, with bursts up to ratePerInterval
func NewTokenBucket(ratePerInterval int, interval time.Duration) *TokenBucket {
	if ratePerInterval < 1 {
		ratePerInterval = 1
	}
	return &TokenBucket{
		capacity:   ratePerInterval,
		tokens:     float64(ratePerInterval),
		refillRate: float64(ratePerInterval) / interval.Seconds(),
		lastRefill: time.Now(),
	}
}

// Allow checks if a request can proceed
func (tb *TokenBucket) Allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refill()

	if tb.tokens >= 1 {
		tb.tokens--
		return true
	}
	return false
}

// Wait blocks until a token is available
func (tb *TokenBucket) Wait() {
	for !tb.Allow() {
		tb.mu.Lock()
		deficit := 1 - tb.tokens
		sleep := time.Duration(deficit / tb.refillRate * float64(time.Second))
		tb.mu.Unlock()

		if sleep < 10*time.Millisecond {
			sleep = 10 * time.Millisecond
		}
		time.Sleep(sleep)
	}
}

// Reset refills the bucket to capacity
func (tb *TokenBucket) Reset() {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.tokens = float64(tb.capacity)
	tb.lastRefill = time.Now()
}

func (tb *TokenBucket) refill() {
	now := time.Now()
	elapsed := now.Sub(tb.lastRefill).Seconds()
	tb.lastRefill = now

	tb.tokens += elapsed * tb.refillRate
	if tb.tokens > float64(tb.capacity) {
		tb.tokens = float64(tb.capacity)
	}
}
