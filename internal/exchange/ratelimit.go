// ratelimit.go implements token-bucket rate limiting for the spot REST APIs.
//
// Both venues publish request-weight limits per minute. The buckets refill
// continuously (rather than in one-minute bursts) so a busy scheduler tick
// never slams into a hard limit.
//
// Three buckets are maintained:
//   - Public:  public market data (exchange info, tickers)
//   - Account: signed account reads
//   - Order:   signed order placement
package exchange

import (
	"context"
	"sync"
	"time"
)

// TokenBucket implements a token-bucket rate limiter with continuous refill.
// Callers block in Wait() until a token is available or the context is cancelled.
type TokenBucket struct {
	mu       sync.Mutex
	tokens   float64   // current available tokens (fractional allowed)
	capacity float64   // maximum burst size
	rate     float64   // tokens refilled per second
	lastTime time.Time // last time tokens were calculated
}

// NewTokenBucket creates a rate limiter with the given capacity and refill rate.
func NewTokenBucket(capacity, ratePerSecond float64) *TokenBucket {
	return &TokenBucket{
		tokens:   capacity,
		capacity: capacity,
		rate:     ratePerSecond,
		lastTime: time.Now(),
	}
}

// Wait blocks until a token is available or ctx is cancelled.
func (tb *TokenBucket) Wait(ctx context.Context) error {
	for {
		tb.mu.Lock()
		now := time.Now()
		elapsed := now.Sub(tb.lastTime).Seconds()
		tb.tokens += elapsed * tb.rate
		if tb.tokens > tb.capacity {
			tb.tokens = tb.capacity
		}
		tb.lastTime = now

		if tb.tokens >= 1 {
			tb.tokens--
			tb.mu.Unlock()
			return nil
		}

		wait := time.Duration((1 - tb.tokens) / tb.rate * float64(time.Second))
		tb.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
			// retry
		}
	}
}

// RateLimiter groups token buckets by endpoint category. Each request must
// call the appropriate bucket's Wait() before hitting the wire.
type RateLimiter struct {
	Public  *TokenBucket // unsigned market-data reads
	Account *TokenBucket // signed account reads
	Order   *TokenBucket // signed order placement
}

// NewRateLimiter creates rate limiters tuned well inside the venues'
// published request-weight budgets.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		Public:  NewTokenBucket(60, 10),
		Account: NewTokenBucket(30, 5),
		Order:   NewTokenBucket(20, 5),
	}
}
