// Package ratelimiter throttles API calls with token buckets, one bucket
// per key (usually a session token).
package ratelimiter

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"
)

const (
	// DefaultMaxKeys bounds the number of buckets kept at once.
	DefaultMaxKeys = 10000

	// DefaultIdleTimeout is how long an unused bucket is kept.
	DefaultIdleTimeout = 10 * time.Minute

	unlimited = 1_000_000_000
)

// RateLimiter is a single token bucket.
//
// Tokens are added at requestsPerSecond; burst is the bucket capacity.
// All methods are safe for concurrent use.
type RateLimiter struct {
	limiter *rate.Limiter
}

// New creates a bucket. A zero requestsPerSecond disables limiting.
func New(requestsPerSecond, burst uint) *RateLimiter {
	if requestsPerSecond == 0 {
		// rate.Inf has edge cases with Wait, so use a large finite rate.
		requestsPerSecond = unlimited
		burst = requestsPerSecond
	}
	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), int(burst)),
	}
}

// Allow consumes a token if one is available and reports whether it did.
func (r *RateLimiter) Allow() bool {
	return r.limiter.Allow()
}

// Wait blocks until a token is available or ctx is done.
func (r *RateLimiter) Wait(ctx context.Context) error {
	return r.limiter.Wait(ctx)
}

// Tokens returns the number of tokens currently in the bucket.
func (r *RateLimiter) Tokens() float64 {
	return r.limiter.Tokens()
}

// Keyed keeps one bucket per key. Buckets unused for the idle timeout are
// dropped, and the least recently used bucket is dropped when maxKeys is
// reached, so a returning client starts with a full bucket.
type Keyed struct {
	requestsPerSecond uint
	burst             uint

	mu      sync.Mutex
	buckets *expirable.LRU[string, *RateLimiter]
}

// NewKeyed creates a keyed limiter. Zero maxKeys or idle select the
// defaults.
func NewKeyed(requestsPerSecond, burst uint, maxKeys int, idle time.Duration) *Keyed {
	if maxKeys <= 0 {
		maxKeys = DefaultMaxKeys
	}
	if idle <= 0 {
		idle = DefaultIdleTimeout
	}
	return &Keyed{
		requestsPerSecond: requestsPerSecond,
		burst:             burst,
		buckets:           expirable.NewLRU[string, *RateLimiter](maxKeys, nil, idle),
	}
}

func (k *Keyed) bucket(key string) *RateLimiter {
	k.mu.Lock()
	defer k.mu.Unlock()

	b, ok := k.buckets.Get(key)
	if !ok {
		b = New(k.requestsPerSecond, k.burst)
	}
	k.buckets.Add(key, b)
	return b
}

// Allow consumes a token from key's bucket if one is available.
func (k *Keyed) Allow(key string) bool {
	return k.bucket(key).Allow()
}

// Wait blocks until key's bucket has a token or ctx is done.
func (k *Keyed) Wait(ctx context.Context, key string) error {
	return k.bucket(key).Wait(ctx)
}

// Len returns the number of live buckets.
func (k *Keyed) Len() int {
	return k.buckets.Len()
}
