// Package ratelimit provides the token bucket shared by all workers for
// LLM-backed check evaluation. It is the only mutable state shared across
// batch workers and is safe under concurrent use.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Bucket is a token bucket limiter. Tokens refill at a constant rate up to
// the capacity; each LLM call consumes one token.
type Bucket struct {
	mu         sync.Mutex
	capacity   int64
	tokens     int64
	refillRate float64 // tokens per second
	lastRefill time.Time
}

// NewBucket creates a bucket holding capacity tokens that refills at
// refillRate tokens per second. The bucket starts full.
func NewBucket(capacity int64, refillRate float64) *Bucket {
	return &Bucket{
		capacity:   capacity,
		tokens:     capacity,
		refillRate: refillRate,
		lastRefill: time.Now(),
	}
}

// TryTake consumes one token if available.
func (b *Bucket) TryTake() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked()
	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}

// Wait blocks until a token is available or ctx is done.
func (b *Bucket) Wait(ctx context.Context) error {
	for {
		b.mu.Lock()
		b.refillLocked()
		if b.tokens >= 1 {
			b.tokens--
			b.mu.Unlock()
			return nil
		}
		need := 1 - b.tokens
		delay := time.Duration(float64(need) / b.refillRate * float64(time.Second))
		b.mu.Unlock()

		if delay < time.Millisecond {
			delay = time.Millisecond
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

// Remaining returns the currently available tokens after refill.
func (b *Bucket) Remaining() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked()
	return b.tokens
}

// refillLocked adds tokens for the elapsed time. Caller holds the lock.
func (b *Bucket) refillLocked() {
	now := time.Now()
	elapsed := now.Sub(b.lastRefill)
	add := int64(elapsed.Seconds() * b.refillRate)
	if add > 0 {
		b.tokens += add
		if b.tokens > b.capacity {
			b.tokens = b.capacity
		}
		b.lastRefill = now
	}
}
