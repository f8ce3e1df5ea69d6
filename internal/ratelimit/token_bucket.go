// Package ratelimit provides a deterministic token bucket used to bound the
// rate of inbound signaling messages per peer.
package ratelimit

import (
	"sync"
	"time"
)

// TokenBucket refills at an integer rate (tokens/sec) using a provided Clock.
// Token fractions are tracked in nanotokens (1 token = 1e9 nanotokens) so
// refill math stays exact without floats.
type TokenBucket struct {
	mu sync.Mutex

	clock    Clock
	capacity int64 // nanotokens
	rate     int64 // tokens/sec == nanotokens/ns

	available int64 // nanotokens
	last      time.Time
}

const nanotokens int64 = int64(time.Second)

// NewTokenBucket returns a bucket that starts full. A nil clock uses real
// time.
func NewTokenBucket(clock Clock, capacityTokens, fillRate int64) *TokenBucket {
	if clock == nil {
		clock = RealClock{}
	}
	if capacityTokens < 0 {
		capacityTokens = 0
	}
	if fillRate < 0 {
		fillRate = 0
	}
	cap := saturatingNano(capacityTokens)
	return &TokenBucket{
		clock:     clock,
		capacity:  cap,
		rate:      fillRate,
		available: cap,
		last:      clock.Now(),
	}
}

// Allow consumes tokens if available. tokens <= 0 always succeeds.
func (b *TokenBucket) Allow(tokens int64) bool {
	if tokens <= 0 {
		return true
	}
	cost := saturatingNano(tokens)

	b.mu.Lock()
	defer b.mu.Unlock()

	b.refillLocked()
	if b.available < cost {
		return false
	}
	b.available -= cost
	return true
}

func (b *TokenBucket) refillLocked() {
	now := b.clock.Now()
	if !now.After(b.last) {
		// Clock stalled or went backwards; don't refill, just re-anchor.
		b.last = now
		return
	}
	elapsed := now.Sub(b.last).Nanoseconds()
	b.last = now

	if b.rate <= 0 || b.available >= b.capacity {
		return
	}
	need := b.capacity - b.available
	// elapsed*rate can overflow; if elapsed alone is enough to fill, clamp.
	if fill := need / b.rate; fill <= 0 || elapsed >= fill {
		b.available = b.capacity
		return
	}
	b.available += elapsed * b.rate
	if b.available > b.capacity {
		b.available = b.capacity
	}
}

func saturatingNano(tokens int64) int64 {
	const maxInt64 = int64(^uint64(0) >> 1)
	if tokens <= 0 {
		return 0
	}
	if tokens > maxInt64/nanotokens {
		return maxInt64
	}
	return tokens * nanotokens
}
