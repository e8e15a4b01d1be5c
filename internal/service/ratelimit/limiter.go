package ratelimit

import (
	"sync"
	"time"
)

// buckets older than this are swept to keep the map bounded under a
// churn of one-off client addresses.
const idleExpiry = 10 * time.Minute

type bucket struct {
	tokens     float64
	capacity   float64
	refillRate float64 // tokens per second
	last       time.Time
}

// Limiter is a per-key token bucket used to shield the prediction
// endpoints from a single noisy client.
type Limiter struct {
	mu        sync.Mutex
	buckets   map[string]*bucket
	lastSweep time.Time
}

func New() *Limiter {
	return &Limiter{buckets: make(map[string]*bucket), lastSweep: time.Now()}
}

// Allow consumes one token for key, creating a full bucket on first
// sight. Capacity and refill rate are passed per call so different
// endpoints can share one limiter with different budgets.
func (l *Limiter) Allow(key string, capacity, refillPerSec float64) bool {
	now := time.Now()
	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastSweep) > idleExpiry {
		l.sweep(now)
	}

	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{tokens: capacity, capacity: capacity, refillRate: refillPerSec, last: now}
		l.buckets[key] = b
	}

	if elapsed := now.Sub(b.last).Seconds(); elapsed > 0 {
		b.tokens += elapsed * b.refillRate
		if b.tokens > b.capacity {
			b.tokens = b.capacity
		}
		b.last = now
	}

	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// sweep drops buckets idle past expiry. Caller holds the lock.
func (l *Limiter) sweep(now time.Time) {
	for key, b := range l.buckets {
		if now.Sub(b.last) > idleExpiry {
			delete(l.buckets, key)
		}
	}
	l.lastSweep = now
}
