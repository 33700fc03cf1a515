// Package ratelimit implements a token-bucket request limiter used to pace
// outbound calls through a protocol adapter.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter paces callers with a token bucket. Tokens refill lazily on each
// Acquire call based on elapsed wall-clock time, clamped to Burst.
type Limiter struct {
	mu         sync.Mutex
	tokens     float64
	rate       float64 // tokens per second
	burst      float64
	lastRefill time.Time
	clock      func() time.Time
}

// New creates a Limiter with the given sustained rate (tokens/sec) and burst
// capacity. The bucket starts full.
func New(ratePerSec float64, burst int) *Limiter {
	return &Limiter{
		tokens:     float64(burst),
		rate:       ratePerSec,
		burst:      float64(burst),
		lastRefill: time.Now(),
		clock:      time.Now,
	}
}

// WithClock overrides the clock source, for deterministic tests.
func (l *Limiter) WithClock(clock func() time.Time) *Limiter {
	l.clock = clock
	return l
}

func (l *Limiter) refillLocked() {
	now := l.clock()
	elapsed := now.Sub(l.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	l.tokens += elapsed * l.rate
	if l.tokens > l.burst {
		l.tokens = l.burst
	}
	l.lastRefill = now
}

// Acquire blocks, cooperatively, until a single token is available, then
// consumes it. It returns ctx.Err() if the context is cancelled before a
// token becomes available.
func (l *Limiter) Acquire(ctx context.Context) error {
	for {
		l.mu.Lock()
		l.refillLocked()
		if l.tokens >= 1 {
			l.tokens--
			l.mu.Unlock()
			return nil
		}
		// tokens needed to reach 1.0, converted to a wait duration.
		deficit := 1 - l.tokens
		wait := time.Duration(deficit/l.rate*float64(time.Second)) + time.Millisecond
		l.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// TryAcquire attempts a non-blocking acquire; returns false if no token is
// currently available.
func (l *Limiter) TryAcquire() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refillLocked()
	if l.tokens >= 1 {
		l.tokens--
		return true
	}
	return false
}

// Available reports the current token count, for metrics.
func (l *Limiter) Available() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refillLocked()
	return l.tokens
}
