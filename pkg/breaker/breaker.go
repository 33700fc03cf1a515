// Package breaker implements a three-state circuit breaker used by every
// protocol adapter to fast-fail against a misbehaving backend.
package breaker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// State is one of the three breaker states. Kept as a string, matching the
// teacher's convention, rather than an iota, so metrics/logs print directly.
type State string

const (
	Closed   State = "CLOSED"
	Open     State = "OPEN"
	HalfOpen State = "HALF_OPEN"
)

// ErrOpen is returned by Call when the breaker is fast-failing.
var ErrOpen = errors.New("circuit breaker: open")

// ErrHalfOpenSaturated is returned when HALF_OPEN concurrency is exhausted.
var ErrHalfOpenSaturated = errors.New("circuit breaker: half-open probe limit reached")

// Config parameterizes a Breaker.
type Config struct {
	Name                    string
	FailureThreshold        int           // consecutive failures in CLOSED before tripping OPEN
	RecoveryTimeout         time.Duration // OPEN duration before a HALF_OPEN probe is allowed
	HalfOpenMaxConcurrent   int           // concurrent probes allowed while HALF_OPEN
	SuccessThresholdToClose int           // consecutive HALF_OPEN successes required to close
}

func (c *Config) withDefaults() Config {
	cfg := *c
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = 60 * time.Second
	}
	if cfg.HalfOpenMaxConcurrent <= 0 {
		cfg.HalfOpenMaxConcurrent = 1
	}
	if cfg.SuccessThresholdToClose <= 0 {
		cfg.SuccessThresholdToClose = 1
	}
	return cfg
}

// Metrics is a point-in-time snapshot of breaker state.
type Metrics struct {
	State        State
	FailureCount int
	TotalCalls   uint64
	StateChanges uint64
}

// Breaker is a mutex-serialized state machine; in-flight/total counters are
// atomic so Metrics() never blocks a live Call.
type Breaker struct {
	cfg Config

	mu                 sync.Mutex
	state              State
	failureCount       int
	consecutiveSuccess int
	lastFailureAt      time.Time
	halfOpenInFlight   int

	totalCalls   atomic.Uint64
	stateChanges atomic.Uint64

	clock func() time.Time
}

// New creates a Breaker in the CLOSED state.
func New(cfg Config) *Breaker {
	return &Breaker{
		cfg:   cfg.withDefaults(),
		state: Closed,
		clock: time.Now,
	}
}

// WithClock overrides the clock, for deterministic tests.
func (b *Breaker) WithClock(clock func() time.Time) *Breaker {
	b.clock = clock
	return b
}

// allow decides whether a call may proceed, transitioning OPEN->HALF_OPEN
// when the recovery timeout has elapsed. Must be called with mu held.
func (b *Breaker) allowLocked() error {
	now := b.clock()
	switch b.state {
	case Open:
		if now.Sub(b.lastFailureAt) >= b.cfg.RecoveryTimeout {
			b.transitionLocked(HalfOpen)
			b.halfOpenInFlight = 0
		} else {
			return ErrOpen
		}
	}

	if b.state == HalfOpen {
		if b.halfOpenInFlight >= b.cfg.HalfOpenMaxConcurrent {
			return ErrHalfOpenSaturated
		}
		b.halfOpenInFlight++
	}
	return nil
}

func (b *Breaker) transitionLocked(to State) {
	if b.state != to {
		b.state = to
		b.stateChanges.Add(1)
	}
}

// onSuccess records a successful call outcome.
func (b *Breaker) onSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case HalfOpen:
		b.halfOpenInFlight--
		b.consecutiveSuccess++
		if b.consecutiveSuccess >= b.cfg.SuccessThresholdToClose {
			b.transitionLocked(Closed)
			b.failureCount = 0
			b.consecutiveSuccess = 0
		}
	case Closed:
		b.failureCount = 0
	}
}

// onFailure records a failed call outcome.
func (b *Breaker) onFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failureCount++
	b.lastFailureAt = b.clock()

	switch b.state {
	case HalfOpen:
		b.halfOpenInFlight--
		b.consecutiveSuccess = 0
		b.transitionLocked(Open)
	case Closed:
		if b.failureCount >= b.cfg.FailureThreshold {
			b.transitionLocked(Open)
		}
	}
}

// Call executes fn under the breaker's protection. fn's own error becomes a
// counted failure; ctx cancellation is propagated but not counted against
// the breaker (the caller gave up, the backend did not fail).
func (b *Breaker) Call(ctx context.Context, fn func(ctx context.Context) error) error {
	b.totalCalls.Add(1)

	b.mu.Lock()
	err := b.allowLocked()
	b.mu.Unlock()
	if err != nil {
		return err
	}

	err = fn(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			// Caller-side cancellation: release the half-open slot without
			// counting it as a backend failure.
			b.mu.Lock()
			if b.state == HalfOpen {
				b.halfOpenInFlight--
			}
			b.mu.Unlock()
			return err
		}
		b.onFailure()
		return err
	}
	b.onSuccess()
	return nil
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Metrics returns a snapshot for observability export.
func (b *Breaker) Metrics() Metrics {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Metrics{
		State:        b.state,
		FailureCount: b.failureCount,
		TotalCalls:   b.totalCalls.Load(),
		StateChanges: b.stateChanges.Load(),
	}
}
