// Package adapter implements the uniform protocol-adapter contract:
// discover/capabilities/validate/invoke/stream/health, with every
// invocation guarded by a RateLimiter, CircuitBreaker, and RetryPolicy
// composed per adapter instance.
package adapter

import (
	"context"
	"errors"
	"time"

	"github.com/brevanhowe/govern-core/pkg/breaker"
	"github.com/brevanhowe/govern-core/pkg/model"
	"github.com/brevanhowe/govern-core/pkg/ratelimit"
	"github.com/brevanhowe/govern-core/pkg/retry"
)

// Error kinds returned by the adapter contract's operations.
var (
	ErrDiscovery  = errors.New("adapter: discovery failed")
	ErrValidation = errors.New("adapter: validation failed")
	ErrInvocation = errors.New("adapter: invocation failed")
	ErrConnection = errors.New("adapter: connection failed")
	ErrTimeout    = errors.New("adapter: timed out")
	ErrStreaming  = errors.New("adapter: streaming failed")
)

// StreamChunk is one unit of a finite, non-restartable stream.
type StreamChunk struct {
	Data  []byte
	Err   error // set on the final chunk if the stream ended in error
	Final bool
}

// Adapter is the fixed contract every protocol implementation exposes.
type Adapter interface {
	Discover(ctx context.Context, config map[string]any) ([]model.Resource, error)
	Capabilities(ctx context.Context, resource model.Resource) ([]model.Capability, error)
	Validate(ctx context.Context, req model.InvocationRequest) error
	Invoke(ctx context.Context, req model.InvocationRequest) model.InvocationResult
	Stream(ctx context.Context, req model.InvocationRequest) (<-chan StreamChunk, error)
	Health(ctx context.Context, resource model.Resource) bool

	OnResourceRegistered(ctx context.Context, resource model.Resource) error
	OnResourceUnregistered(ctx context.Context, resource model.Resource) error
}

// Guard bundles the resilience primitives every adapter composes by
// embedding rather than inheriting.
type Guard struct {
	Limiter *ratelimit.Limiter
	Breaker *breaker.Breaker
	Retry   retry.Policy
}

// NewGuard builds the default guard for one adapter instance: the
// CircuitBreaker and RateLimiter are owned 1:1 by the enclosing adapter.
func NewGuard(ratePerSec float64, burst int, breakerCfg breaker.Config, retryPolicy retry.Policy) *Guard {
	return &Guard{
		Limiter: ratelimit.New(ratePerSec, burst),
		Breaker: breaker.New(breakerCfg),
		Retry:   retryPolicy,
	}
}

// Run executes send (the protocol-specific call) through the full
// rate-limiter -> circuit-breaker -> retry-policy pipeline and converts the
// outcome into an InvocationResult, never letting an error escape.
func (g *Guard) Run(ctx context.Context, timeout time.Duration, send func(ctx context.Context) (any, error)) model.InvocationResult {
	start := time.Now()

	if err := g.Limiter.Acquire(ctx); err != nil {
		return failureResult(start, err, "RateLimitCancelled")
	}

	callCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var result any
	breakerErr := g.Breaker.Call(callCtx, func(ctx context.Context) error {
		return retry.Run(ctx, g.Retry, func(ctx context.Context, _ int) error {
			r, err := send(ctx)
			if err != nil {
				return err
			}
			result = r
			return nil
		})
	})

	if breakerErr != nil {
		return failureResult(start, breakerErr, classifyError(breakerErr))
	}

	return model.InvocationResult{
		Success:    true,
		Result:     result,
		DurationMS: time.Since(start).Milliseconds(),
	}
}

func failureResult(start time.Time, err error, errType string) model.InvocationResult {
	return model.InvocationResult{
		Success:    false,
		Error:      err.Error(),
		ErrorType:  errType,
		DurationMS: time.Since(start).Milliseconds(),
	}
}

func classifyError(err error) string {
	switch {
	case errors.Is(err, breaker.ErrOpen), errors.Is(err, breaker.ErrHalfOpenSaturated):
		return "CircuitOpen"
	case retry.IsExhausted(err):
		return "RetryExhausted"
	case errors.Is(err, context.DeadlineExceeded):
		return "Timeout"
	case errors.Is(err, context.Canceled):
		return "Cancelled"
	default:
		return "ConnectionError"
	}
}
