package breaker

import (
	"context"
	"errors"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestBreakerProperty_OpensExactlyAtThreshold checks, for arbitrary
// thresholds, that the breaker is CLOSED for every call before the
// threshold is reached and OPEN on and after it.
func TestBreakerProperty_OpensExactlyAtThreshold(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	properties := gopter.NewProperties(parameters)

	properties.Property("failure_count consecutive failures trips exactly at threshold", prop.ForAll(
		func(threshold int) bool {
			b := New(Config{FailureThreshold: threshold})
			boom := errors.New("boom")

			for i := 1; i < threshold; i++ {
				_ = b.Call(context.Background(), func(context.Context) error { return boom })
				if b.State() != Closed {
					return false
				}
			}
			_ = b.Call(context.Background(), func(context.Context) error { return boom })
			return b.State() == Open
		},
		gen.IntRange(1, 20),
	))

	properties.TestingRun(t)
}
