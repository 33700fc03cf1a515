package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestRetryProperty_AttemptCountMatchesMaxAttempts checks spec's invariant:
// for a deterministic always-failing f, the number of invocations equals
// max_attempts.
func TestRetryProperty_AttemptCountMatchesMaxAttempts(t *testing.T) {
	properties := gopter.NewProperties(gopter.DefaultTestParameters())

	properties.Property("invocation count equals max attempts", prop.ForAll(
		func(maxAttempts int) bool {
			calls := 0
			policy := Policy{MaxAttempts: maxAttempts, InitialDelay: time.Microsecond, MaxDelay: time.Microsecond}
			err := Run(context.Background(), policy, func(context.Context, int) error {
				calls++
				return errors.New("always fails")
			})
			return calls == maxAttempts && IsExhausted(err)
		},
		gen.IntRange(1, 10),
	))

	properties.TestingRun(t)
}
