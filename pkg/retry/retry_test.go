package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_ExhaustsAfterMaxAttempts(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	policy := Policy{MaxAttempts: 4, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond}

	err := Run(context.Background(), policy, func(context.Context, int) error {
		calls++
		return boom
	})

	require.True(t, IsExhausted(err))
	assert.Equal(t, 4, calls)
	assert.ErrorIs(t, err, boom)
}

func TestRun_StopsOnNonRetryable(t *testing.T) {
	terminal := errors.New("terminal")
	calls := 0
	policy := Policy{
		MaxAttempts:  5,
		InitialDelay: time.Millisecond,
		Retryable:    func(err error) bool { return !errors.Is(err, terminal) },
	}

	err := Run(context.Background(), policy, func(context.Context, int) error {
		calls++
		return terminal
	})

	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, err, terminal)
	assert.False(t, IsExhausted(err))
}

func TestRun_SucceedsBeforeExhaustion(t *testing.T) {
	calls := 0
	policy := Policy{MaxAttempts: 5, InitialDelay: time.Millisecond}

	err := Run(context.Background(), policy, func(context.Context, int) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDelay_ExponentialAndCapped(t *testing.T) {
	p := Policy{InitialDelay: 100 * time.Millisecond, MaxDelay: time.Second, ExponentialBase: 2, Jitter: JitterNone}
	assert.Equal(t, 100*time.Millisecond, p.Delay(0))
	assert.Equal(t, 200*time.Millisecond, p.Delay(1))
	assert.Equal(t, 400*time.Millisecond, p.Delay(2))
	assert.Equal(t, time.Second, p.Delay(10)) // capped
}

func TestDelay_FullJitterBounded(t *testing.T) {
	p := Policy{InitialDelay: 100 * time.Millisecond, MaxDelay: time.Second, ExponentialBase: 2, Jitter: JitterFull}
	p = p.WithRNG(func() float64 { return 1.0 })
	assert.Equal(t, 200*time.Millisecond, p.Delay(1))

	p = p.WithRNG(func() float64 { return 0.0 })
	assert.Equal(t, time.Duration(0), p.Delay(1))
}

func TestRun_CancelledContextAbortsSleep(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	policy := Policy{MaxAttempts: 5, InitialDelay: time.Hour}

	calls := 0
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := Run(ctx, policy, func(context.Context, int) error {
		calls++
		return errors.New("retry me")
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}
