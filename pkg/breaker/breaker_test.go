package breaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBreaker_TripsAfterThreshold(t *testing.T) {
	b := New(Config{Name: "t", FailureThreshold: 5, RecoveryTimeout: time.Minute})
	boom := errors.New("boom")

	for i := 0; i < 5; i++ {
		err := b.Call(context.Background(), func(context.Context) error { return boom })
		require.ErrorIs(t, err, boom)
	}
	assert.Equal(t, Open, b.State())

	// The 6th call must fail fast without invoking the wrapped function.
	called := false
	err := b.Call(context.Background(), func(context.Context) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrOpen)
	assert.False(t, called)
}

func TestBreaker_HalfOpenRecovery(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }

	b := New(Config{
		Name:                    "t",
		FailureThreshold:        2,
		RecoveryTimeout:         10 * time.Second,
		SuccessThresholdToClose: 2,
		HalfOpenMaxConcurrent:   1,
	}).WithClock(clock)

	boom := errors.New("boom")
	for i := 0; i < 2; i++ {
		_ = b.Call(context.Background(), func(context.Context) error { return boom })
	}
	require.Equal(t, Open, b.State())

	// Not yet past recovery timeout.
	_ = b.Call(context.Background(), func(context.Context) error { return nil })
	require.Equal(t, Open, b.State())

	now = now.Add(11 * time.Second)

	// First probe after recovery: should transition to HALF_OPEN and execute.
	err := b.Call(context.Background(), func(context.Context) error { return nil })
	require.NoError(t, err)
	require.Equal(t, HalfOpen, b.State())

	// Second success closes the breaker.
	err = b.Call(context.Background(), func(context.Context) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, Closed, b.State())
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	b := New(Config{FailureThreshold: 1, RecoveryTimeout: time.Second, SuccessThresholdToClose: 1}).WithClock(clock)

	boom := errors.New("boom")
	_ = b.Call(context.Background(), func(context.Context) error { return boom })
	require.Equal(t, Open, b.State())

	now = now.Add(2 * time.Second)
	err := b.Call(context.Background(), func(context.Context) error { return boom })
	require.ErrorIs(t, err, boom)
	assert.Equal(t, Open, b.State())
}

func TestBreaker_HalfOpenConcurrencyLimit(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	b := New(Config{FailureThreshold: 1, RecoveryTimeout: time.Second, HalfOpenMaxConcurrent: 1}).WithClock(clock)

	_ = b.Call(context.Background(), func(context.Context) error { return errors.New("boom") })
	now = now.Add(2 * time.Second)

	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_ = b.Call(context.Background(), func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	err := b.Call(context.Background(), func(context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrHalfOpenSaturated)
	close(release)
}

func TestBreaker_CancellationNotCountedAsFailure(t *testing.T) {
	b := New(Config{FailureThreshold: 1})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := b.Call(ctx, func(context.Context) error { return context.Canceled })
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, Closed, b.State())
	assert.Equal(t, 0, b.Metrics().FailureCount)
}
