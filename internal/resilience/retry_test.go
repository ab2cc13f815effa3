package resilience

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func quick(attempts int) Policy {
	return Policy{Attempts: attempts, Base: time.Millisecond, Cap: 5 * time.Millisecond, Factor: 2}
}

func TestRun_FirstAttempt(t *testing.T) {
	var calls atomic.Int32
	err := Run(context.Background(), quick(3), func(context.Context) error {
		calls.Add(1)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestRun_RecoversFromThrottling(t *testing.T) {
	var calls atomic.Int32
	err := Run(context.Background(), quick(3), func(context.Context) error {
		if calls.Add(1) < 3 {
			return Retryable(errors.New("worldbank: 429"), 429)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestRun_GivesUpAfterAttempts(t *testing.T) {
	var calls atomic.Int32
	err := Run(context.Background(), quick(4), func(context.Context) error {
		calls.Add(1)
		return Retryable(errors.New("bad gateway"), 502)
	})
	require.Error(t, err)
	assert.Equal(t, "bad gateway", err.Error())
	assert.Equal(t, int32(4), calls.Load())
}

func TestRun_PermanentFailure(t *testing.T) {
	var calls atomic.Int32
	err := Run(context.Background(), quick(5), func(context.Context) error {
		calls.Add(1)
		return errors.New("unknown indicator")
	})
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestRun_CancelDuringWait(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := Policy{Attempts: 10, Base: time.Hour, Cap: time.Hour}

	var calls atomic.Int32
	done := make(chan error, 1)
	go func() {
		done <- Run(ctx, p, func(context.Context) error {
			calls.Add(1)
			return Retryable(errors.New("gateway timeout"), 504)
		})
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.Error(t, err)
		assert.Equal(t, int32(1), calls.Load())
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRun_CustomRetryable(t *testing.T) {
	flaky := errors.New("flaky")
	p := quick(3)
	p.Retryable = func(err error) bool { return errors.Is(err, flaky) }

	var calls atomic.Int32
	err := Run(context.Background(), p, func(context.Context) error {
		calls.Add(1)
		return flaky
	})
	require.ErrorIs(t, err, flaky)
	assert.Equal(t, int32(3), calls.Load())
}

func TestRun_Notify(t *testing.T) {
	p := quick(3)
	var attempts []int
	p.Notify = func(attempt int, wait time.Duration, _ error) {
		attempts = append(attempts, attempt)
		assert.Positive(t, wait)
	}

	_ = Run(context.Background(), p, func(context.Context) error {
		return Retryable(errors.New("busy"), 503)
	})
	assert.Equal(t, []int{1, 2}, attempts)
}

func TestValue(t *testing.T) {
	var calls atomic.Int32
	v, err := Value(context.Background(), quick(3), func(context.Context) (int, error) {
		if calls.Add(1) == 1 {
			return 0, Retryable(errors.New("reset"), 0)
		}
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, v)

	s, err := Value(context.Background(), quick(2), func(context.Context) (string, error) {
		return "partial", errors.New("bad request")
	})
	require.Error(t, err)
	assert.Empty(t, s)
}

func TestPolicy_Defaults(t *testing.T) {
	p := Policy{Jitter: -1}.withDefaults()
	assert.Equal(t, 3, p.Attempts)
	assert.Equal(t, 500*time.Millisecond, p.Base)
	assert.Equal(t, 30*time.Second, p.Cap)
	assert.Equal(t, 2.0, p.Factor)
	assert.Zero(t, p.Jitter)
	assert.NotNil(t, p.Retryable)
}

func TestPolicy_Tries(t *testing.T) {
	base := DefaultPolicy()
	assert.Equal(t, 5, base.Tries(5).Attempts)
	assert.Equal(t, 3, base.Tries(0).Attempts)
	assert.Equal(t, 3, base.Attempts)
}

func TestPolicy_Wait(t *testing.T) {
	p := Policy{Base: 100 * time.Millisecond, Cap: time.Second, Factor: 2}
	assert.Equal(t, 100*time.Millisecond, p.wait(0, nil))
	assert.Equal(t, 200*time.Millisecond, p.wait(1, nil))
	assert.Equal(t, 400*time.Millisecond, p.wait(2, nil))
	assert.Equal(t, time.Second, p.wait(6, nil))

	throttled := &RetryableError{Err: errors.New("429"), Status: 429, RetryAfter: 700 * time.Millisecond}
	assert.Equal(t, 700*time.Millisecond, p.wait(0, throttled))
	throttled.RetryAfter = time.Hour
	assert.Equal(t, time.Second, p.wait(0, throttled), "capped")
	throttled.RetryAfter = time.Millisecond
	assert.Equal(t, 100*time.Millisecond, p.wait(0, throttled))
}

func TestPolicy_WaitJitter(t *testing.T) {
	p := Policy{Base: time.Second, Cap: time.Minute, Factor: 2, Jitter: 0.5}
	for range 50 {
		d := p.wait(0, nil)
		assert.GreaterOrEqual(t, d, 500*time.Millisecond)
		assert.LessOrEqual(t, d, 1500*time.Millisecond)
	}
}

func TestPolicy_Logged(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	restore := zap.ReplaceGlobals(zap.New(core))
	defer restore()

	p := quick(2).Logged("worldbank", "fetch", zap.String("url", "http://x"))
	_ = Run(context.Background(), p, func(context.Context) error {
		return Retryable(errors.New("boom"), 500)
	})

	entries := logs.FilterMessage("worldbank: retrying fetch").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, int64(1), fields["attempt"])
	assert.Equal(t, "http://x", fields["url"])
}
