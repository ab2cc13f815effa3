package resilience

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
)

// Policy describes how an operation is retried. Zero fields fall back to
// DefaultPolicy values.
type Policy struct {
	// Attempts is the total number of calls, the first one included.
	Attempts int
	// Base is the wait after the first failure. Each later wait grows by
	// Factor until it reaches Cap.
	Base   time.Duration
	Cap    time.Duration
	Factor float64
	// Jitter spreads each wait uniformly by this fraction either side.
	Jitter float64
	// Retryable decides whether a failure gets another attempt. Nil means
	// Temporary.
	Retryable func(error) bool
	// Notify is called before each wait.
	Notify func(attempt int, wait time.Duration, err error)
}

// DefaultPolicy is used for World Bank requests and the Postgres ping.
func DefaultPolicy() Policy {
	return Policy{
		Attempts: 3,
		Base:     500 * time.Millisecond,
		Cap:      30 * time.Second,
		Factor:   2,
		Jitter:   0.25,
	}
}

// Tries returns p with Attempts set to n when n is positive.
func (p Policy) Tries(n int) Policy {
	if n > 0 {
		p.Attempts = n
	}
	return p
}

// Logged returns p with a Notify hook that logs each retry at warn level.
func (p Policy) Logged(component, op string, fields ...zap.Field) Policy {
	p.Notify = func(attempt int, wait time.Duration, err error) {
		zap.L().Warn(component+": retrying "+op, append([]zap.Field{
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err),
		}, fields...)...)
	}
	return p
}

func (p Policy) withDefaults() Policy {
	d := DefaultPolicy()
	if p.Attempts <= 0 {
		p.Attempts = d.Attempts
	}
	if p.Base <= 0 {
		p.Base = d.Base
	}
	if p.Cap <= 0 {
		p.Cap = d.Cap
	}
	if p.Factor <= 0 {
		p.Factor = d.Factor
	}
	p.Jitter = max(p.Jitter, 0)
	if p.Retryable == nil {
		p.Retryable = Temporary
	}
	return p
}

// wait returns the pause after the given failed attempt (0-based). A server
// supplied Retry-After wins when it is longer than the computed backoff.
func (p Policy) wait(attempt int, err error) time.Duration {
	d := min(float64(p.Base)*math.Pow(p.Factor, float64(attempt)), float64(p.Cap))
	if p.Jitter > 0 {
		d *= 1 + p.Jitter*(2*rand.Float64()-1)
	}
	wait := time.Duration(max(d, 0))

	var re *RetryableError
	if errors.As(err, &re) && re.RetryAfter > wait {
		wait = min(re.RetryAfter, p.Cap)
	}
	return wait
}

// Run calls fn until it succeeds, fails permanently, runs out of attempts or
// ctx ends. The last error is returned unchanged.
func Run(ctx context.Context, p Policy, fn func(context.Context) error) error {
	_, err := Value(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Value is Run for operations that produce a result. On failure the zero
// value is returned.
func Value[T any](ctx context.Context, p Policy, fn func(context.Context) (T, error)) (T, error) {
	p = p.withDefaults()

	var zero T
	for attempt := 0; ; attempt++ {
		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		if attempt+1 >= p.Attempts || ctx.Err() != nil || !p.Retryable(err) {
			return zero, err
		}

		wait := p.wait(attempt, err)
		if p.Notify != nil {
			p.Notify(attempt+1, wait, err)
		}
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return zero, err
		case <-t.C:
		}
	}
}
