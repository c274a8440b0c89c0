// Package services provides external service integrations: the Graph gateway, token store, LLM clients,
// asset storage, message templating and the customer-type change bus
package services

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

// RetryPolicy retries a call with exponential backoff plus jitter.
// The delay before retry n (n starting at 1) is BaseDelay*2^n + U(0, Jitter).
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Jitter      time.Duration
	MaxDelay    time.Duration

	// Retryable decides whether an error is worth another attempt.
	Retryable func(error) bool

	sleep func(ctx context.Context, d time.Duration) error
}

// DefaultRetryPolicy makes up to three attempts on rate-limited calls, so it
// retries twice after waits of ~2s and ~4s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		Jitter:      time.Second,
		MaxDelay:    60 * time.Second,
		Retryable:   IsRateLimited,
	}
}

// WithSleep replaces the wait function, for tests.
func (p RetryPolicy) WithSleep(sleep func(ctx context.Context, d time.Duration) error) RetryPolicy {
	p.sleep = sleep
	return p
}

// Delay returns the wait before the given retry.
func (p RetryPolicy) Delay(retry int) time.Duration {
	d := time.Duration(float64(p.BaseDelay) * math.Pow(2, float64(retry)))
	if p.Jitter > 0 {
		d += time.Duration(rand.Int63n(int64(p.Jitter)))
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

// Do runs fn until it succeeds, returns a non-retryable error, or attempts run out.
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	retryable := p.Retryable
	if retryable == nil {
		retryable = IsRateLimited
	}
	sleep := p.sleep
	if sleep == nil {
		sleep = sleepContext
	}

	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			if serr := sleep(ctx, p.Delay(attempt)); serr != nil {
				return errors.Join(err, serr)
			}
		}

		err = fn(ctx)
		if err == nil || !retryable(err) {
			return err
		}
	}
	return err
}

// Retry is Do for calls that return a value.
func Retry[T any](ctx context.Context, p RetryPolicy, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := p.Do(ctx, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// rateLimited is implemented by errors that carry an HTTP 429.
type rateLimited interface {
	IsRateLimited() bool
}

// IsRateLimited reports whether err (or something it wraps) is an HTTP 429.
func IsRateLimited(err error) bool {
	var rl rateLimited
	return errors.As(err, &rl) && rl.IsRateLimited()
}
