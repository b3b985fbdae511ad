package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"
)

// Policy configures RetryWithBackoff.
//
// The delay after failed attempt n (1-based) is BaseDelay * 2^(n-1), plus a
// non-negative jitter of up to JitterFactor of that delay, capped at MaxDelay.
type Policy struct {
	MaxAttempts  int
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	JitterFactor float64

	// RetryIf decides whether an error deserves another attempt. Nil retries
	// everything except PermanentError.
	RetryIf func(error) bool
	// OnRetry is called before sleeping ahead of the next attempt.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// DefaultPolicy is three attempts starting at one second.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:  3,
		BaseDelay:    time.Second,
		MaxDelay:     10 * time.Second,
		JitterFactor: 0.2,
	}
}

func (p *Policy) normalize() {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	if p.BaseDelay < 0 {
		p.BaseDelay = 0
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 30 * time.Second
	}
	if p.MaxDelay < p.BaseDelay {
		p.MaxDelay = p.BaseDelay
	}
	if p.JitterFactor < 0 {
		p.JitterFactor = 0
	}
	if p.JitterFactor > 1 {
		p.JitterFactor = 1
	}
}

// Delay returns the wait after failed attempt n (1-based).
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := p.BaseDelay
	for i := 1; i < attempt && delay < p.MaxDelay; i++ {
		delay *= 2
	}
	if delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	if p.JitterFactor > 0 && delay > 0 {
		delay += time.Duration(rand.Float64() * p.JitterFactor * float64(delay))
	}
	if delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	return delay
}

// AttemptsError is the final failure of a retried operation.
type AttemptsError struct {
	Err      error
	Attempts int
}

func (e *AttemptsError) Error() string {
	return fmt.Sprintf("failed after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *AttemptsError) Unwrap() error {
	return e.Err
}

// PermanentError stops retrying immediately.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return e.Err.Error()
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var perm *PermanentError
	return errors.As(err, &perm)
}

// RetryWithBackoff runs op until it succeeds or the policy is exhausted.
func RetryWithBackoff(ctx context.Context, p Policy, op func(ctx context.Context) error) error {
	_, err := Retry(ctx, p, func(ctx context.Context, _ int) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// Retry is RetryWithBackoff for operations that return a value. The attempt
// number passed to op is 1-based.
func Retry[T any](ctx context.Context, p Policy, op func(ctx context.Context, attempt int) (T, error)) (T, error) {
	p.normalize()

	var zero T
	var lastErr error

	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr == nil {
				return zero, err
			}
			return zero, &AttemptsError{Attempts: attempt - 1, Err: lastErr}
		}

		result, err := op(ctx, attempt)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if IsPermanent(err) || (p.RetryIf != nil && !p.RetryIf(err)) {
			return zero, &AttemptsError{Attempts: attempt, Err: err}
		}
		if attempt == p.MaxAttempts {
			break
		}

		delay := p.Delay(attempt)
		if p.OnRetry != nil {
			p.OnRetry(attempt, err, delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, &AttemptsError{Attempts: attempt, Err: lastErr}
		case <-timer.C:
		}
	}

	return zero, &AttemptsError{Attempts: p.MaxAttempts, Err: lastErr}
}
