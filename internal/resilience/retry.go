package resilience

import (
	"context"
	"errors"
	"math/rand"
	"net"
	"time"
)

// RetryPolicy configures fixed-delay retries for idempotent reads.
type RetryPolicy struct {
	MaxAttempts    int
	Delay          time.Duration
	AttemptTimeout time.Duration
	// Retryable decides whether an error is worth another attempt. Defaults
	// to IsTransient.
	Retryable func(error) bool
	// OnRetry is invoked before sleeping between attempts.
	OnRetry func(attempt int, err error)
}

// DefaultReadPolicy is three attempts, one second apart, ten seconds each.
func DefaultReadPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, Delay: time.Second, AttemptTimeout: 10 * time.Second}
}

// Transient is implemented by errors that describe a transport level
// failure which may succeed when repeated.
type Transient interface {
	Transient() bool
}

// IsTransient reports whether err is a transport failure: an error marked
// Transient, a network timeout, or a per-attempt deadline.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var tr Transient
	if errors.As(err, &tr) {
		return tr.Transient()
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// Retry runs fn until it succeeds, returns a non-retryable error, or the
// attempts are exhausted. The delay between attempts is fixed. When every
// attempt fails the last error is returned unchanged.
func Retry[T any](ctx context.Context, p RetryPolicy, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	retryable := p.Retryable
	if retryable == nil {
		retryable = IsTransient
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		v, err := runAttempt(ctx, p.AttemptTimeout, fn)
		if err == nil {
			return v, nil
		}
		lastErr = err
		if attempt == attempts || !retryable(err) || ctx.Err() != nil {
			break
		}
		if p.OnRetry != nil {
			p.OnRetry(attempt, err)
		}
		if p.Delay > 0 {
			timer := time.NewTimer(p.Delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return zero, ctx.Err()
			case <-timer.C:
			}
		}
	}
	return zero, lastErr
}

func runAttempt[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return fn(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(attemptCtx)
}

// Backoff returns base doubled for every attempt after the first, spread by
// jitterPct (0.2 is plus or minus 20%). Used for queued reconciliation retries.
func Backoff(base time.Duration, attempt int, jitterPct float64) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	d := base * time.Duration(1<<uint(attempt-1))
	if jitterPct <= 0 {
		return d
	}
	jitter := float64(d) * jitterPct
	return d + time.Duration((rand.Float64()*2-1)*jitter)
}
