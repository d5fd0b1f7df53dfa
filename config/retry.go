package config

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// RetryPolicy bounds how long a dependency is retried before the caller gets an error.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     func(attempt int) time.Duration
}

// ExponentialBackoff doubles from one second per attempt, capped at limit.
func ExponentialBackoff(limit time.Duration) func(int) time.Duration {
	return func(attempt int) time.Duration {
		sleep := time.Second * time.Duration(1<<min(attempt, 5))
		if sleep > limit {
			sleep = limit
		}
		return sleep
	}
}

// DefaultRetryPolicy reads CONNECT_MAX_ATTEMPTS (default 10) with 1s..30s backoff.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: intFromEnv("CONNECT_MAX_ATTEMPTS", 10),
		Backoff:     ExponentialBackoff(30 * time.Second),
	}
}

// Do runs fn until it succeeds, ctx is done, or MaxAttempts is reached.
func (p RetryPolicy) Do(ctx context.Context, name string, fn func(attempt int) error) error {
	maxAttempts := p.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	backoff := p.Backoff
	if backoff == nil {
		backoff = ExponentialBackoff(30 * time.Second)
	}

	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err = fn(attempt); err == nil {
			return nil
		}
		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		if attempt == maxAttempts {
			break
		}
		sleep := backoff(attempt)
		logg.WithField("field", name).Warnf("attempt %d failed: %v; retrying in %s", attempt, err, sleep)
		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%s: %w (last error: %v)", name, ctx.Err(), err)
		case <-timer.C:
		}
	}
	return fmt.Errorf("%s: giving up after %d attempts: %w", name, maxAttempts, err)
}

type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks err as not worth retrying; Do returns it unwrapped.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}
