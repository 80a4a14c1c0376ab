package resilience

import (
	"context"
	"crypto/rand"
	"fmt"
	"math"
	"math/big"
	"time"
)

// Sleeper abstracts time-based waiting for testing.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// RealSleeper uses actual time.
type RealSleeper struct{}

// Sleep waits for d or until ctx is cancelled.
func (RealSleeper) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// RetryConfig holds retry configuration.
type RetryConfig struct {
	MaxRetries    int           // Retries after the first attempt (0 = no retries)
	BackoffFactor time.Duration // Base of the exponential schedule
	MaxWait       time.Duration // Upper bound for a single wait
	Jitter        float64       // Jitter fraction (0.0-1.0)
}

// DefaultRetryConfig returns the delivery defaults: 5 retries, factor 1s, 120s cap.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:    5,
		BackoffFactor: time.Second,
		MaxWait:       120 * time.Second,
	}
}

// Decision is a classifier's verdict on a failed attempt.
type Decision struct {
	Retry bool
	// After overrides the computed backoff when positive (Retry-After).
	After time.Duration
}

// Classifier decides whether an error is worth another attempt.
type Classifier func(err error) Decision

// ExhaustedError is returned when every allowed attempt failed with a
// retryable error. Err is the last attempt's error.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("gave up after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// Retry executes fn until it succeeds, the classifier rejects the error, or
// cfg.MaxRetries retries are spent. fn receives the 1-based attempt number.
// Non-retryable errors are returned unchanged; exhaustion returns *ExhaustedError.
func Retry[T any](
	ctx context.Context,
	cfg RetryConfig,
	sleeper Sleeper,
	classify Classifier,
	fn func(attempt int) (T, error),
	onRetry func(attempt int, err error, wait time.Duration),
) (T, error) {
	var zero T
	if sleeper == nil {
		sleeper = RealSleeper{}
	}

	for attempt := 1; ; attempt++ {
		result, err := fn(attempt)
		if err == nil {
			return result, nil
		}

		if ctx.Err() != nil {
			return zero, err
		}

		d := classify(err)
		if !d.Retry {
			return zero, err
		}

		retry := attempt // the upcoming retry number
		if retry > cfg.MaxRetries {
			return zero, &ExhaustedError{Attempts: attempt, Err: err}
		}

		wait := d.After
		if wait <= 0 {
			wait = Backoff(cfg, retry)
		}

		if onRetry != nil {
			onRetry(attempt+1, err, wait)
		}

		if wait > 0 {
			if serr := sleeper.Sleep(ctx, wait); serr != nil {
				return zero, serr
			}
		}
	}
}

// Backoff returns the wait before the given 1-based retry: nothing before the
// first retry, then BackoffFactor * 2^(retry-1), capped at MaxWait.
func Backoff(cfg RetryConfig, retry int) time.Duration {
	if retry <= 1 || cfg.BackoffFactor <= 0 {
		return 0
	}

	wait := float64(cfg.BackoffFactor) * math.Pow(2, float64(retry-1))
	if cfg.MaxWait > 0 && wait > float64(cfg.MaxWait) {
		wait = float64(cfg.MaxWait)
	}

	// Apply jitter using crypto/rand
	if cfg.Jitter > 0 {
		jitterRange := int64(wait * cfg.Jitter)
		if jitterRange > 0 {
			n, err := rand.Int(rand.Reader, big.NewInt(jitterRange*2))
			if err == nil {
				wait += float64(n.Int64() - jitterRange)
			}
		}
	}

	return time.Duration(wait)
}
