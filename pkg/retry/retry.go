// Package retry implements bounded exponential backoff for calls to
// external providers (embedding and LLM APIs).
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Policy describes how many times an operation is attempted and how the
// delay between attempts grows.
type Policy struct {
	MaxAttempts int           // total attempts, including the first one
	BaseDelay   time.Duration // delay before the second attempt
	MaxDelay    time.Duration // upper bound for the backoff delay
}

// DefaultPolicy is suitable for interactive provider calls: three
// attempts with delays of 500ms and 1s between them.
var DefaultPolicy = Policy{
	MaxAttempts: 3,
	BaseDelay:   500 * time.Millisecond,
	MaxDelay:    5 * time.Second,
}

// RetryableError marks a failure that exhausted all attempts but may
// succeed if the caller tries again later.
type RetryableError struct {
	Attempts int
	Err      error
}

func (e *RetryableError) Error() string {
	return fmt.Sprintf("retryable: %d attempts failed: %v", e.Attempts, e.Err)
}

func (e *RetryableError) Unwrap() error { return e.Err }

// IsRetryable reports whether err wraps a RetryableError.
func IsRetryable(err error) bool {
	var re *RetryableError
	return errors.As(err, &re)
}

// Do runs fn until it succeeds, the policy is exhausted, or ctx is
// cancelled. After exhaustion the last error is wrapped in a
// RetryableError so callers can distinguish transient provider
// failures from permanent ones.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}

	delay := p.BaseDelay
	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if attempt == p.MaxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if p.MaxDelay > 0 && delay > p.MaxDelay {
			delay = p.MaxDelay
		}
	}

	return &RetryableError{Attempts: p.MaxAttempts, Err: lastErr}
}
