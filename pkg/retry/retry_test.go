package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func fastPolicy(attempts int) Policy {
	return Policy{MaxAttempts: attempts, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
}

func TestDo_SucceedsFirstAttempt(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(3), func(ctx context.Context) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestDo_RetriesUntilSuccess(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(3), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return fmt.Errorf("transient failure %d", calls)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestDo_ExhaustionWrapsRetryable(t *testing.T) {
	permanent := errors.New("provider down")
	err := Do(context.Background(), fastPolicy(3), func(ctx context.Context) error {
		return permanent
	})
	if err == nil {
		t.Fatal("Do() succeeded, want exhaustion error")
	}
	if !IsRetryable(err) {
		t.Error("exhaustion error is not marked retryable")
	}
	if !errors.Is(err, permanent) {
		t.Error("exhaustion error does not wrap the last failure")
	}

	var re *RetryableError
	if !errors.As(err, &re) || re.Attempts != 3 {
		t.Errorf("RetryableError attempts = %+v", re)
	}
}

func TestDo_ContextCancellationStopsRetrying(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	err := Do(ctx, Policy{MaxAttempts: 5, BaseDelay: 50 * time.Millisecond}, func(ctx context.Context) error {
		calls++
		cancel()
		return errors.New("fails")
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Do() error = %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestDo_ZeroPolicyRunsOnce(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Policy{}, func(ctx context.Context) error {
		calls++
		return errors.New("fails")
	})
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if !IsRetryable(err) {
		t.Error("single-attempt failure is not marked retryable")
	}
}
