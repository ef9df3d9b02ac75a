package exchange

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func fastRetry(maxRetries int) RetryPolicy {
	return RetryPolicy{
		MaxRetries:  maxRetries,
		BaseBackoff: time.Millisecond,
		MaxBackoff:  5 * time.Millisecond,
		JitterPct:   0.5,
	}
}

func TestRetryEventualSuccess(t *testing.T) {
	calls := 0
	err := fastRetry(3).Do(context.Background(), "op", func() error {
		calls++
		if calls < 3 {
			return fmt.Errorf("%w: attempt %d", ErrTransient, calls)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestRetryFinalFailurePropagatesUnchanged(t *testing.T) {
	final := fmt.Errorf("%w: still throttled", ErrRateLimited)
	calls := 0
	err := fastRetry(3).Do(context.Background(), "op", func() error {
		calls++
		return final
	})
	if calls != 4 {
		t.Errorf("calls = %d, want 4 (1 initial + 3 retries)", calls)
	}
	if !errors.Is(err, final) || err.Error() != final.Error() {
		t.Errorf("final failure must propagate unchanged, got %v", err)
	}
}

func TestRetryNonRetryableReturnsImmediately(t *testing.T) {
	fatal := errors.New("bad request")
	calls := 0
	err := fastRetry(3).Do(context.Background(), "op", func() error {
		calls++
		return fatal
	})
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if !errors.Is(err, fatal) {
		t.Errorf("got %v, want %v", err, fatal)
	}
}

func TestRetryHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	policy := RetryPolicy{MaxRetries: 10, BaseBackoff: time.Hour, JitterPct: 0}

	done := make(chan error, 1)
	go func() {
		done <- policy.Do(ctx, "op", func() error { return ErrTransient })
	}()
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("got %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("retry did not abort on cancellation")
	}
}

func TestRetryableClassification(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{ErrRateLimited, true},
		{fmt.Errorf("venue: %w", ErrTransient), true},
		{context.DeadlineExceeded, true},
		{context.Canceled, false},
		{errors.New("unknown symbol"), false},
	}
	for _, tc := range cases {
		if got := Retryable(tc.err); got != tc.want {
			t.Errorf("Retryable(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}
