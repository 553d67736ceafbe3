package classifier

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetryDoSucceedsAfterTransientFailures(t *testing.T) {
	attempts := 0
	got, err := RetryDo(context.Background(), RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}, func() (string, error) {
		attempts++
		if attempts < 3 {
			return "", &Error{Kind: KindTransient, Message: "flaky"}
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if got != "ok" || attempts != 3 {
		t.Fatalf("got %q after %d attempts", got, attempts)
	}
}

func TestRetryDoPermanentErrorImmediate(t *testing.T) {
	attempts := 0
	_, err := RetryDo(context.Background(), DefaultRetryConfig(), func() (string, error) {
		attempts++
		return "", &Error{Kind: KindAuth, Message: "bad key"}
	})
	if err == nil || attempts != 1 {
		t.Fatalf("permanent error retried: attempts=%d err=%v", attempts, err)
	}
}

func TestRetryDoUntypedErrorImmediate(t *testing.T) {
	attempts := 0
	_, err := RetryDo(context.Background(), DefaultRetryConfig(), func() (int, error) {
		attempts++
		return 0, errors.New("plain failure")
	})
	if err == nil || attempts != 1 {
		t.Fatalf("untyped error retried: attempts=%d err=%v", attempts, err)
	}
}

func TestRetryDoExhaustsAttempts(t *testing.T) {
	attempts := 0
	_, err := RetryDo(context.Background(), RetryConfig{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}, func() (string, error) {
		attempts++
		return "", &Error{Kind: KindRateLimited, Message: "slow down"}
	})
	var cerr *Error
	if !errors.As(err, &cerr) || cerr.Kind != KindRateLimited {
		t.Fatalf("err = %v, want the last transient error", err)
	}
	if attempts != 2 {
		t.Fatalf("attempts = %d, want 2", attempts)
	}
}

func TestRetryDoContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := RetryDo(ctx, RetryConfig{MaxAttempts: 5, BaseDelay: time.Hour, MaxDelay: time.Hour}, func() (string, error) {
		return "", &Error{Kind: KindTransient, Message: "flaky"}
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}
