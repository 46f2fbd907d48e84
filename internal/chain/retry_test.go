package chain

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestWithRetryEventuallySucceeds(t *testing.T) {
	calls := 0
	err := WithRetry(context.Background(), 3, time.Millisecond, func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestWithRetryGivesUp(t *testing.T) {
	calls := 0
	want := errors.New("down")
	err := WithRetry(context.Background(), 2, time.Millisecond, func(context.Context) error {
		calls++
		return want
	})
	if !errors.Is(err, want) {
		t.Fatalf("expected last error, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestWithRetryStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := WithRetry(ctx, 5, time.Hour, func(context.Context) error {
		calls++
		cancel()
		return context.Canceled
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected a single call, got %d", calls)
	}
}

func TestWriteErrorMessage(t *testing.T) {
	err := &WriteError{Op: "receipt", TxHash: "0xabc", Reason: "execution reverted: expired"}
	if got := err.Error(); got != "chain write receipt tx 0xabc: execution reverted: expired" {
		t.Fatalf("message mismatch: %s", got)
	}
	wrapped := &ReadError{Op: "getMarket", Err: context.DeadlineExceeded}
	if !errors.Is(wrapped, context.DeadlineExceeded) {
		t.Fatalf("ReadError must unwrap")
	}
}

func TestRevertReason(t *testing.T) {
	if got := revertReason(errors.New("rpc error: execution reverted: market settled")); got != "execution reverted: market settled" {
		t.Fatalf("reason mismatch: %q", got)
	}
	if got := revertReason(errors.New("connection refused")); got != "" {
		t.Fatalf("expected empty reason, got %q", got)
	}
}
