package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/xuecangming/drivefetch/internal/common/types"
)

func TestDelay_LinearGrowth(t *testing.T) {
	c := FromTypes(types.RetryConfig{InitialDelay: 5000, Multiplier: 1, Increment: 5000}, 3)

	want := []time.Duration{5 * time.Second, 10 * time.Second, 15 * time.Second}
	for attempt, w := range want {
		if got := c.Delay(attempt); got != w {
			t.Errorf("Delay(%d) = %v, want %v", attempt, got, w)
		}
	}
}

func TestDelay_CappedExponential(t *testing.T) {
	c := &Config{InitialDelay: time.Second, MaxDelay: 3 * time.Second, Multiplier: 2}

	if got := c.Delay(1); got != 2*time.Second {
		t.Errorf("Delay(1) = %v, want 2s", got)
	}
	if got := c.Delay(5); got != 3*time.Second {
		t.Errorf("Delay(5) = %v, want cap 3s", got)
	}
}

func TestDoWithContextAndRetryable(t *testing.T) {
	errTransient := errors.New("transient")
	errFatal := errors.New("fatal")
	c := &Config{MaxAttempts: 3, Multiplier: 1}

	t.Run("succeeds after retries", func(t *testing.T) {
		calls := 0
		err := DoWithContextAndRetryable(context.Background(), func(ctx context.Context) error {
			calls++
			if calls < 3 {
				return errTransient
			}
			return nil
		}, c, func(err error) bool { return err == errTransient })
		if err != nil {
			t.Errorf("error = %v, want nil", err)
		}
		if calls != 3 {
			t.Errorf("calls = %d, want 3", calls)
		}
	})

	t.Run("stops on non-retryable", func(t *testing.T) {
		calls := 0
		err := DoWithContextAndRetryable(context.Background(), func(ctx context.Context) error {
			calls++
			return errFatal
		}, c, func(err error) bool { return err == errTransient })
		if !errors.Is(err, errFatal) {
			t.Errorf("error = %v, want %v", err, errFatal)
		}
		if calls != 1 {
			t.Errorf("calls = %d, want 1", calls)
		}
	})

	t.Run("exhausts attempts", func(t *testing.T) {
		calls := 0
		err := DoWithContext(context.Background(), func(ctx context.Context) error {
			calls++
			return errTransient
		}, c)
		if !errors.Is(err, errTransient) {
			t.Errorf("error = %v, want wrapped %v", err, errTransient)
		}
		if calls != 3 {
			t.Errorf("calls = %d, want 3", calls)
		}
	})
}

func TestSleep_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	if err := Sleep(ctx, time.Minute); !errors.Is(err, context.Canceled) {
		t.Errorf("Sleep() error = %v, want context.Canceled", err)
	}
	if time.Since(start) > time.Second {
		t.Error("Sleep() did not return promptly on cancellation")
	}
}
