package retry

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/xuecangming/drivefetch/internal/common/types"
)

// Config holds retry configuration
type Config struct {
	MaxAttempts  int           // Maximum number of attempts
	InitialDelay time.Duration // Delay before the first retry
	MaxDelay     time.Duration // Upper bound for any delay, 0 means unbounded
	Multiplier   float64       // Backoff multiplier
	Increment    time.Duration // Linear growth added per attempt
	Jitter       bool          // Whether to add jitter to delays
}

// DefaultConfig returns default retry configuration
func DefaultConfig() *Config {
	return &Config{
		MaxAttempts:  3,
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// FromTypes converts the configured retry section into a Config
func FromTypes(rc types.RetryConfig, maxAttempts int) *Config {
	multiplier := rc.Multiplier
	if multiplier <= 0 {
		multiplier = 1
	}
	return &Config{
		MaxAttempts:  maxAttempts,
		InitialDelay: time.Duration(rc.InitialDelay) * time.Millisecond,
		MaxDelay:     time.Duration(rc.MaxDelay) * time.Millisecond,
		Multiplier:   multiplier,
		Increment:    time.Duration(rc.Increment) * time.Millisecond,
	}
}

// OperationWithContext is a function with context that can be retried
type OperationWithContext func(ctx context.Context) error

// IsRetryable checks if an error should be retried
type IsRetryable func(error) bool

// Delay returns the wait before retry number attempt (0-based)
func (c *Config) Delay(attempt int) time.Duration {
	return calculateDelay(attempt, c)
}

// Sleep waits for d or until ctx is done
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// DoWithContext executes an operation with context and retry logic
func DoWithContext(ctx context.Context, op OperationWithContext, config *Config) error {
	return DoWithContextAndRetryable(ctx, op, config, func(error) bool { return true })
}

// DoWithContextAndRetryable executes an operation with context and custom retry logic
func DoWithContextAndRetryable(ctx context.Context, op OperationWithContext, config *Config, isRetryable IsRetryable) error {
	if config == nil {
		config = DefaultConfig()
	}
	attempts := config.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := op(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if !isRetryable(err) {
			return err
		}

		// Don't retry if this is the last attempt
		if attempt == attempts-1 {
			break
		}

		if err := Sleep(ctx, calculateDelay(attempt, config)); err != nil {
			return err
		}
	}

	return fmt.Errorf("operation failed after %d attempts: %w", attempts, lastErr)
}

// calculateDelay calculates the delay for the next retry attempt
func calculateDelay(attempt int, config *Config) time.Duration {
	delay := float64(config.InitialDelay)*math.Pow(config.Multiplier, float64(attempt)) +
		float64(config.Increment)*float64(attempt)

	if config.MaxDelay > 0 && delay > float64(config.MaxDelay) {
		delay = float64(config.MaxDelay)
	}

	if config.Jitter {
		// up to 25% of the delay
		delay += delay * 0.25 * rand.Float64()
	}

	return time.Duration(delay)
}
