package resilience

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"strconv"
	"time"

	apperrors "github.com/GriffinCanCode/tetris-recorder/internal/errors"
)

// Retry configuration constants
const (
	DefaultMaxRetries   = 3
	DefaultBaseDelay    = 500 * time.Millisecond
	DefaultMaxDelay     = 10 * time.Second
	DefaultJitterFactor = 0.2 // 20% jitter

	// Delivery: uploads are large and servers ask for long pauses.
	DeliveryMaxRetries = 5
	DeliveryBaseDelay  = 2 * time.Second
	DeliveryMaxDelay   = time.Minute
)

// RetryAfterKey is the AppError metadata key carrying a server requested
// delay in whole seconds.
const RetryAfterKey = "retry_after"

// RetryConfig holds retry settings.
type RetryConfig struct {
	MaxRetries   int
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	JitterFactor float64
	IsRetryable  func(error) bool
}

// DefaultRetryConfig returns standard retry settings.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   DefaultMaxRetries,
		BaseDelay:    DefaultBaseDelay,
		MaxDelay:     DefaultMaxDelay,
		JitterFactor: DefaultJitterFactor,
		IsRetryable:  IsRetryable,
	}
}

// DeliveryRetryConfig returns settings for notification uploads.
func DeliveryRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   DeliveryMaxRetries,
		BaseDelay:    DeliveryBaseDelay,
		MaxDelay:     DeliveryMaxDelay,
		JitterFactor: DefaultJitterFactor,
		IsRetryable:  IsRetryable,
	}
}

// IsRetryable retries transient AppErrors but never an open breaker.
func IsRetryable(err error) bool {
	if err == nil || IsOpen(err) {
		return false
	}
	return apperrors.IsRetryable(err)
}

// Retry executes fn with exponential backoff. Returns last error if all retries fail.
func Retry(ctx context.Context, cfg RetryConfig, fn func(context.Context) error) error {
	cfg = cfg.withDefaults()
	var lastErr error

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		if lastErr = fn(ctx); lastErr == nil {
			return nil
		}

		if !cfg.IsRetryable(lastErr) || attempt == cfg.MaxRetries {
			return lastErr
		}

		delay := backoffDelay(cfg, attempt)
		if hint, ok := retryAfter(lastErr); ok {
			delay = min(max(delay, hint), cfg.MaxDelay)
		}
		slog.Debug("retrying after error", "attempt", attempt+1, "max", cfg.MaxRetries, "delay", delay, "error", lastErr)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return lastErr
}

// retryAfter reads a server requested delay from err's metadata.
func retryAfter(err error) (time.Duration, bool) {
	e, ok := apperrors.As(err)
	if !ok {
		return 0, false
	}
	secs, convErr := strconv.Atoi(e.Metadata[RetryAfterKey])
	if convErr != nil || secs <= 0 {
		return 0, false
	}
	return time.Duration(secs) * time.Second, true
}

// backoffDelay calculates exponential backoff with jitter.
func backoffDelay(cfg RetryConfig, attempt int) time.Duration {
	delay := cfg.BaseDelay << min(attempt, 6) // Cap shift to prevent overflow
	if delay > cfg.MaxDelay {
		delay = cfg.MaxDelay
	}
	// Add jitter: delay * (1 +/- jitterFactor/2)
	jitter := float64(delay) * cfg.JitterFactor * (rand.Float64() - 0.5)
	return time.Duration(float64(delay) + jitter)
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = DefaultBaseDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = DefaultMaxDelay
	}
	if c.JitterFactor <= 0 {
		c.JitterFactor = DefaultJitterFactor
	}
	if c.IsRetryable == nil {
		c.IsRetryable = IsRetryable
	}
	return c
}
