package exchange

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// RetryConfig holds configuration for retrying transient gateway errors.
type RetryConfig struct {
	MaxRetries    int           `json:"max_retries"`
	InitialDelay  time.Duration `json:"initial_delay"`
	MaxDelay      time.Duration `json:"max_delay"`
	BackoffFactor float64       `json:"backoff_factor"`
	JitterEnabled bool          `json:"jitter_enabled"`
}

// DefaultRetryConfig returns the retry policy used when none is configured.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:    3,
		InitialDelay:  time.Second,
		MaxDelay:      time.Minute,
		BackoffFactor: 2.0,
		JitterEnabled: true,
	}
}

// Retry executes fn with bounded exponential backoff. retryable decides
// whether a given error is worth another attempt; a nil retryable
// retries everything. The last error is returned once attempts are
// exhausted or a non-retryable error occurs.
func Retry(ctx context.Context, config RetryConfig, retryable func(error) bool, fn func() error) error {
	var lastErr error

	for attempt := 0; attempt <= config.MaxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if attempt == config.MaxRetries {
			break
		}
		if retryable != nil && !retryable(err) {
			break
		}

		delay := backoffDelay(attempt, config)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	return lastErr
}

func backoffDelay(attempt int, config RetryConfig) time.Duration {
	delay := float64(config.InitialDelay) * math.Pow(config.BackoffFactor, float64(attempt))
	if delay > float64(config.MaxDelay) {
		delay = float64(config.MaxDelay)
	}
	if config.JitterEnabled {
		// up to 25% jitter to avoid thundering herds on reconnect
		delay += delay * 0.25 * rand.Float64()
	}
	return time.Duration(delay)
}
