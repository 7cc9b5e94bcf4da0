package kgraph

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// RetryConfig bounds retries of external calls (model extraction, embedding,
// store I/O).
type RetryConfig struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	// Retryable decides whether an error should trigger another attempt.
	// Nil retries everything.
	Retryable func(error) bool
}

// DefaultRetryConfig returns the retry bounds used when none are configured.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  100 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		BackoffFactor: 2.0,
	}
}

// Retry runs fn with exponential backoff and jitter until it succeeds, the
// attempt bound is reached, or the context is done.
func Retry(ctx context.Context, config *RetryConfig, fn func() error) error {
	if config == nil {
		config = DefaultRetryConfig()
	}

	var lastErr error
	for attempt := 0; attempt < config.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if lastErr = fn(); lastErr == nil {
			return nil
		}

		if config.Retryable != nil && !config.Retryable(lastErr) {
			return lastErr
		}

		if attempt == config.MaxAttempts-1 {
			break
		}

		delay := config.InitialDelay * time.Duration(math.Pow(config.BackoffFactor, float64(attempt)))
		if delay > config.MaxDelay {
			delay = config.MaxDelay
		}

		// Jitter of ±25% keeps concurrent retries from synchronizing.
		//nolint:gosec // weak RNG is fine for jitter
		delay += time.Duration(float64(delay) * 0.25 * (2*rand.Float64() - 1))

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return lastErr
}
