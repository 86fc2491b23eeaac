package sftpmirror

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
)

// DefaultMaxAttempts is the per-directory attempt ceiling.
const DefaultMaxAttempts = 4

// RetryConfig configures the bounded reconnect-and-retry loop.
type RetryConfig struct {
	// MaxAttempts is the total number of attempts, including the first.
	// Values below 1 are treated as 1.
	MaxAttempts int `mapstructure:"max_attempts" yaml:"max_attempts"`

	// InitialDelay is the wait before the second attempt.
	InitialDelay time.Duration `mapstructure:"initial_delay" yaml:"initial_delay"`

	// MaxDelay caps the wait between attempts.
	MaxDelay time.Duration `mapstructure:"max_delay" yaml:"max_delay"`

	// Multiplier is the backoff multiplier (e.g., 2.0 = double delay each retry).
	Multiplier float64 `mapstructure:"multiplier" yaml:"multiplier"`

	// JitterFactor adds randomness to delay (0.0 = no jitter, 0.5 = +/-50% jitter).
	JitterFactor float64 `mapstructure:"jitter_factor" yaml:"jitter_factor"`

	// Logger receives one warning per failed attempt. Optional.
	Logger logrus.FieldLogger `mapstructure:"-" yaml:"-"`

	// Clock drives the waits between attempts. Defaults to the real clock.
	Clock clockwork.Clock `mapstructure:"-" yaml:"-"`
}

// DefaultRetryConfig returns the default policy: four attempts with
// exponential backoff between them.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  DefaultMaxAttempts,
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.25,
	}
}

// NoDelayRetryConfig returns the default attempt ceiling without waits
// between attempts.
func NoDelayRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: DefaultMaxAttempts,
	}
}

// RetryableFunc is one attempt. attempt starts at 1.
type RetryableFunc func(attempt int) error

// Retry runs fn until it succeeds, fails with an error that is not a
// connection error, or MaxAttempts is reached. In the last case the
// returned error is an *ExhaustedError wrapping the final failure.
func Retry(ctx context.Context, config RetryConfig, operation string, fn RetryableFunc) error {
	maxAttempts := config.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	clock := config.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%s cancelled: %w", operation, err)
		}

		err := fn(attempt)
		if err == nil {
			return nil
		}

		lastErr = err

		if !IsConnectionError(err) {
			return err
		}

		if attempt == maxAttempts {
			break
		}

		delay := calculateDelay(config, attempt-1)

		if config.Logger != nil {
			config.Logger.WithError(err).WithFields(logrus.Fields{
				"attempt":      attempt,
				"max_attempts": maxAttempts,
				"retry_in":     delay.String(),
			}).Warnf("%s failed, retrying", operation)
		}

		if delay <= 0 {
			continue
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%s cancelled during retry wait: %w", operation, ctx.Err())
		case <-clock.After(delay):
		}
	}

	return &ExhaustedError{Op: operation, Attempts: maxAttempts, Err: lastErr}
}

// calculateDelay returns the wait after the given zero-based retry index.
func calculateDelay(config RetryConfig, retry int) time.Duration {
	delay := float64(config.InitialDelay)
	for i := 0; i < retry; i++ {
		delay *= config.Multiplier
	}

	if config.JitterFactor > 0 {
		jitter := delay * config.JitterFactor
		delay = delay - jitter + (rand.Float64() * 2 * jitter)
	}

	if config.MaxDelay > 0 && delay > float64(config.MaxDelay) {
		delay = float64(config.MaxDelay)
	}

	return time.Duration(delay)
}
