// Package retry repeats calls that leave the process (bitcoind RPC, block
// submission, Kafka and the stores) with exponential backoff. Only errors
// classified as retryable by pkg/errors are repeated.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/bardlex/gominer/pkg/errors"
)

// Config is a backoff policy.
type Config struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
	// Jitter spreads each delay by up to 10% either way.
	Jitter bool

	// OnRetry is called before sleeping with the failed attempt number and its error.
	OnRetry func(attempt int, err error)
}

func DefaultConfig() *Config {
	return &Config{MaxAttempts: 3, BaseDelay: 100 * time.Millisecond, MaxDelay: 5 * time.Second, Multiplier: 2, Jitter: true}
}

// NetworkConfig is used for bitcoind RPC and Kafka.
func NetworkConfig() *Config {
	return &Config{MaxAttempts: 5, BaseDelay: 50 * time.Millisecond, MaxDelay: 2 * time.Second, Multiplier: 1.5, Jitter: true}
}

func DatabaseConfig() *Config {
	return &Config{MaxAttempts: 3, BaseDelay: 200 * time.Millisecond, MaxDelay: 3 * time.Second, Multiplier: 2, Jitter: true}
}

// SubmitConfig is used for block submission, where a late retry is worthless.
func SubmitConfig() *Config {
	return &Config{MaxAttempts: 2, BaseDelay: 50 * time.Millisecond, MaxDelay: 200 * time.Millisecond, Multiplier: 1.5}
}

func (c *Config) backOff() *backoff.ExponentialBackOff {
	b := &backoff.ExponentialBackOff{
		InitialInterval: c.BaseDelay,
		MaxInterval:     c.MaxDelay,
		Multiplier:      c.Multiplier,
	}
	if c.Jitter {
		b.RandomizationFactor = 0.1
	}
	b.Reset()
	return b
}

// Do runs fn until it succeeds, fails with a non-retryable error, runs out
// of attempts or ctx is done.
func Do(ctx context.Context, config *Config, fn func() error) error {
	_, err := DoWithResult(ctx, config, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// DoWithResult is Do for calls that produce a value. A non-retryable error is
// returned unchanged; running out of attempts wraps the last error.
func DoWithResult[T any](ctx context.Context, config *Config, fn func() (T, error)) (T, error) {
	var zero T
	if config == nil {
		config = DefaultConfig()
	}

	var (
		attempts  int
		lastErr   error
		permanent bool
	)
	res, err := backoff.Retry(ctx, func() (T, error) {
		attempts++
		v, err := fn()
		if err == nil {
			return v, nil
		}
		lastErr = err
		if !errors.IsRetryable(err) {
			permanent = true
			return v, backoff.Permanent(err)
		}
		return v, err
	},
		backoff.WithBackOff(config.backOff()),
		backoff.WithMaxTries(uint(max(config.MaxAttempts, 1))),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, _ time.Duration) {
			if config.OnRetry != nil {
				config.OnRetry(attempts, err)
			}
		}),
	)

	switch {
	case err == nil:
		return res, nil
	case permanent:
		return zero, lastErr
	case ctx.Err() != nil:
		return zero, ctx.Err()
	}
	return zero, errors.Wrap(lastErr, errors.ErrorTypeInternal, "retry",
		"operation failed after maximum retry attempts").
		WithContext("attempts", attempts)
}
