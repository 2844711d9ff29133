package retry

import (
	"context"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

// Default policy values.
const (
	DefaultMaxAttempts     = 4
	DefaultInitialInterval = 500 * time.Millisecond
	DefaultMaxInterval     = 10 * time.Second
)

// Policy bounds how transient failures are retried.
type Policy struct {
	MaxAttempts     int           `mapstructure:"max_attempts"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
}

func (p Policy) backOff(ctx context.Context) backoff.BackOff {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = DefaultMaxAttempts
	}
	initial := p.InitialInterval
	if initial <= 0 {
		initial = DefaultInitialInterval
	}
	maxInterval := p.MaxInterval
	if maxInterval <= 0 {
		maxInterval = DefaultMaxInterval
	}

	exp := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(initial),
		backoff.WithMaxInterval(maxInterval),
		backoff.WithMaxElapsedTime(0),
	)
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(attempts-1)), ctx)
}

// Do runs op until it succeeds, returns a permanent error, or the policy is exhausted.
func Do(ctx context.Context, p Policy, logger zerolog.Logger, op func(ctx context.Context) error) error {
	_, err := DoWithData(ctx, p, logger, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// DoWithData is Do for operations producing a value.
func DoWithData[T any](ctx context.Context, p Policy, logger zerolog.Logger, op func(ctx context.Context) (T, error)) (T, error) {
	attempt := 0
	return backoff.RetryNotifyWithData(func() (T, error) {
		attempt++
		return op(ctx)
	}, p.backOff(ctx), func(err error, next time.Duration) {
		logger.Warn().Err(err).Int("attempt", attempt).Dur("retry_in", next).Msg("transient failure, retrying")
	})
}

// Permanent marks err as not worth retrying (malformed responses, client errors).
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// ForStatus classifies an HTTP failure: throttling, timeouts and 5xx stay retryable,
// every other status is permanent.
func ForStatus(status int, err error) error {
	switch {
	case status == http.StatusTooManyRequests, status == http.StatusRequestTimeout, status >= 500:
		return err
	default:
		return Permanent(err)
	}
}
