package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/okian/kudos/pkg/metrics"
)

// DefaultMaxAttempts bounds RunInTx retries when no option is given.
const DefaultMaxAttempts = 10

// errConflict marks an attempt that lost a race and should be retried.
var errConflict = errors.New("write conflict")

// Conflict wraps err so RetryTx retries the attempt.
func Conflict(err error) error {
	if err == nil {
		return errConflict
	}
	return fmt.Errorf("%w: %w", errConflict, err)
}

// IsConflict reports whether err came from Conflict.
func IsConflict(err error) bool { return errors.Is(err, errConflict) }

// RetryTx runs attempt until it succeeds, fails with a non-conflict error,
// or maxAttempts conflicts have happened. backend labels the retry metrics.
func RetryTx(ctx context.Context, backend string, maxAttempts int, attempt func(ctx context.Context) error) error {
	if maxAttempts < 1 {
		maxAttempts = DefaultMaxAttempts
	}
	start := time.Now()
	defer func() {
		metrics.RecordTxDuration(backend, float64(time.Since(start).Microseconds())/1000)
	}()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Millisecond
	b.MaxInterval = 50 * time.Millisecond
	b.RandomizationFactor = 0.5

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := attempt(ctx)
		switch {
		case err == nil:
			return struct{}{}, nil
		case IsConflict(err):
			return struct{}{}, err
		default:
			return struct{}{}, backoff.Permanent(err)
		}
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(maxAttempts)),
		backoff.WithNotify(func(error, time.Duration) { metrics.RecordTxRetry(backend) }),
	)
	if IsConflict(err) {
		return fmt.Errorf("%w: %w", ErrTxConflict, err)
	}
	return err
}
