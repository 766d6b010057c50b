package database

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryTransient runs fn, retrying exactly once after a short pause if
// it fails with a transient store error (connection drop, serialization
// failure, deadlock). All writes run in single transactions, so a retry
// with identical inputs is safe. Permanent errors return unchanged.
func RetryTransient(fn func() error) error {
	op := func() error {
		if err := fn(); err != nil {
			if IsTransient(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		return nil
	}
	return backoff.Retry(op, backoff.WithMaxRetries(
		backoff.NewConstantBackOff(100*time.Millisecond), 1))
}
