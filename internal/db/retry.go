package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sirupsen/logrus"
)

// permanent is implemented by errors that retrying cannot fix, such as validation failures.
type permanent interface {
	Permanent() bool
}

// IsPermanent reports whether err must not be retried.
func IsPermanent(err error) bool {
	if errors.Is(err, sql.ErrNoRows) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var p permanent
	return errors.As(err, &p) && p.Permanent()
}

// Retry runs fn up to 1+RetryAttempts times with a fixed delay between tries.
// Permanent errors abort immediately and are returned unchanged.
func (d *DB) Retry(ctx context.Context, op string, fn func() error) error {
	attempt := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		err := fn()
		if err != nil && IsPermanent(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(d.opts.RetryDelay)),
		backoff.WithMaxTries(uint(d.opts.RetryAttempts+1)),
		backoff.WithNotify(func(err error, next time.Duration) {
			d.log.WithFields(logrus.Fields{"op": op, "attempt": attempt, "next": next}).WithError(err).Warn("store busy, retrying")
			if d.opts.OnRetry != nil {
				d.opts.OnRetry(op)
			}
		}),
	)
	if err == nil {
		return nil
	}
	if IsPermanent(err) {
		return err
	}
	return fmt.Errorf("%s: %w", op, err)
}
