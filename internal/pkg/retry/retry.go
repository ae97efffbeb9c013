package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
)

// Do runs op up to attempts times with a fixed delay between tries and
// returns the last error once attempts are exhausted.
func Do(ctx context.Context, name string, attempts int, delay time.Duration, op func(ctx context.Context) error) error {
	if attempts <= 0 {
		attempts = 1
	}
	attempt := 0
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(delay), uint64(attempts-1)),
		ctx,
	)
	return backoff.RetryNotify(func() error {
		attempt++
		err := op(ctx)
		if err == nil && attempt > 1 {
			logutil.GetLogger(ctx).Info("operation succeeded after retry", zap.String("op", name), zap.Int("attempt", attempt))
		}
		return err
	}, policy, func(err error, wait time.Duration) {
		logutil.GetLogger(ctx).Warn("operation failed, retrying",
			zap.String("op", name),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", attempts),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
	})
}
