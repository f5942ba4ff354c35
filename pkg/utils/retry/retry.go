package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/jakechorley/shiftbook/pkg/db"
)

// Transient runs op and retries it exactly once, with exponential backoff,
// when the failure is a transient store failure. Every other error is
// surfaced immediately.
func Transient(ctx context.Context, logger *zap.Logger, name string, op func() error) error {
	attempt := 0
	wrapped := func() error {
		attempt++
		err := op()
		if err == nil {
			return nil
		}
		if errors.Is(err, db.ErrTransient) {
			if attempt == 1 {
				logger.Warn("transient store failure, retrying",
					zap.String("operation", name),
					zap.Error(err))
			}
			return err
		}
		return backoff.Permanent(err)
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 50 * time.Millisecond
	policy.MaxElapsedTime = 5 * time.Second

	return backoff.Retry(wrapped, backoff.WithContext(backoff.WithMaxRetries(policy, 1), ctx))
}
