package database

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// retry runs op with exponential backoff until it succeeds, ctx ends or
// maxElapsed passes.
func retry(ctx context.Context, name string, maxElapsed time.Duration, logger *zap.SugaredLogger, op func(ctx context.Context) error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 250 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	b.MaxElapsedTime = maxElapsed

	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		err := op(ctx)
		if err != nil {
			logger.Warnw("connect failed, retrying", "backend", name, "attempt", attempt, "error", err)
		}
		return err
	}, backoff.WithContext(b, ctx))
}
