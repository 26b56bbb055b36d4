package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/mini-transit-live/server/internal/logger"
)

// PingWithRetry pings with exponential back-off until it succeeds, maxElapsed
// passes, or ctx ends.
func PingWithRetry(ctx context.Context, ping func(context.Context) error, maxElapsed time.Duration, log logger.Logger) error {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     500 * time.Millisecond,
		RandomizationFactor: 0.2,
		Multiplier:          2,
		MaxInterval:         10 * time.Second,
		MaxElapsedTime:      maxElapsed,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	b.Reset()

	err := backoff.RetryNotify(
		func() error {
			pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			return ping(pingCtx)
		},
		backoff.WithContext(b, ctx),
		func(err error, d time.Duration) {
			log.Warn("schedule store not reachable, retrying", "error", err, "backoff", d.String())
		},
	)
	if err != nil {
		return fmt.Errorf("failed to ping schedule store: %w", err)
	}
	return nil
}
