package usecase

import (
	"context"
	"time"

	"github.com/phuslu/log"

	"docrag/internal/domain"
)

const maxRetryDelay = 5 * time.Second

// RetryPolicy retries operations that failed with a transient index error.
// Only idempotent operations (upsert, search) go through it.
type RetryPolicy struct {
	MaxRetries int
	Backoff    time.Duration
}

// NoRetry runs an operation exactly once.
var NoRetry = RetryPolicy{}

func (p RetryPolicy) delay(attempt int) time.Duration {
	d := p.Backoff << attempt
	if d > maxRetryDelay || d < 0 {
		return maxRetryDelay
	}
	return d
}

func (p RetryPolicy) do(ctx context.Context, logger *log.Logger, op string, fn func() error) error {
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil || !domain.IsTransient(err) || attempt >= p.MaxRetries {
			return err
		}

		wait := p.delay(attempt)
		logger.Warn().Err(err).Str("op", op).Int("attempt", attempt+1).Dur("wait", wait).Msg("transient index error, retrying")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}
