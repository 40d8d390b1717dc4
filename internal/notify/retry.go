package notify

import (
	"context"
	"math"
	"time"
)

const maxRetries = 3

// retryOnRateLimit calls fn and retries while rateLimited classifies the
// error as a rate limit. The wait is the platform's hint when it gives one,
// otherwise base * 2^attempt capped at max.
func retryOnRateLimit(ctx context.Context, base, max time.Duration, rateLimited func(error) (time.Duration, bool), fn func() error) error {
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		hint, ok := rateLimited(err)
		if !ok || attempt == maxRetries {
			return err
		}

		wait := hint
		if wait <= 0 {
			wait = time.Duration(math.Pow(2, float64(attempt))) * base
		}
		if wait > max {
			wait = max
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return nil // unreachable
}
