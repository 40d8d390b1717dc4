package inference

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/time/rate"
)

// Throttled limits request rate per backend model before delegating.
type Throttled struct {
	next  Client
	rps   float64
	burst int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewThrottled wraps next with a per-model token bucket.
func NewThrottled(next Client, rps float64, burst int) *Throttled {
	if rps <= 0 {
		rps = 2
	}
	if burst <= 0 {
		burst = 4
	}
	return &Throttled{next: next, rps: rps, burst: burst, limiters: make(map[string]*rate.Limiter)}
}

func (t *Throttled) limiter(model string) *rate.Limiter {
	t.mu.Lock()
	defer t.mu.Unlock()
	if l, ok := t.limiters[model]; ok {
		return l
	}
	l := rate.NewLimiter(rate.Limit(t.rps), t.burst)
	t.limiters[model] = l
	return l
}

// Complete waits for the model's limiter, then calls the wrapped client.
func (t *Throttled) Complete(ctx context.Context, req Request) (Response, error) {
	if err := t.limiter(req.Model).Wait(ctx); err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return Response{}, fmt.Errorf("inference: throttle: %w", ctx.Err())
		}
		return Response{}, fmt.Errorf("inference: throttle: %w: %w", ErrTimeout, err)
	}
	return t.next.Complete(ctx, req)
}
