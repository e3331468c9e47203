package llm

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

const (
	defaultRateLimit = 5.0
	defaultBurst     = 2
)

// RateLimited throttles requests to next. It is shared by every task so a
// burst of parallel work cannot exceed the provider quota.
type RateLimited struct {
	next    Client
	limiter *rate.Limiter
}

// NewRateLimited allows rps requests per second with the given burst.
func NewRateLimited(next Client, rps float64, burst int) *RateLimited {
	if rps <= 0 {
		rps = defaultRateLimit
	}
	if burst <= 0 {
		burst = defaultBurst
	}
	return &RateLimited{next: next, limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

// Send waits for a token, then forwards the request.
func (r *RateLimited) Send(ctx context.Context, req Request) (*Response, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &Error{Kind: ErrRateLimit, Err: fmt.Errorf("rate limiter error: %w", err)}
	}
	return r.next.Send(ctx, req)
}
