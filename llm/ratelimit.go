package llm

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// RateLimited throttles calls to the wrapped client. Waiting honours the
// request context, so a cancelled request stops queueing immediately.
type RateLimited struct {
	next    Client
	limiter *rate.Limiter
}

// NewRateLimited wraps next with a token bucket of rps requests per second.
// A non-positive rps disables limiting and returns next unchanged.
func NewRateLimited(next Client, rps float64, burst int) Client {
	if rps <= 0 {
		return next
	}
	if burst < 1 {
		burst = 1
	}
	return &RateLimited{next: next, limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

// Generate implements Client.
func (r *RateLimited) Generate(ctx context.Context, req *GenerateRequest) (*GenerateResponse, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("llm: rate limit wait: %w", err)
	}
	return r.next.Generate(ctx, req)
}
