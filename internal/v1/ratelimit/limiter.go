// Package ratelimit bounds the request rate of individual connections so
// a misbehaving client cannot monopolize a room's lock.
package ratelimit

import (
	"context"
	"fmt"

	limiter "github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
)

// Limiter applies a shared rate policy to per-connection keys.
type Limiter struct {
	inner *limiter.Limiter
}

// New builds a memory-backed limiter from a formatted rate such as
// "30-S" (30 requests per second).
func New(rateSpec string) (*Limiter, error) {
	rate, err := limiter.NewRateFromFormatted(rateSpec)
	if err != nil {
		return nil, fmt.Errorf("parsing rate %q: %w", rateSpec, err)
	}
	return &Limiter{inner: limiter.New(memory.NewStore(), rate)}, nil
}

// Allow consumes one token for the key. Store errors fail open; dropping
// legitimate requests over bookkeeping problems is worse than letting a
// burst through.
func (l *Limiter) Allow(ctx context.Context, key string) bool {
	c, err := l.inner.Get(ctx, key)
	if err != nil {
		return true
	}
	return !c.Reached
}
