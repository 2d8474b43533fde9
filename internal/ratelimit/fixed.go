package ratelimit

import (
	"context"
	"errors"
	"time"

	limiter "github.com/ulule/limiter/v3"
)

// FixedWindow delegates to ulule/limiter, counting requests per fixed period.
type FixedWindow struct {
	Store limiter.Store
}

// Allow counts one request for key against max per window.
func (f FixedWindow) Allow(ctx context.Context, key string, window time.Duration, max int) (Result, error) {
	if max <= 0 || window <= 0 {
		return Result{Allowed: true, Remaining: max, ResetAt: time.Now().Add(window)}, nil
	}
	if f.Store == nil {
		return Result{}, errors.New("ratelimit: limiter store not configured")
	}
	lim := limiter.New(f.Store, limiter.Rate{Period: window, Limit: int64(max)})
	res, err := lim.Get(ctx, key)
	if err != nil {
		return Result{}, err
	}
	return Result{
		Allowed:   !res.Reached,
		Remaining: int(res.Remaining),
		ResetAt:   time.Unix(res.Reset, 0),
	}, nil
}
