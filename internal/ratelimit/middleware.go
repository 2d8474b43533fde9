package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
	limiter "github.com/ulule/limiter/v3"
	limiterredis "github.com/ulule/limiter/v3/drivers/store/redis"

	"github.com/noah-isme/backend-quotes/internal/common"
)

// Strategies accepted by New.
const (
	StrategySliding = "sliding"
	StrategyFixed   = "fixed"
)

// Result is the outcome of a single Allow call.
type Result struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// Allower decides whether a request identified by key may proceed.
type Allower interface {
	Allow(ctx context.Context, key string, window time.Duration, max int) (Result, error)
}

// New returns the limiter for strategy, sharing client and prefix.
func New(strategy string, client *redis.Client, prefix string) (Allower, error) {
	switch strings.ToLower(strings.TrimSpace(strategy)) {
	case "", StrategySliding:
		return SlidingWindow{Client: client, Prefix: prefix}, nil
	case StrategyFixed:
		store, err := limiterredis.NewStoreWithOptions(client, limiter.StoreOptions{Prefix: strings.TrimSuffix(prefix, ":")})
		if err != nil {
			return nil, fmt.Errorf("ratelimit: fixed window store: %w", err)
		}
		return FixedWindow{Store: store}, nil
	default:
		return nil, fmt.Errorf("ratelimit: unknown strategy %q", strategy)
	}
}

// Config describes how to derive a rate limit key and thresholds.
type Config struct {
	Key    func(*http.Request) string
	Window time.Duration
	Max    int
}

// ByClientIP keys requests on the caller address.
func ByClientIP(r *http.Request) string {
	return "ip:" + common.ClientIP(r)
}

// Handler enforces rate limits before delegating to the next handler.
type Handler struct {
	Limiter Allower
	Config  Config
	OnError func(error)
}

// Middleware implements the http.Handler middleware interface. Limiter
// failures let the request through.
func (h Handler) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.Config.Key == nil || h.Limiter == nil {
			next.ServeHTTP(w, r)
			return
		}
		res, err := h.Limiter.Allow(r.Context(), h.Config.Key(r), h.Config.Window, h.Config.Max)
		if err != nil {
			if h.OnError != nil {
				h.OnError(err)
			}
			next.ServeHTTP(w, r)
			return
		}

		limitValue := h.Config.Max
		if limitValue < 0 {
			limitValue = 0
		}
		headers := w.Header()
		headers.Set("X-RateLimit-Limit", strconv.Itoa(limitValue))
		headers.Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
		headers.Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))
		if !res.Allowed {
			retryAfter := int(time.Until(res.ResetAt).Seconds())
			if retryAfter < 0 {
				retryAfter = 0
			}
			headers.Set("Retry-After", strconv.Itoa(retryAfter))
			common.JSONError(w, http.StatusTooManyRequests, common.CodeRateLimited, "rate limit exceeded", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}
