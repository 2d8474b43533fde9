// Package lock serialises work on a shared key across API and worker processes.
package lock

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	// DefaultTTL is used when WithLock is called without a positive ttl.
	DefaultTTL = 30 * time.Second

	defaultBackoff = 50 * time.Millisecond
	maxBackoff     = time.Second
)

var (
	// ErrNotAcquired is returned when the lock is still held by someone else
	// once the caller's context or MaxWait runs out.
	ErrNotAcquired = errors.New("lock: not acquired")

	errNoClient = errors.New("lock: redis client not configured")
)

// releaseScript deletes the key only while it still carries our token, so a
// holder whose ttl lapsed cannot drop a lock taken over by another process.
var releaseScript = redis.NewScript(`if redis.call("get", KEYS[1]) == ARGV[1] then
  return redis.call("del", KEYS[1])
end
return 0`)

// Locker is a Redis SET NX lock with token-checked release.
type Locker struct {
	R *redis.Client
	// RetryBackoff is the first wait between attempts. It doubles up to one
	// second while the key stays taken.
	RetryBackoff time.Duration
	// MaxWait bounds the time spent waiting for the key. It does not apply to
	// fn. Zero waits for as long as ctx allows.
	MaxWait time.Duration
	// Prefix is prepended to every key, e.g. "lock:".
	Prefix string
}

// WithLock runs fn while holding key. The lock is released after fn returns,
// whatever fn returns.
func (l Locker) WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error {
	if l.R == nil {
		return errNoClient
	}
	if fn == nil {
		return errors.New("lock: callback not provided")
	}
	if strings.TrimSpace(key) == "" {
		return errors.New("lock: key is required")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	full := l.Prefix + key
	token := uuid.NewString()
	waitCtx := ctx
	if l.MaxWait > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, l.MaxWait)
		defer cancel()
	}
	if err := l.acquire(waitCtx, full, token, ttl); err != nil {
		return err
	}
	defer l.release(full, token)
	return fn(ctx)
}

func (l Locker) acquire(ctx context.Context, key, token string, ttl time.Duration) error {
	wait := l.RetryBackoff
	if wait <= 0 {
		wait = defaultBackoff
	}
	for {
		ok, err := l.R.SetNX(ctx, key, token, ttl).Result()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return fmt.Errorf("%w: %s: %w", ErrNotAcquired, key, ctxErr)
			}
			return fmt.Errorf("lock: acquire %s: %w", key, err)
		}
		if ok {
			return nil
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%w: %s: %w", ErrNotAcquired, key, ctx.Err())
		case <-timer.C:
		}
		if wait < maxBackoff {
			wait = min(wait*2, maxBackoff)
		}
	}
}

// release uses a fresh context so a cancelled request still frees the key.
func (l Locker) release(key, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = releaseScript.Run(ctx, l.R, []string{key}, token).Err()
}
