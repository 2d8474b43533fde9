package quote

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	cacheKeyPrefix = "quote:v1:"
	genKeySuffix   = ":gen"
	genTTL         = 24 * time.Hour
)

// setIfCurrentScript writes the cached quote only while the generation key
// still holds the value the reader saw before loading from the store.
var setIfCurrentScript = redis.NewScript(`local cur = redis.call("get", KEYS[1])
if not cur then cur = "" end
if cur ~= ARGV[1] then
  return 0
end
redis.call("set", KEYS[2], ARGV[2], "PX", ARGV[3])
return 1`)

// Cache keeps the quote read model in Redis.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCache constructs a cache helper. A nil client disables caching.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

// CacheKey returns the Redis key holding quote id.
func CacheKey(id uuid.UUID) string {
	return cacheKeyPrefix + id.String()
}

func genKey(id uuid.UUID) string {
	return CacheKey(id) + genKeySuffix
}

// Get reports whether the quote was cached and decodes it into dst.
func (c *Cache) Get(ctx context.Context, id uuid.UUID, dst *Quote) (bool, error) {
	if c == nil || c.client == nil {
		return false, nil
	}
	data, err := c.client.Get(ctx, CacheKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return false, err
	}
	return true, nil
}

// Generation returns the invalidation counter of quote id, or "" when the
// quote has never been invalidated. Read it before loading from the store
// and hand it to SetIfCurrent.
func (c *Cache) Generation(ctx context.Context, id uuid.UUID) (string, error) {
	if c == nil || c.client == nil {
		return "", nil
	}
	gen, err := c.client.Get(ctx, genKey(id)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return gen, err
}

// SetIfCurrent stores q unless the quote was invalidated after gen was read.
// It reports whether the copy was written.
func (c *Cache) SetIfCurrent(ctx context.Context, q Quote, gen string) (bool, error) {
	if c == nil || c.client == nil || c.ttl <= 0 {
		return false, nil
	}
	data, err := json.Marshal(q)
	if err != nil {
		return false, err
	}
	n, err := setIfCurrentScript.Run(ctx, c.client,
		[]string{genKey(q.ID), CacheKey(q.ID)},
		gen, data, c.ttl.Milliseconds()).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Invalidate drops the cached copy of quote id and bumps its generation so
// readers that loaded an older row do not write it back.
func (c *Cache) Invalidate(ctx context.Context, id uuid.UUID) error {
	if c == nil || c.client == nil {
		return nil
	}
	_, err := c.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Incr(ctx, genKey(id))
		p.Expire(ctx, genKey(id), genTTL)
		p.Del(ctx, CacheKey(id))
		return nil
	})
	return err
}
