package quote

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// CachingSource decorates a Source with Redis caching so that repeated
// lookups within a short window (validate, commit, portfolio render) see a
// stable price without extra round-trips to the quote API.
//
// A nil Redis client disables caching and passes every lookup through.
type CachingSource struct {
	inner     Source
	rdb       *redis.Client
	ttl       time.Duration
	namespace string
}

var _ Source = (*CachingSource)(nil)

// NewCachingSource wraps inner with a Redis cache. If ttl is zero or
// negative it defaults to one minute. If namespace is empty it uses "quotes".
func NewCachingSource(rdb *redis.Client, ttl time.Duration, inner Source, namespace string) *CachingSource {
	if ttl <= 0 {
		ttl = time.Minute
	}
	if namespace == "" {
		namespace = "quotes"
	}
	return &CachingSource{inner: inner, rdb: rdb, ttl: ttl, namespace: namespace}
}

// Lookup returns a cached quote when present, falling back to the inner
// source otherwise. Failed lookups are never cached.
func (c *CachingSource) Lookup(ctx context.Context, symbol string) (*Quote, error) {
	if c.rdb == nil {
		return c.inner.Lookup(ctx, symbol)
	}

	key := fmt.Sprintf("%s:%s", c.namespace, symbol)

	if b, err := c.rdb.Get(ctx, key).Bytes(); err == nil && len(b) > 0 {
		var q Quote
		if err := json.Unmarshal(b, &q); err == nil {
			return &q, nil
		}
		// drop the corrupt entry and fall through
		_ = c.rdb.Del(ctx, key).Err()
	}

	q, err := c.inner.Lookup(ctx, symbol)
	if err != nil {
		return nil, err
	}

	if b, err := json.Marshal(q); err == nil {
		_ = c.rdb.Set(ctx, key, b, c.ttl).Err()
	}

	return q, nil
}
