// Package cache is a two-tier cache: in-memory L1 with an optional Redis L2.
package cache

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// Tiered caches byte values in memory and, when configured, in Redis.
// L1 is lost on restart; L2 survives it.
type Tiered struct {
	l1     sync.Map
	rdb    *redis.Client
	ttl    time.Duration
	prefix string
	logger *slog.Logger

	hits   atomic.Int64
	misses atomic.Int64
}

type entry struct {
	data      []byte
	expiresAt time.Time
}

// New creates a cache. An empty or unreachable redisURL disables L2.
func New(redisURL, prefix string, ttl time.Duration, logger *slog.Logger) *Tiered {
	c := &Tiered{ttl: ttl, prefix: prefix, logger: logger}
	if redisURL == "" {
		return c
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		logger.Warn("cache: invalid redis URL, L2 disabled", slog.Any("error", err))
		return c
	}
	rdb := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Warn("cache: redis unreachable, L2 disabled", slog.Any("error", err))
		_ = rdb.Close()
		return c
	}
	c.rdb = rdb
	logger.Info("cache: L2 redis connected", slog.String("addr", opts.Addr))
	return c
}

// Get tries L1, then L2. An L2 hit repopulates L1.
func (c *Tiered) Get(ctx context.Context, key string) ([]byte, bool) {
	key = c.prefix + key
	if val, ok := c.l1.Load(key); ok {
		e := val.(*entry)
		if time.Now().Before(e.expiresAt) {
			c.hits.Add(1)
			return e.data, true
		}
		c.l1.Delete(key)
	}

	if c.rdb != nil {
		data, err := c.rdb.Get(ctx, key).Bytes()
		if err == nil {
			c.hits.Add(1)
			c.l1.Store(key, &entry{data: data, expiresAt: time.Now().Add(c.ttl)})
			return data, true
		}
		if err != redis.Nil {
			c.logger.Debug("cache: L2 get failed", slog.Any("error", err))
		}
	}

	c.misses.Add(1)
	return nil, false
}

// Set stores data in both tiers.
func (c *Tiered) Set(ctx context.Context, key string, data []byte) {
	key = c.prefix + key
	c.l1.Store(key, &entry{data: data, expiresAt: time.Now().Add(c.ttl)})
	if c.rdb != nil {
		if err := c.rdb.Set(ctx, key, data, c.ttl).Err(); err != nil {
			c.logger.Debug("cache: L2 set failed", slog.Any("error", err))
		}
	}
}

// Stats returns hit and miss counts.
func (c *Tiered) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// HasRedis reports whether L2 is active.
func (c *Tiered) HasRedis() bool {
	return c.rdb != nil
}

// Close releases the Redis connection.
func (c *Tiered) Close() error {
	if c.rdb == nil {
		return nil
	}
	return c.rdb.Close()
}
