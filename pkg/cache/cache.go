// Package cache is a read-through JSON cache with write-side invalidation.
// A nil *Cache, or one built without a store, behaves as an always-miss cache.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/parkez/parkez-backend/pkg/logger"
	pkgredis "github.com/parkez/parkez-backend/pkg/redis"
)

// Store is the get/set/delete capability backing the cache.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
}

type Cache struct {
	store Store
	ttl   time.Duration
	logg  *logger.Logger
}

func New(store Store, ttl time.Duration, logg *logger.Logger) *Cache {
	return &Cache{store: store, ttl: ttl, logg: logg}
}

func (c *Cache) enabled() bool {
	return c != nil && c.store != nil
}

// GetJSON decodes the cached value into dest. It reports false on a miss or
// on any store error, which is logged and otherwise ignored.
func (c *Cache) GetJSON(ctx context.Context, key string, dest any) bool {
	if !c.enabled() {
		return false
	}
	raw, err := c.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, pkgredis.ErrNil) {
			c.warn(ctx, key, "cache read failed", err)
		}
		return false
	}
	if err := json.Unmarshal([]byte(raw), dest); err != nil {
		c.warn(ctx, key, "cache decode failed", err)
		return false
	}
	return true
}

// SetJSON stores value under key with the configured TTL.
func (c *Cache) SetJSON(ctx context.Context, key string, value any) {
	if !c.enabled() {
		return
	}
	payload, err := json.Marshal(value)
	if err != nil {
		c.warn(ctx, key, "cache encode failed", err)
		return
	}
	if err := c.store.Set(ctx, key, string(payload), c.ttl); err != nil {
		c.warn(ctx, key, "cache write failed", err)
	}
}

// Invalidate drops keys. Failures are logged, never returned.
func (c *Cache) Invalidate(ctx context.Context, keys ...string) {
	if !c.enabled() || len(keys) == 0 {
		return
	}
	if err := c.store.Del(ctx, keys...); err != nil && c.logg != nil {
		logCtx := c.logg.WithField(ctx, "keys", keys)
		c.logg.Warn(c.logg.WithField(logCtx, "error", err.Error()), "cache invalidation failed")
	}
}

// Remember returns the cached value for key, or loads, stores and returns it.
func Remember[T any](ctx context.Context, c *Cache, key string, load func(context.Context) (T, error)) (T, error) {
	var cached T
	if c.GetJSON(ctx, key, &cached) {
		return cached, nil
	}
	value, err := load(ctx)
	if err != nil {
		return value, err
	}
	c.SetJSON(ctx, key, value)
	return value, nil
}

func (c *Cache) warn(ctx context.Context, key, msg string, err error) {
	if c.logg == nil {
		return
	}
	logCtx := c.logg.WithFields(ctx, map[string]any{"cache_key": key, "error": err.Error()})
	c.logg.Warn(logCtx, msg)
}
