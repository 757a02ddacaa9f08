package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache provides type-safe caching operations.
type Cache[T any] struct {
	client    *Client
	keyPrefix string
	ttl       time.Duration
}

// NewCache creates a new type-safe cache.
func NewCache[T any](client *Client, prefix string, ttl time.Duration) (*Cache[T], error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if prefix == "" {
		return nil, errors.New("key prefix is required")
	}
	if ttl <= 0 {
		return nil, errors.New("TTL must be positive")
	}

	return &Cache[T]{
		client:    client,
		keyPrefix: prefix,
		ttl:       ttl,
	}, nil
}

func (c *Cache[T]) buildKey(key string) string {
	return fmt.Sprintf("%s:%s", c.keyPrefix, key)
}

// Get retrieves a cached value by key.
// Returns ErrCacheMiss if the key does not exist.
func (c *Cache[T]) Get(ctx context.Context, key string) (*T, error) {
	if key == "" {
		return nil, errors.New("key is required")
	}

	start := time.Now()
	data, err := c.client.client.Get(ctx, c.buildKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		DefaultMetrics.RecordCacheMiss(c.keyPrefix)
		DefaultMetrics.ObserveOperation("cache_get", time.Since(start), nil)
		return nil, ErrCacheMiss
	}
	if err != nil {
		DefaultMetrics.ObserveOperation("cache_get", time.Since(start), err)
		return nil, fmt.Errorf("cache get: %w", err)
	}

	var value T
	if err := json.Unmarshal(data, &value); err != nil {
		DefaultMetrics.ObserveOperation("cache_get", time.Since(start), err)
		return nil, fmt.Errorf("cache unmarshal: %w", err)
	}

	DefaultMetrics.RecordCacheHit(c.keyPrefix)
	DefaultMetrics.ObserveOperation("cache_get", time.Since(start), nil)
	return &value, nil
}

// Set stores a value in the cache with the default TTL.
func (c *Cache[T]) Set(ctx context.Context, key string, value T) error {
	return c.SetWithTTL(ctx, key, value, c.ttl)
}

// SetWithTTL stores a value in the cache with a custom TTL.
func (c *Cache[T]) SetWithTTL(ctx context.Context, key string, value T, ttl time.Duration) error {
	if key == "" {
		return errors.New("key is required")
	}
	if ttl <= 0 {
		return errors.New("TTL must be positive")
	}

	start := time.Now()
	data, err := json.Marshal(value)
	if err != nil {
		DefaultMetrics.ObserveOperation("cache_set", time.Since(start), err)
		return fmt.Errorf("cache marshal: %w", err)
	}

	if err := c.client.client.Set(ctx, c.buildKey(key), data, ttl).Err(); err != nil {
		DefaultMetrics.ObserveOperation("cache_set", time.Since(start), err)
		return fmt.Errorf("cache set: %w", err)
	}

	DefaultMetrics.ObserveOperation("cache_set", time.Since(start), nil)
	return nil
}

// Delete removes keys from the cache.
func (c *Cache[T]) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}

	full := make([]string, 0, len(keys))
	for _, k := range keys {
		if k == "" {
			return errors.New("key is required")
		}
		full = append(full, c.buildKey(k))
	}

	if err := c.client.client.Del(ctx, full...).Err(); err != nil {
		return fmt.Errorf("cache delete: %w", err)
	}
	return nil
}

// DeletePattern removes all keys matching a pattern under the cache prefix.
func (c *Cache[T]) DeletePattern(ctx context.Context, pattern string) error {
	if pattern == "" {
		return errors.New("pattern is required")
	}

	fullPattern := c.buildKey(pattern)

	var cursor uint64
	var totalDeleted int64
	for {
		keys, nextCursor, err := c.client.client.Scan(ctx, cursor, fullPattern, 100).Result()
		if err != nil {
			return fmt.Errorf("cache scan: %w", err)
		}

		if len(keys) > 0 {
			deleted, err := c.client.client.Del(ctx, keys...).Result()
			if err != nil {
				return fmt.Errorf("cache delete pattern: %w", err)
			}
			totalDeleted += deleted
		}

		cursor = nextCursor
		if cursor == 0 {
			break
		}
	}

	c.client.logger.Debug("cache delete pattern completed",
		"pattern", fullPattern,
		"deleted", totalDeleted,
	)
	return nil
}

// GetOrSet retrieves a value from cache, or calls the loader and caches the result.
// Redis errors other than a miss fail fast so an outage does not stampede the database.
func (c *Cache[T]) GetOrSet(ctx context.Context, key string, loader func(ctx context.Context) (*T, error)) (*T, error) {
	if loader == nil {
		return nil, errors.New("loader function is required")
	}

	value, err := c.Get(ctx, key)
	if err == nil {
		return value, nil
	}
	if errors.Is(err, ErrCacheMiss) {
		return c.loadAndCache(ctx, key, loader)
	}
	return nil, fmt.Errorf("cache unavailable: %w", err)
}

// GetOrSetFallback is like GetOrSet but falls back to the loader on any cache error.
func (c *Cache[T]) GetOrSetFallback(ctx context.Context, key string, loader func(ctx context.Context) (*T, error)) (*T, error) {
	if loader == nil {
		return nil, errors.New("loader function is required")
	}

	value, err := c.Get(ctx, key)
	if err == nil {
		return value, nil
	}
	if !errors.Is(err, ErrCacheMiss) {
		c.client.logger.Warn("cache get failed, falling back to source",
			"key", key,
			"error", err,
		)
	}
	return c.loadAndCache(ctx, key, loader)
}

func (c *Cache[T]) loadAndCache(ctx context.Context, key string, loader func(ctx context.Context) (*T, error)) (*T, error) {
	value, err := loader(ctx)
	if err != nil {
		return nil, err
	}

	if err := c.SetWithTTL(ctx, key, *value, c.ttl); err != nil {
		c.client.logger.Warn("cache set failed after load",
			"key", key,
			"error", err,
		)
	}
	return value, nil
}

// TTL returns the default TTL for this cache.
func (c *Cache[T]) TTL() time.Duration {
	return c.ttl
}

// Prefix returns the key prefix for this cache.
func (c *Cache[T]) Prefix() string {
	return c.keyPrefix
}
