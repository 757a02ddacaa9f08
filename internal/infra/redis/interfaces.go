package redis

import (
	"context"
	"time"
)

// Pinger is an interface for health check operations.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Closer is an interface for graceful shutdown.
type Closer interface {
	Close() error
}

// CacheStore defines the cache operations application services depend on.
type CacheStore[T any] interface {
	// Get returns ErrCacheMiss if the key does not exist.
	Get(ctx context.Context, key string) (*T, error)
	Set(ctx context.Context, key string, value T) error
	SetWithTTL(ctx context.Context, key string, value T, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	DeletePattern(ctx context.Context, pattern string) error
	GetOrSetFallback(ctx context.Context, key string, loader func(ctx context.Context) (*T, error)) (*T, error)
}

// CounterStore is an atomic per-key counter.
type CounterStore interface {
	Get(ctx context.Context, key string) (string, error)
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
}

var (
	_ Pinger          = (*Client)(nil)
	_ Closer          = (*Client)(nil)
	_ CounterStore    = (*Client)(nil)
	_ CacheStore[int] = (*Cache[int])(nil)
)
