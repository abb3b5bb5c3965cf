package storage

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrKeyNotFound is returned by Get when the key does not exist.
var ErrKeyNotFound = errors.New("key does not exist")

// CacheInterface defines the set of methods that need to be implemented to
// be used as a cache storage.
type CacheInterface interface {
	Connect(url string) error
	Disconnect() error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Get(ctx context.Context, key string) (interface{}, error)
	// SetNX sets the key only if it is absent and reports whether it did.
	SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error
}

// NewCache creates a new CacheInterface for the named backend ("redis" or "memory").
// It connects to the provided address, and returns the cache instance or
// an error if the connection failed.
func NewCache(backend, url string) (CacheInterface, error) {
	var cache CacheInterface
	switch backend {
	case "redis":
		cache = NewRedisCache()
	case "memory":
		cache = NewMemoryCache()
	default:
		return nil, fmt.Errorf("unknown cache backend %q", backend)
	}
	err := cache.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cache: %w", err)
	}
	return cache, nil
}
