package storage

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// MemoryCache is an in-process CacheInterface with per-key expiry.
// Values round-trip through JSON so Get behaves like the Redis backend.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

// NewMemoryCache creates an empty MemoryCache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]memoryEntry), now: time.Now}
}

func (c *MemoryCache) Connect(url string) error { return nil }

func (c *MemoryCache) Disconnect() error { return nil }

func (c *MemoryCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	b, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = c.entry(b, ttl)
	return nil
}

func (c *MemoryCache) Get(ctx context.Context, key string) (interface{}, error) {
	c.mu.Lock()
	e, ok := c.live(key)
	c.mu.Unlock()
	if !ok {
		return nil, ErrKeyNotFound
	}
	var result interface{}
	if err := json.Unmarshal(e.value, &result); err != nil {
		return nil, err
	}
	return result, nil
}

func (c *MemoryCache) SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error) {
	b, err := json.Marshal(value)
	if err != nil {
		return false, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.live(key); ok {
		return false, nil
	}
	c.entries[key] = c.entry(b, ttl)
	return true, nil
}

func (c *MemoryCache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	return nil
}

func (c *MemoryCache) Clear(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]memoryEntry)
	return nil
}

func (c *MemoryCache) entry(b []byte, ttl time.Duration) memoryEntry {
	e := memoryEntry{value: b}
	if ttl > 0 {
		e.expiresAt = c.now().Add(ttl)
	}
	return e
}

// live must be called with mu held.
func (c *MemoryCache) live(key string) (memoryEntry, bool) {
	e, ok := c.entries[key]
	if !ok {
		return memoryEntry{}, false
	}
	if !e.expiresAt.IsZero() && !c.now().Before(e.expiresAt) {
		delete(c.entries, key)
		return memoryEntry{}, false
	}
	return e, true
}
