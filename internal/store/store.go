// Package store holds the stats cache backends and the report archive.
package store

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Cache stores opaque values with a time to live. Implementations must be safe for concurrent use.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Close() error
}

type cacheEntry struct {
	value     []byte
	expiresAt time.Time
}

// MemoryCache is an in-process cache for single-instance deployments and tests.
type MemoryCache struct {
	mu         sync.RWMutex
	maxEntries int
	now        func() time.Time
	entries    map[string]cacheEntry
}

// NewMemoryCache creates a memory cache. A positive maxEntries rejects new keys once reached.
func NewMemoryCache(maxEntries int) *MemoryCache {
	return &MemoryCache{
		maxEntries: maxEntries,
		now:        time.Now,
		entries:    make(map[string]cacheEntry),
	}
}

// Get returns a copy of the stored value when present and not expired.
func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, exists := c.entries[key]
	if !exists || entry.expired(c.now()) {
		return nil, false, nil
	}
	return append([]byte(nil), entry.value...), true, nil
}

// Set stores value under key. A non-positive ttl keeps the entry until it is replaced or collected.
func (c *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("cache key is required")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if _, exists := c.entries[key]; !exists && c.maxEntries > 0 && len(c.entries) >= c.maxEntries {
		trimExpired(c.entries, now)
		if len(c.entries) >= c.maxEntries {
			return fmt.Errorf("cache entry budget exceeded")
		}
	}

	entry := cacheEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		entry.expiresAt = now.Add(ttl)
	}
	c.entries[key] = entry
	return nil
}

// GC deletes expired entries.
func (c *MemoryCache) GC(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	trimExpired(c.entries, now)
}

// Close is a no-op.
func (c *MemoryCache) Close() error {
	return nil
}

func (e cacheEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

func trimExpired(entries map[string]cacheEntry, now time.Time) {
	for key, entry := range entries {
		if entry.expired(now) {
			delete(entries, key)
		}
	}
}
