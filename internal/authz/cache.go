package authz

import (
	"context"
	"sync"
	"time"
)

// ResolutionCache stores resolutions keyed by user id. Get returns (nil, nil)
// on a miss; implementations must be safe for concurrent use.
type ResolutionCache interface {
	Get(ctx context.Context, userID int64) (*Resolution, error)
	Set(ctx context.Context, userID int64, res Resolution, ttl time.Duration) error
	Delete(ctx context.Context, userID int64) error
	Flush(ctx context.Context) error
}

type memoryEntry struct {
	res       Resolution
	expiresAt time.Time
}

// MemoryCache is an in-process ResolutionCache with TTL eviction. It is the
// test and single-node default; RedisCache is the production backend.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[int64]memoryEntry
	now     func() time.Time
}

// NewMemoryCache constructs an empty MemoryCache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		entries: make(map[int64]memoryEntry),
		now:     time.Now,
	}
}

// Get returns the cached resolution when present and not expired.
func (c *MemoryCache) Get(_ context.Context, userID int64) (*Resolution, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[userID]
	if !ok {
		return nil, nil
	}
	if !c.now().Before(entry.expiresAt) {
		delete(c.entries, userID)
		return nil, nil
	}
	res := entry.res
	return &res, nil
}

// Set stores the resolution for ttl.
func (c *MemoryCache) Set(_ context.Context, userID int64, res Resolution, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[userID] = memoryEntry{res: res, expiresAt: c.now().Add(ttl)}
	return nil
}

// Delete evicts a single user entry.
func (c *MemoryCache) Delete(_ context.Context, userID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, userID)
	return nil
}

// Flush evicts every entry.
func (c *MemoryCache) Flush(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[int64]memoryEntry)
	return nil
}

// Sweep removes expired entries so the map does not grow unbounded.
func (c *MemoryCache) Sweep() {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for userID, entry := range c.entries {
		if !now.Before(entry.expiresAt) {
			delete(c.entries, userID)
		}
	}
}

// StartSweeper runs Sweep on the given interval until ctx is cancelled.
func (c *MemoryCache) StartSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.Sweep()
			}
		}
	}()
}

var _ ResolutionCache = (*MemoryCache)(nil)
