package authz

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const cacheVersionKey = "authz:resolution:version"

// RedisCache is a Redis backed ResolutionCache. Entries are JSON values with
// a per-user key; global invalidation bumps a version counter embedded in
// every key, so stale entries fall out of reach and expire by TTL.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache constructs a RedisCache over the given client.
func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

func (c *RedisCache) version(ctx context.Context) (int64, error) {
	ver, err := c.client.Get(ctx, cacheVersionKey).Int64()
	if err == redis.Nil {
		if err := c.client.Set(ctx, cacheVersionKey, 1, 0).Err(); err != nil {
			return 0, err
		}
		return 1, nil
	}
	if err != nil {
		return 0, err
	}
	if ver <= 0 {
		ver = 1
		if err := c.client.Set(ctx, cacheVersionKey, ver, 0).Err(); err != nil {
			return 0, err
		}
	}
	return ver, nil
}

func (c *RedisCache) key(ctx context.Context, userID int64) (string, error) {
	ver, err := c.version(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("authz:resolution:%d:%d", ver, userID), nil
}

// Get loads the cached resolution, returning (nil, nil) on a miss.
func (c *RedisCache) Get(ctx context.Context, userID int64) (*Resolution, error) {
	key, err := c.key(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("authz: cache key: %w", err)
	}
	payload, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("authz: cache get: %w", err)
	}
	var res Resolution
	if err := json.Unmarshal(payload, &res); err != nil {
		return nil, fmt.Errorf("authz: cache decode: %w", err)
	}
	return &res, nil
}

// Set stores the resolution with the given TTL.
func (c *RedisCache) Set(ctx context.Context, userID int64, res Resolution, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	key, err := c.key(ctx, userID)
	if err != nil {
		return fmt.Errorf("authz: cache key: %w", err)
	}
	payload, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("authz: cache encode: %w", err)
	}
	if err := c.client.Set(ctx, key, payload, ttl).Err(); err != nil {
		return fmt.Errorf("authz: cache set: %w", err)
	}
	return nil
}

// Delete evicts a single user entry under the current version.
func (c *RedisCache) Delete(ctx context.Context, userID int64) error {
	key, err := c.key(ctx, userID)
	if err != nil {
		return fmt.Errorf("authz: cache key: %w", err)
	}
	if err := c.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("authz: cache delete: %w", err)
	}
	return nil
}

// Flush invalidates every entry by bumping the version counter.
func (c *RedisCache) Flush(ctx context.Context) error {
	if err := c.client.Incr(ctx, cacheVersionKey).Err(); err != nil {
		return fmt.Errorf("authz: cache flush: %w", err)
	}
	return nil
}

var _ ResolutionCache = (*RedisCache)(nil)
