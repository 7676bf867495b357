package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

const cacheVersionKey = "catalog:version"

// Cache is a read-through Redis cache for variant lookups. Writes bump a
// version counter so stale entries are never read again and expire by TTL.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
	group  singleflight.Group
}

// NewCache instantiates the cache helper. A nil client disables caching.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Cache{client: client, ttl: ttl}
}

// Version returns the current cache version, initialising when missing.
func (c *Cache) Version(ctx context.Context) (int64, error) {
	if c == nil || c.client == nil {
		return 0, nil
	}
	ver, err := c.client.Get(ctx, cacheVersionKey).Int64()
	if errors.Is(err, redis.Nil) {
		if err := c.client.SetNX(ctx, cacheVersionKey, 1, 0).Err(); err != nil {
			return 0, err
		}
		return c.client.Get(ctx, cacheVersionKey).Int64()
	}
	return ver, err
}

// Bump invalidates every cached entry.
func (c *Cache) Bump(ctx context.Context) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Incr(ctx, cacheVersionKey).Err()
}

// Variant loads a variant through the cache. Concurrent misses for the same
// key share one loader call.
func (c *Cache) Variant(ctx context.Context, organizationID, variantID int64, loader func(context.Context) (VariantInfo, error)) (VariantInfo, error) {
	if c == nil || c.client == nil {
		return loader(ctx)
	}
	ver, err := c.Version(ctx)
	if err != nil {
		return loader(ctx)
	}
	key := fmt.Sprintf("catalog:variant:%d:%d:%d", organizationID, variantID, ver)
	if payload, err := c.client.Get(ctx, key).Bytes(); err == nil {
		var info VariantInfo
		if err := json.Unmarshal(payload, &info); err == nil {
			return info, nil
		}
	}
	v, err, _ := c.group.Do(key, func() (any, error) {
		info, err := loader(ctx)
		if err != nil {
			return VariantInfo{}, err
		}
		if raw, err := json.Marshal(info); err == nil {
			_ = c.client.Set(ctx, key, raw, c.ttl).Err()
		}
		return info, nil
	})
	if err != nil {
		return VariantInfo{}, err
	}
	return v.(VariantInfo), nil
}
