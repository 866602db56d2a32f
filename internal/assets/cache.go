package assets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/xtrntr/rwaexchange/internal/models"
)

// Cache holds asset records for a bounded time
type Cache interface {
	Get(ctx context.Context, id int64) (*models.Asset, bool, error)
	Set(ctx context.Context, asset models.Asset) error
	Delete(ctx context.Context, id int64) error
}

// RedisCache stores assets as JSON under "asset:<id>"
type RedisCache struct {
	client redis.Cmdable
	ttl    time.Duration
}

// NewRedisCache creates a cache on an existing client
func NewRedisCache(client redis.Cmdable, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

func redisKey(id int64) string {
	return "asset:" + strconv.FormatInt(id, 10)
}

func (c *RedisCache) Get(ctx context.Context, id int64) (*models.Asset, bool, error) {
	data, err := c.client.Get(ctx, redisKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read asset %d from redis: %w", id, err)
	}
	var a models.Asset
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, false, fmt.Errorf("failed to decode cached asset %d: %w", id, err)
	}
	return &a, true, nil
}

func (c *RedisCache) Set(ctx context.Context, asset models.Asset) error {
	data, err := json.Marshal(asset)
	if err != nil {
		return fmt.Errorf("failed to encode asset %d: %w", asset.ID, err)
	}
	if err := c.client.Set(ctx, redisKey(asset.ID), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache asset %d: %w", asset.ID, err)
	}
	return nil
}

func (c *RedisCache) Delete(ctx context.Context, id int64) error {
	if err := c.client.Del(ctx, redisKey(id)).Err(); err != nil {
		return fmt.Errorf("failed to evict asset %d: %w", id, err)
	}
	return nil
}

type memoryItem struct {
	asset     models.Asset
	expiresAt time.Time
}

// MemoryCache is a process-local cache with per-entry expiry
type MemoryCache struct {
	mu    sync.RWMutex
	items map[int64]memoryItem
	ttl   time.Duration
	now   func() time.Time
}

// NewMemoryCache creates an empty cache
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{items: make(map[int64]memoryItem), ttl: ttl, now: time.Now}
}

func (c *MemoryCache) Get(ctx context.Context, id int64) (*models.Asset, bool, error) {
	c.mu.RLock()
	item, ok := c.items[id]
	c.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	if !c.now().Before(item.expiresAt) {
		c.mu.Lock()
		delete(c.items, id)
		c.mu.Unlock()
		return nil, false, nil
	}
	a := item.asset
	return &a, true, nil
}

func (c *MemoryCache) Set(ctx context.Context, asset models.Asset) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[asset.ID] = memoryItem{asset: asset, expiresAt: c.now().Add(c.ttl)}
	return nil
}

func (c *MemoryCache) Delete(ctx context.Context, id int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, id)
	return nil
}
