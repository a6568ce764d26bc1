// Package cache provides Redis-backed caching with an in-memory
// fallback for when Redis is unavailable.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/Hollayemi/shp-sub005/internal/config"
	"github.com/Hollayemi/shp-sub005/internal/logging"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// ErrCacheMiss is returned when a key is absent or expired.
var ErrCacheMiss = errors.New("cache: key not found")

// Cache layers an in-memory map under an optional Redis connection.
// Redis failures degrade to the memory tier instead of surfacing.
type Cache struct {
	rdb *redis.Client

	mem   map[string]memEntry
	memMu sync.RWMutex
}

type memEntry struct {
	value     []byte
	expiresAt time.Time
}

// New connects to Redis using the given config. A failed ping is not
// fatal: the cache runs memory-only and logs the degradation once.
func New(cfg config.RedisConfig) *Cache {
	c := &Cache{mem: make(map[string]memEntry)}

	if cfg.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := rdb.Ping(ctx).Err(); err != nil {
			logging.L().Warn("redis unavailable, using in-memory cache",
				zap.String("addr", cfg.Addr), zap.Error(err))
			_ = rdb.Close()
		} else {
			c.rdb = rdb
		}
	}

	go c.cleanupLoop()
	return c
}

func (c *Cache) Get(ctx context.Context, key string) ([]byte, error) {
	if c.rdb != nil {
		data, err := c.rdb.Get(ctx, key).Bytes()
		if err == nil {
			return data, nil
		}
		if err != redis.Nil {
			logging.L().Debug("redis get failed", zap.String("key", key), zap.Error(err))
		}
	}

	c.memMu.RLock()
	entry, ok := c.mem[key]
	c.memMu.RUnlock()
	if !ok || time.Now().After(entry.expiresAt) {
		return nil, ErrCacheMiss
	}
	return entry.value, nil
}

func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if c.rdb != nil {
		if err := c.rdb.Set(ctx, key, value, ttl).Err(); err != nil {
			logging.L().Debug("redis set failed", zap.String("key", key), zap.Error(err))
		}
	}

	c.memMu.Lock()
	c.mem[key] = memEntry{value: value, expiresAt: time.Now().Add(ttl)}
	c.memMu.Unlock()
	return nil
}

func (c *Cache) Delete(ctx context.Context, key string) error {
	if c.rdb != nil {
		if err := c.rdb.Del(ctx, key).Err(); err != nil {
			logging.L().Debug("redis del failed", zap.String("key", key), zap.Error(err))
		}
	}

	c.memMu.Lock()
	delete(c.mem, key)
	c.memMu.Unlock()
	return nil
}

// GetJSON unmarshals a cached value into dest.
func (c *Cache) GetJSON(ctx context.Context, key string, dest interface{}) error {
	data, err := c.Get(ctx, key)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dest)
}

// SetJSON marshals value and caches it under key.
func (c *Cache) SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.Set(ctx, key, data, ttl)
}

func (c *Cache) Close() error {
	if c.rdb != nil {
		return c.rdb.Close()
	}
	return nil
}

// cleanupLoop evicts expired memory entries once a minute.
func (c *Cache) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		now := time.Now()
		c.memMu.Lock()
		for key, entry := range c.mem {
			if now.After(entry.expiresAt) {
				delete(c.mem, key)
			}
		}
		c.memMu.Unlock()
	}
}
