package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tinywideclouds/go-notifyhub/internal/metrics"
	"github.com/tinywideclouds/go-notifyhub/pkg/dispatch"
	"github.com/tinywideclouds/go-notifyhub/pkg/notify"
)

// ErrMiss is returned by CacheClient.Get when the key is absent.
var ErrMiss = errors.New("cache miss")

// CacheClient defines the subset of Redis commands we need.
type CacheClient interface {
	// Get returns ErrMiss if the key is absent.
	Get(ctx context.Context, key string, dest any) error
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Del(ctx context.Context, key string) error
}

// CachedDeviceStore is a Decorator that adds read-aside caching of API key
// lookups to any DeviceStore. Writes that change a device invalidate its
// entry.
type CachedDeviceStore struct {
	realStore dispatch.DeviceStore
	cache     CacheClient
	ttl       time.Duration
	logger    *slog.Logger
}

func NewCachedDeviceStore(realStore dispatch.DeviceStore, cache CacheClient, ttl time.Duration, logger *slog.Logger) *CachedDeviceStore {
	return &CachedDeviceStore{
		realStore: realStore,
		cache:     cache,
		ttl:       ttl,
		logger:    logger.With("component", "CachedDeviceStore"),
	}
}

// --- READ PATH (Read-Aside) ---

func (s *CachedDeviceStore) FindByAPIKey(ctx context.Context, apiKey string) (notify.Device, error) {
	key := s.cacheKey(apiKey)

	var cached notify.Device
	err := s.cache.Get(ctx, key, &cached)
	if err == nil {
		metrics.CacheLookupsTotal.WithLabelValues("hit").Inc()
		return cached, nil
	}
	if !errors.Is(err, ErrMiss) {
		s.logger.Warn("Cache read failed, falling back to store", "err", err)
	}
	metrics.CacheLookupsTotal.WithLabelValues("miss").Inc()

	dev, err := s.realStore.FindByAPIKey(ctx, apiKey)
	if err != nil {
		return notify.Device{}, err
	}

	// Caching is an optimization; a Redis outage only costs a store read.
	if err := s.cache.Set(ctx, key, dev, s.ttl); err != nil {
		s.logger.Warn("Cache fill failed", "err", err)
	}
	return dev, nil
}

// --- WRITE PATHS ---

// InsertOrGet never changes an existing record, so nothing cached goes stale.
func (s *CachedDeviceStore) InsertOrGet(ctx context.Context, dev notify.Device) (notify.Device, bool, error) {
	return s.realStore.InsertOrGet(ctx, dev)
}

// UpdateToken drops the entry before the write so a failed invalidation
// changes nothing, then again after it to clear any read that refilled the
// entry in between.
func (s *CachedDeviceStore) UpdateToken(ctx context.Context, apiKey, newPushToken string) error {
	key := s.cacheKey(apiKey)
	if err := s.cache.Del(ctx, key); err != nil {
		return fmt.Errorf("invalidate cached device: %w", err)
	}
	if err := s.realStore.UpdateToken(ctx, apiKey, newPushToken); err != nil {
		return err
	}
	if err := s.cache.Del(ctx, key); err != nil {
		s.logger.Warn("Cache invalidation after update failed", "err", err)
	}
	return nil
}

func (s *CachedDeviceStore) cacheKey(apiKey string) string {
	return "notifyhub:device:" + apiKey
}

// --- REDIS BACKING ---

// RedisClient stores values as JSON in Redis.
type RedisClient struct {
	rdb *redis.Client
}

// NewRedisClient connects and pings, so a bad address fails at startup
// rather than on the first lookup.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*RedisClient, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return &RedisClient{rdb: rdb}, nil
}

func (c *RedisClient) Get(ctx context.Context, key string, dest any) error {
	raw, err := c.rdb.Get(ctx, key).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		return ErrMiss
	case err != nil:
		return err
	}
	return json.Unmarshal(raw, dest)
}

func (c *RedisClient) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return c.rdb.Set(ctx, key, raw, ttl).Err()
}

func (c *RedisClient) Del(ctx context.Context, key string) error {
	return c.rdb.Del(ctx, key).Err()
}

func (c *RedisClient) Close() error { return c.rdb.Close() }
