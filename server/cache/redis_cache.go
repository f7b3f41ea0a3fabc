package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

type RedisOptions struct {
	Host     string
	Port     int
	Password string
	DB       int
	PoolSize int
}

// NewRedisCache connects and pings the server; an unreachable server is an
// error so callers can fall back to MemoryCache.
func NewRedisCache(ctx context.Context, opts RedisOptions, ttl time.Duration, logger *zap.Logger) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", opts.Host, opts.Port),
		Password: opts.Password,
		DB:       opts.DB,
		PoolSize: opts.PoolSize,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("Connected to Redis",
		zap.String("host", opts.Host),
		zap.Int("port", opts.Port),
		zap.Int("db", opts.DB))

	return newRedisCache(client, ttl, logger), nil
}

func newRedisCache(client *redis.Client, ttl time.Duration, logger *zap.Logger) *RedisCache {
	return &RedisCache{client: client, ttl: ttl, logger: logger}
}

func (c *RedisCache) Set(ctx context.Context, key string, value interface{}) error {
	return c.SetWithTTL(ctx, key, value, c.ttl)
}

func (c *RedisCache) SetWithTTL(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode cache value: %w", err)
	}
	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (c *RedisCache) Get(ctx context.Context, key string, dest interface{}) error {
	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrCacheMiss
	}
	if err != nil {
		return fmt.Errorf("redis get %s: %w", key, err)
	}

	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("failed to decode cache value: %w", err)
	}
	return nil
}

func (c *RedisCache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, key).Err()
}

func (c *RedisCache) Exists(ctx context.Context, key string) (bool, error) {
	n, err := c.client.Exists(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (c *RedisCache) GetStats(ctx context.Context) (*CacheStats, error) {
	stats := &CacheStats{Backend: "redis"}

	if err := c.client.Ping(ctx).Err(); err != nil {
		stats.Info = err.Error()
		return stats, nil
	}
	stats.Connected = true

	size, err := c.client.DBSize(ctx).Result()
	if err != nil {
		return nil, err
	}
	pool := c.client.PoolStats()
	stats.Info = fmt.Sprintf("keys=%d,hits=%d,misses=%d,total_conns=%d,idle_conns=%d,ttl=%v",
		size, pool.Hits, pool.Misses, pool.TotalConns, pool.IdleConns, c.ttl)

	return stats, nil
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}
