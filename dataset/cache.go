package dataset

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/YuminosukeSato/fraudml/pkg/errors"
	"github.com/YuminosukeSato/fraudml/pkg/log"
)

// FrameCache stores encoded frames. Get returns (nil, nil) on a miss.
type FrameCache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// RedisFrameCache implements FrameCache using Redis.
type RedisFrameCache struct {
	client *redis.Client
}

// NewRedisFrameCache connects to Redis and verifies the connection.
func NewRedisFrameCache(ctx context.Context, addr, password string, db int) (*RedisFrameCache, error) {
	if addr == "" {
		addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, errors.Wrapf(err, "connect to redis at %s", addr)
	}

	return &RedisFrameCache{client: client}, nil
}

// NewRedisFrameCacheFromClient wraps an existing client.
func NewRedisFrameCacheFromClient(client *redis.Client) *RedisFrameCache {
	return &RedisFrameCache{client: client}
}

// Get retrieves a value from Redis.
func (c *RedisFrameCache) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return val, nil
}

// Set stores a value in Redis with TTL. A zero TTL keeps the key forever.
func (c *RedisFrameCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.client.Set(ctx, key, value, ttl).Err()
}

// Close closes the Redis connection.
func (c *RedisFrameCache) Close() error {
	return c.client.Close()
}

// CachedProvider serves frames from a FrameCache and fills it from another
// provider on a miss. Cache failures are logged and the inner provider is
// used directly. Errors and empty frames are never cached.
type CachedProvider struct {
	inner  Provider
	cache  FrameCache
	ttl    time.Duration
	logger log.Logger
}

// NewCachedProvider wraps inner with cache.
func NewCachedProvider(inner Provider, cache FrameCache, ttl time.Duration, logger log.Logger) *CachedProvider {
	if logger == nil {
		logger = log.GetLoggerWithName("dataset")
	}
	return &CachedProvider{inner: inner, cache: cache, ttl: ttl, logger: logger}
}

// CacheKey returns the key a dataset is cached under.
func CacheKey(name string, limit int) string {
	return "fraudml:frame:" + name + ":" + strconv.Itoa(limit)
}

// Load implements Provider.
func (p *CachedProvider) Load(ctx context.Context, name string, limit int) (*Frame, error) {
	key := CacheKey(name, limit)
	logger := p.logger.With(log.DatasetKey, name, "cache.key", key)

	data, err := p.cache.Get(ctx, key)
	switch {
	case err != nil:
		logger.Warn("Frame cache read failed, loading from source", err)
	case data != nil:
		frame := NewFrame()
		if err := frame.UnmarshalBinary(data); err != nil {
			logger.Warn("Discarding undecodable cached frame", err)
			break
		}
		logger.Info("Dataset served from cache", log.SourceKey, "cache", log.SamplesKey, frame.Len())
		return frame, nil
	}

	frame, err := p.inner.Load(ctx, name, limit)
	if err != nil || frame.Empty() {
		return frame, err
	}

	payload, err := frame.MarshalBinary()
	if err != nil {
		logger.Warn("Frame encoding failed, not caching", err)
		return frame, nil
	}
	if err := p.cache.Set(ctx, key, payload, p.ttl); err != nil {
		logger.Warn("Frame cache write failed", err)
	}
	return frame, nil
}
