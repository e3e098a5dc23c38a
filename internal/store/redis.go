package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cam3ron2/gitstats-report/internal/telemetry"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const defaultRedisNamespace = "gitstats-report"

type redisCommander interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	SAdd(ctx context.Context, key string, members ...any) *redis.IntCmd
	SMembers(ctx context.Context, key string) *redis.StringSliceCmd
	Exists(ctx context.Context, keys ...string) *redis.IntCmd
	SRem(ctx context.Context, key string, members ...any) *redis.IntCmd
	Ping(ctx context.Context) *redis.StatusCmd
}

// RedisCacheConfig configures the Redis-backed stats cache.
type RedisCacheConfig struct {
	Namespace string
}

// RedisCache stores stats results in Redis so several instances share one cache.
type RedisCache struct {
	client    redisCommander
	closeFn   func() error
	namespace string
}

// NewRedisCache creates a Redis-backed cache.
func NewRedisCache(client redis.UniversalClient, cfg RedisCacheConfig) *RedisCache {
	closeFn := func() error { return nil }
	if client != nil {
		closeFn = client.Close
	}
	return newRedisCacheFromCommander(client, closeFn, cfg)
}

func newRedisCacheFromCommander(client redisCommander, closeFn func() error, cfg RedisCacheConfig) *RedisCache {
	namespace := strings.TrimSpace(cfg.Namespace)
	if namespace == "" {
		namespace = defaultRedisNamespace
	}
	if closeFn == nil {
		closeFn = func() error { return nil }
	}

	return &RedisCache{
		client:    client,
		closeFn:   closeFn,
		namespace: namespace,
	}
}

// Close closes the underlying Redis client.
func (c *RedisCache) Close() error {
	if c == nil || c.closeFn == nil {
		return nil
	}
	return c.closeFn()
}

// Ping checks that Redis answers.
func (c *RedisCache) Ping(ctx context.Context) error {
	if c == nil || c.client == nil {
		return fmt.Errorf("redis cache is not initialized")
	}
	return c.client.Ping(ctx).Err()
}

// Get reads key. A missing key is reported as a miss, not an error.
func (c *RedisCache) Get(ctx context.Context, key string) (value []byte, found bool, err error) {
	if c == nil || c.client == nil {
		return nil, false, fmt.Errorf("redis cache is not initialized")
	}
	ctx, span := c.startSpan(ctx, "redis.cache_get", key)
	defer func() { telemetry.EndSpan(span, err) }()

	raw, err := c.client.Get(ctx, c.prefixed(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		span.SetAttributes(attribute.Bool("cache.hit", false))
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read cache key: %w", err)
	}
	span.SetAttributes(attribute.Bool("cache.hit", true))
	return raw, true, nil
}

// Set writes key with ttl and records it in the namespace index used by GC.
func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) (err error) {
	if c == nil || c.client == nil {
		return fmt.Errorf("redis cache is not initialized")
	}
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("cache key is required")
	}
	ctx, span := c.startSpan(ctx, "redis.cache_set", key)
	defer func() { telemetry.EndSpan(span, err) }()

	if ttl < 0 {
		ttl = 0
	}
	if err := c.client.Set(ctx, c.prefixed(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("write cache key: %w", err)
	}
	if err := c.client.SAdd(ctx, c.indexKey(), key).Err(); err != nil {
		return fmt.Errorf("index cache key: %w", err)
	}
	return nil
}

// GC removes index references to keys Redis has already expired.
func (c *RedisCache) GC(ctx context.Context) {
	if c == nil || c.client == nil {
		return
	}

	keys, err := c.client.SMembers(ctx, c.indexKey()).Result()
	if err != nil {
		return
	}
	for _, key := range keys {
		exists, err := c.client.Exists(ctx, c.prefixed(key)).Result()
		if err != nil {
			continue
		}
		if exists == 0 {
			_ = c.client.SRem(ctx, c.indexKey(), key).Err()
		}
	}
}

func (c *RedisCache) startSpan(ctx context.Context, name, key string) (context.Context, trace.Span) {
	return telemetry.Tracer("internal/store").Start(
		ctx,
		name,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", "redis"),
			attribute.String("cache.key", key),
		),
	)
}

func (c *RedisCache) prefixed(suffix string) string {
	return c.namespace + ":cache:" + suffix
}

func (c *RedisCache) indexKey() string {
	return c.namespace + ":cache-index"
}
