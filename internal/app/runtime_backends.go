package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cam3ron2/gitstats-report/internal/config"
	"github.com/cam3ron2/gitstats-report/internal/report"
	"github.com/cam3ron2/gitstats-report/internal/store"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const redisConnectTimeout = 5 * time.Second

type statsCache interface {
	report.StatsCache
	Ping(ctx context.Context) error
	GC(ctx context.Context, now time.Time)
	Close() error
}

type reportArchive interface {
	report.Archive
	RunArchive
	Ping(ctx context.Context) error
	Close() error
}

type memoryStatsCache struct {
	*store.MemoryCache
}

func (c memoryStatsCache) Ping(context.Context) error {
	return nil
}

func (c memoryStatsCache) GC(_ context.Context, now time.Time) {
	c.MemoryCache.GC(now)
}

type redisStatsCache struct {
	*store.RedisCache
}

func (c redisStatsCache) GC(ctx context.Context, _ time.Time) {
	c.RedisCache.GC(ctx)
}

// newStatsCache returns nil when caching is disabled. An unreachable Redis falls back to the
// in-memory cache.
func newStatsCache(ctx context.Context, cfg config.CacheConfig, logger *zap.Logger) statsCache {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case config.CacheNone:
		return nil
	case config.CacheRedis:
		redisCache, err := newRedisCacheFromConfig(ctx, cfg)
		if err == nil {
			return redisStatsCache{RedisCache: redisCache}
		}
		logger.Warn("failed to initialize redis stats cache; falling back to in-memory cache", zap.Error(err))
	}
	return memoryStatsCache{MemoryCache: store.NewMemoryCache(cfg.MaxEntries)}
}

func newRedisCacheFromConfig(ctx context.Context, cfg config.CacheConfig) (*store.RedisCache, error) {
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, redisConnectTimeout)
	defer cancel()
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		_ = redisClient.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return store.NewRedisCache(redisClient, store.RedisCacheConfig{Namespace: cfg.Namespace}), nil
}

// openArchive returns nil when archiving is disabled.
func openArchive(ctx context.Context, cfg config.ArchiveConfig, logger *zap.Logger) (reportArchive, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	archive, err := store.OpenPostgresArchive(ctx, store.ArchiveConfig{
		DSN:          cfg.PostgresURL,
		MaxOpenConns: cfg.MaxOpenConns,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("open report archive: %w", err)
	}
	return archive, nil
}
