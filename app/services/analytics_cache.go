package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// AnalyticsCache stores computed analytics snapshots as JSON
type AnalyticsCache interface {
	Get(ctx context.Context, key string, dst any) (bool, error)
	Set(ctx context.Context, key string, value any) error
	Invalidate(ctx context.Context, keys ...string) error
}

func UserAnalyticsKey(userID uint) string {
	return fmt.Sprintf("analytics:user:%d", userID)
}

func CampaignAnalyticsKey(campaignID uint) string {
	return fmt.Sprintf("analytics:campaign:%d", campaignID)
}

// RedisAnalyticsCache is an AnalyticsCache on top of redis
type RedisAnalyticsCache struct {
	rc     *redis.Client
	prefix string
	ttl    time.Duration
	logger *zap.Logger
}

func NewRedisAnalyticsCache(rc *redis.Client, prefix string, ttl time.Duration, logger *zap.Logger) *RedisAnalyticsCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisAnalyticsCache{rc: rc, prefix: prefix, ttl: ttl, logger: logger}
}

func (c *RedisAnalyticsCache) key(k string) string {
	if c.prefix == "" {
		return k
	}
	return strings.TrimSuffix(c.prefix, ":") + ":" + k
}

func (c *RedisAnalyticsCache) Get(ctx context.Context, key string, dst any) (bool, error) {
	bs, err := c.rc.Get(ctx, c.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(bs, dst); err != nil {
		// a corrupt entry is treated as a miss and dropped
		c.logger.Warn("dropping unreadable analytics cache entry", zap.String("key", key), zap.Error(err))
		_ = c.rc.Del(ctx, c.key(key)).Err()
		return false, nil
	}
	return true, nil
}

func (c *RedisAnalyticsCache) Set(ctx context.Context, key string, value any) error {
	bs, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.rc.Set(ctx, c.key(key), bs, c.ttl).Err()
}

func (c *RedisAnalyticsCache) Invalidate(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, 0, len(keys))
	for _, k := range keys {
		full = append(full, c.key(k))
	}
	return c.rc.Del(ctx, full...).Err()
}

// NoopAnalyticsCache is used when redis is disabled
type NoopAnalyticsCache struct{}

func (NoopAnalyticsCache) Get(context.Context, string, any) (bool, error) { return false, nil }
func (NoopAnalyticsCache) Set(context.Context, string, any) error         { return nil }
func (NoopAnalyticsCache) Invalidate(context.Context, ...string) error    { return nil }
