package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const summaryKey = "analytics:summary"

// Cache 对统计结果做旁路缓存。client 为 nil 时直接计算。
type Cache struct {
	client redis.UniversalClient
	ttl    time.Duration
	logger *slog.Logger
}

// NewCache constructs a Cache with the given ttl (60s when zero).
func NewCache(client redis.UniversalClient, ttl time.Duration, logger *slog.Logger) *Cache {
	if ttl <= 0 {
		ttl = time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{client: client, ttl: ttl, logger: logger}
}

// Summary 先读缓存，未命中时调用 compute 并写回。缓存故障只记录日志。
func (c *Cache) Summary(ctx context.Context, compute func(context.Context) (Summary, error)) (Summary, error) {
	if c.client != nil {
		data, err := c.client.Get(ctx, summaryKey).Bytes()
		switch {
		case err == nil:
			var cached Summary
			jsonErr := json.Unmarshal(data, &cached)
			if jsonErr == nil {
				return cached, nil
			}
			c.logger.Warn("discarding malformed analytics cache entry", "error", jsonErr)
		case !errors.Is(err, redis.Nil):
			c.logger.Warn("analytics cache get failed", "error", err)
		}
	}

	s, err := compute(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("compute analytics: %w", err)
	}

	if c.client != nil {
		data, err := json.Marshal(s)
		if err == nil {
			err = c.client.Set(ctx, summaryKey, data, c.ttl).Err()
		}
		if err != nil {
			c.logger.Warn("analytics cache set failed", "error", err)
		}
	}
	return s, nil
}

// Invalidate drops the cached summary.
func (c *Cache) Invalidate(ctx context.Context) error {
	if c.client == nil {
		return nil
	}
	return c.client.Del(ctx, summaryKey).Err()
}
