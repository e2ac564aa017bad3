package api

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

type redisRateCounter interface {
	Incr(ctx context.Context, key string) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
}

func incrWithTTL(ctx context.Context, client redisRateCounter, key string, ttl time.Duration) (int64, error) {
	count, err := client.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if count == 1 {
		_ = client.Expire(ctx, key, ttl).Err()
	}
	return count, nil
}

const refreshTokenBlacklistKeyPrefix = "auth:refresh:blacklist:"

// 登录限流与锁定使用的键，邮箱统一小写。
func loginRateKey(ip, email string, now time.Time) string {
	return fmt.Sprintf("rate:login:%s:%s:%s", ip, strings.ToLower(email), now.UTC().Format("2006010215"))
}

func loginLockKey(email string) string { return "lock:login:" + strings.ToLower(email) }

func loginFailKey(email string) string { return "lock:login:fail:" + strings.ToLower(email) }
