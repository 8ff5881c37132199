package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const keyPrefix = "carecover:lock:"

// 只删除自己持有的锁
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end`)

// RedisLocker 多进程部署使用的 Redis 锁（SET NX PX + 令牌校验释放）
type RedisLocker struct {
	client *redis.Client
	ttl    time.Duration
	retry  time.Duration
	log    zerolog.Logger
}

// NewRedisLocker 创建 Redis 锁，ttl 需大于一次写入的最长耗时
func NewRedisLocker(client *redis.Client, ttl time.Duration, log zerolog.Logger) *RedisLocker {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	return &RedisLocker{client: client, ttl: ttl, retry: 20 * time.Millisecond, log: log}
}

var _ Locker = (*RedisLocker)(nil)

// Lock 轮询 SETNX 直到获得锁或 ctx 结束
func (r *RedisLocker) Lock(ctx context.Context, key string) (Unlock, error) {
	redisKey := keyPrefix + key
	token := uuid.NewString()

	ticker := time.NewTicker(r.retry)
	defer ticker.Stop()

	for {
		ok, err := r.client.SetNX(ctx, redisKey, token, r.ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("获取锁 %s 失败: %w", key, err)
		}
		if ok {
			return r.unlock(redisKey, token), nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (r *RedisLocker) unlock(redisKey, token string) Unlock {
	return func() {
		// 调用方的 ctx 可能已取消，释放使用独立超时
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		if err := releaseScript.Run(ctx, r.client, []string{redisKey}, token).Err(); err != nil {
			r.log.Warn().Err(err).Str("key", redisKey).Msg("释放锁失败")
		}
	}
}
