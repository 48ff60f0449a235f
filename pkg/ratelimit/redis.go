package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// keyPrefix Redis 键前缀
const keyPrefix = "uchat:ratelimit:"

// RedisStore Redis 窗口计数存储
//
// 多网关实例共享限流计数时使用。窗口从 key 首个事件开始，
// 依赖 key TTL 完成过期回收，无需后台清理。
type RedisStore struct {
	client redis.UniversalClient
}

// NewRedisStore 创建 Redis 存储
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

// Incr 递增 key 在当前窗口内的计数
func (s *RedisStore) Incr(ctx context.Context, key string, window time.Duration) (int64, error) {
	pipe := s.client.TxPipeline()
	incr := pipe.Incr(ctx, keyPrefix+key)
	// 仅在 key 无 TTL 时设置过期，保持窗口起点稳定
	pipe.ExpireNX(ctx, keyPrefix+key, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

// Close 关闭存储（连接由调用方管理，这里不关闭 client）
func (s *RedisStore) Close() error {
	return nil
}
