package ratelimit

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/BronBron-Commits/U-chat/pkg/logger"
)

// Channel 限流通道
//
// 不同通道使用独立的阈值与窗口配置。
type Channel string

const (
	// ChannelConnIP 按来源 IP 的连接尝试限流
	ChannelConnIP Channel = "conn_ip"
	// ChannelConnIdentity 按身份的连接尝试限流
	ChannelConnIdentity Channel = "conn_identity"
	// ChannelLogin 登录尝试限流（外部身份服务使用）
	ChannelLogin Channel = "login"
)

// Limit 单通道限流配置
type Limit struct {
	Threshold int           // 窗口内允许的事件数
	Window    time.Duration // 窗口大小
}

// Config 限流器配置
type Config struct {
	// ConnPerIP 每 IP 连接尝试限制（默认 60 次/分钟）
	ConnPerIP Limit
	// ConnPerIdentity 每身份连接尝试限制（默认 30 次/分钟）
	ConnPerIdentity Limit
	// Login 登录尝试限制（默认 10 次/分钟）
	Login Limit

	// Logger 日志实例
	Logger logger.Logger
}

// DefaultConfig 默认配置
func DefaultConfig() *Config {
	return &Config{
		ConnPerIP:       Limit{Threshold: 60, Window: time.Minute},
		ConnPerIdentity: Limit{Threshold: 30, Window: time.Minute},
		Login:           Limit{Threshold: 10, Window: time.Minute},
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	for _, l := range []struct {
		name  string
		limit Limit
	}{
		{"ConnPerIP", c.ConnPerIP},
		{"ConnPerIdentity", c.ConnPerIdentity},
		{"Login", c.Login},
	} {
		if l.limit.Threshold < 0 {
			return fmt.Errorf("%s.Threshold must not be negative, got %d", l.name, l.limit.Threshold)
		}
		if l.limit.Threshold > 0 && l.limit.Window <= 0 {
			return fmt.Errorf("%s.Window must be positive, got %v", l.name, l.limit.Window)
		}
	}
	return nil
}

// Store 窗口计数存储
type Store interface {
	// Incr 递增 key 在当前窗口内的计数并返回递增后的值
	Incr(ctx context.Context, key string, window time.Duration) (int64, error)
	// Close 释放存储资源
	Close() error
}

// Limiter 固定窗口限流器
//
// 计数按通道+key 分桶，窗口过期后重新计数。
// 精确性让位于有界性：目标是约束最坏情况负载。
type Limiter struct {
	config *Config
	store  Store
}

// New 创建限流器（默认使用内存存储）
func New(config *Config, store Store) (*Limiter, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if config.Logger == nil {
		config.Logger = logger.Default()
	}
	if store == nil {
		store = NewMemoryStore(MemoryStoreConfig{})
	}

	return &Limiter{
		config: config,
		store:  store,
	}, nil
}

// Allow 检查通道内 key 是否允许一次新事件
//
// 存储故障时放行（fail-open），避免存储抖动演变为全局拒绝服务。
func (l *Limiter) Allow(ctx context.Context, channel Channel, key string) bool {
	limit := l.limitFor(channel)
	if limit.Threshold <= 0 {
		// 阈值为 0 表示该通道不限流
		return true
	}

	count, err := l.store.Incr(ctx, string(channel)+":"+key, limit.Window)
	if err != nil {
		l.config.Logger.Warn("rate limit store failure, allowing request",
			zap.String("channel", string(channel)),
			zap.Error(err),
		)
		return true
	}

	if count > int64(limit.Threshold) {
		l.config.Logger.Warn("rate limit exceeded",
			zap.String("channel", string(channel)),
			zap.String("key", key),
			zap.Int64("count", count),
			zap.Int("threshold", limit.Threshold),
		)
		return false
	}
	return true
}

// Close 关闭限流器
func (l *Limiter) Close() error {
	return l.store.Close()
}

// limitFor 返回通道对应的限流配置
func (l *Limiter) limitFor(channel Channel) Limit {
	switch channel {
	case ChannelConnIP:
		return l.config.ConnPerIP
	case ChannelConnIdentity:
		return l.config.ConnPerIdentity
	case ChannelLogin:
		return l.config.Login
	default:
		return Limit{}
	}
}
