package ws

import (
	"fmt"
	"time"

	"github.com/BronBron-Commits/U-chat/pkg/logger"
	"github.com/BronBron-Commits/U-chat/pkg/ratelimit"
)

// Config WebSocket 网关核心配置
type Config struct {
	// 连接配置
	MaxConnections   int           // 最大连接数
	ReadBufferSize   int           // 读缓冲区大小
	WriteBufferSize  int           // 写缓冲区大小
	HandshakeTimeout time.Duration // 握手超时时间
	MaxMessageSize   int64         // 最大消息大小

	// 心跳配置
	HeartbeatInterval time.Duration // 心跳间隔
	HeartbeatTimeout  time.Duration // 心跳超时

	// 扇出配置
	FanoutCapacity    int           // 每房间扇出通道容量
	RoomSweepInterval time.Duration // 空房间兜底清扫间隔

	// 准入配置
	AllowedOrigins []string      // Origin 白名单，空则不限制
	TokenSecret    string        // 令牌校验密钥
	TokenLeeway    time.Duration // 时钟偏移容忍，0 使用校验器默认值

	// 消息限流配置
	MessagesPerSecond float64 // 每连接每秒消息数
	MessageBurst      int     // 突发容量
	MessageHardLimit  int     // 连续超限断开阈值，0 表示只丢弃不断开

	// 连接限流配置
	RateLimit      *ratelimit.Config
	RateLimitStore ratelimit.Store // nil 使用内存存储

	// 观测配置
	Metrics Metrics
	Logger  logger.Logger
}

// DefaultConfig 默认配置
func DefaultConfig() *Config {
	return &Config{
		MaxConnections:    10000,
		ReadBufferSize:    1024,
		WriteBufferSize:   4096,
		HandshakeTimeout:  10 * time.Second,
		MaxMessageSize:    64 * 1024, // 64KB
		HeartbeatInterval: 30 * time.Second,
		HeartbeatTimeout:  90 * time.Second,
		FanoutCapacity:    100,
		RoomSweepInterval: 5 * time.Minute,
		MessagesPerSecond: 50,
		MessageBurst:      50,
		MessageHardLimit:  10,
		RateLimit:         ratelimit.DefaultConfig(),
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	if c.MaxConnections <= 0 {
		return fmt.Errorf("MaxConnections must be positive, got %d", c.MaxConnections)
	}
	if c.ReadBufferSize <= 0 {
		return fmt.Errorf("ReadBufferSize must be positive, got %d", c.ReadBufferSize)
	}
	if c.WriteBufferSize <= 0 {
		return fmt.Errorf("WriteBufferSize must be positive, got %d", c.WriteBufferSize)
	}
	if c.HandshakeTimeout <= 0 {
		return fmt.Errorf("HandshakeTimeout must be positive, got %v", c.HandshakeTimeout)
	}
	if c.MaxMessageSize <= 0 {
		return fmt.Errorf("MaxMessageSize must be positive, got %d", c.MaxMessageSize)
	}
	if c.HeartbeatInterval <= 0 {
		return fmt.Errorf("HeartbeatInterval must be positive, got %v", c.HeartbeatInterval)
	}
	if c.HeartbeatTimeout <= c.HeartbeatInterval {
		return fmt.Errorf("HeartbeatTimeout (%v) must be greater than HeartbeatInterval (%v)",
			c.HeartbeatTimeout, c.HeartbeatInterval)
	}
	if c.FanoutCapacity <= 0 {
		return fmt.Errorf("FanoutCapacity must be positive, got %d", c.FanoutCapacity)
	}
	if c.RoomSweepInterval <= 0 {
		return fmt.Errorf("RoomSweepInterval must be positive, got %v", c.RoomSweepInterval)
	}
	if c.TokenSecret == "" {
		return fmt.Errorf("TokenSecret must not be empty")
	}
	if c.MessagesPerSecond <= 0 {
		return fmt.Errorf("MessagesPerSecond must be positive, got %v", c.MessagesPerSecond)
	}
	if c.MessageBurst <= 0 {
		return fmt.Errorf("MessageBurst must be positive, got %d", c.MessageBurst)
	}
	if c.MessageHardLimit < 0 {
		return fmt.Errorf("MessageHardLimit must not be negative, got %d", c.MessageHardLimit)
	}
	if c.RateLimit != nil {
		if err := c.RateLimit.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Option 配置选项
type Option func(*Config)

// WithMaxConnections 设置最大连接数
func WithMaxConnections(max int) Option {
	return func(c *Config) {
		c.MaxConnections = max
	}
}

// WithMaxMessageSize 设置单条消息大小上限
func WithMaxMessageSize(size int64) Option {
	return func(c *Config) {
		c.MaxMessageSize = size
	}
}

// WithRoomSweepInterval 设置空房间兜底清扫间隔
func WithRoomSweepInterval(interval time.Duration) Option {
	return func(c *Config) {
		c.RoomSweepInterval = interval
	}
}

// WithTokenSecret 设置令牌校验密钥
func WithTokenSecret(secret string) Option {
	return func(c *Config) {
		c.TokenSecret = secret
	}
}

// WithAllowedOrigins 设置 Origin 白名单
func WithAllowedOrigins(origins []string) Option {
	return func(c *Config) {
		c.AllowedOrigins = origins
	}
}

// WithFanoutCapacity 设置扇出通道容量
func WithFanoutCapacity(capacity int) Option {
	return func(c *Config) {
		c.FanoutCapacity = capacity
	}
}

// WithMessageRate 设置每连接消息限流
func WithMessageRate(perSecond float64, burst, hardLimit int) Option {
	return func(c *Config) {
		c.MessagesPerSecond = perSecond
		c.MessageBurst = burst
		c.MessageHardLimit = hardLimit
	}
}

// WithRateLimit 设置连接限流配置
func WithRateLimit(config *ratelimit.Config) Option {
	return func(c *Config) {
		c.RateLimit = config
	}
}

// WithRateLimitStore 设置连接限流计数存储（多实例部署时使用 Redis）
func WithRateLimitStore(store ratelimit.Store) Option {
	return func(c *Config) {
		c.RateLimitStore = store
	}
}

// WithTokenLeeway 设置令牌时钟偏移容忍
func WithTokenLeeway(leeway time.Duration) Option {
	return func(c *Config) {
		c.TokenLeeway = leeway
	}
}

// WithHeartbeat 设置心跳间隔与超时
func WithHeartbeat(interval, timeout time.Duration) Option {
	return func(c *Config) {
		c.HeartbeatInterval = interval
		c.HeartbeatTimeout = timeout
	}
}

// WithMetrics 设置监控
func WithMetrics(metrics Metrics) Option {
	return func(c *Config) {
		c.Metrics = metrics
	}
}

// WithLogger 设置日志实例
func WithLogger(l logger.Logger) Option {
	return func(c *Config) {
		c.Logger = l
	}
}
