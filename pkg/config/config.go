package config

import (
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
)

// 环境变量前缀，如 UCHAT_SERVER_ADDR、UCHAT_AUTH_TOKEN_SECRET
const defaultEnvPrefix = "UCHAT"

// Config 网关配置
//
// 来源优先级：环境变量 > 配置文件 > 默认值。
// 配置文件可选，纯环境变量部署（容器场景）不需要文件。
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Gateway   GatewayConfig   `mapstructure:"gateway"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Log       LogConfig       `mapstructure:"log"`
}

// ServerConfig HTTP 服务配置
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`             // 监听地址
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`     // 读超时
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`    // 写超时（WebSocket 长连接为 0）
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"` // 优雅停机超时
}

// AuthConfig 准入配置
type AuthConfig struct {
	TokenSecret    string        `mapstructure:"token_secret"`    // 令牌校验密钥
	TokenLeeway    time.Duration `mapstructure:"token_leeway"`    // 时钟偏差容忍
	AllowedOrigins []string      `mapstructure:"allowed_origins"` // Origin 白名单，空则不限制
}

// GatewayConfig 转发层配置
type GatewayConfig struct {
	MaxConnections    int           `mapstructure:"max_connections"`    // 最大连接数
	MaxMessageSize    int64         `mapstructure:"max_message_size"`   // 单条消息大小上限
	FanoutCapacity    int           `mapstructure:"fanout_capacity"`    // 每订阅扇出缓冲
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"` // 心跳间隔
	HeartbeatTimeout  time.Duration `mapstructure:"heartbeat_timeout"`  // 心跳超时
	RoomSweepInterval time.Duration `mapstructure:"room_sweep_interval"`
}

// RateLimitConfig 限流配置
type RateLimitConfig struct {
	ConnPerIPThreshold       int           `mapstructure:"conn_per_ip_threshold"`
	ConnPerIPWindow          time.Duration `mapstructure:"conn_per_ip_window"`
	ConnPerIdentityThreshold int           `mapstructure:"conn_per_identity_threshold"`
	ConnPerIdentityWindow    time.Duration `mapstructure:"conn_per_identity_window"`

	MessagesPerSecond float64 `mapstructure:"messages_per_second"` // 每连接消息速率
	MessageBurst      int     `mapstructure:"message_burst"`
	MessageHardLimit  int     `mapstructure:"message_hard_limit"` // 连续超限断开阈值，0 表示只丢弃
}

// RedisConfig 限流计数的 Redis 后端，Addr 为空时使用内存存储
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level      string `mapstructure:"level"`       // debug/info/warn/error
	Format     string `mapstructure:"format"`      // json/console
	File       string `mapstructure:"file"`        // 日志文件路径，空则只写控制台
	MaxSizeMB  int    `mapstructure:"max_size_mb"` // 单文件大小上限
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// defaults 默认值，键与 mapstructure 标签对应
//
// 没有业务默认值的键也要注册空值：viper 的 Unmarshal 只看
// 已注册的键，纯环境变量提供的配置必须先在这里占位。
func defaults() map[string]any {
	return map[string]any{
		"server.addr":             ":8080",
		"server.read_timeout":     "10s",
		"server.write_timeout":    "0s",
		"server.shutdown_timeout": "30s",

		"auth.token_secret":    "",
		"auth.token_leeway":    "60s",
		"auth.allowed_origins": []string{},

		"gateway.max_connections":     10000,
		"gateway.max_message_size":    64 * 1024,
		"gateway.fanout_capacity":     100,
		"gateway.heartbeat_interval":  "30s",
		"gateway.heartbeat_timeout":   "90s",
		"gateway.room_sweep_interval": "5m",

		"rate_limit.conn_per_ip_threshold":       60,
		"rate_limit.conn_per_ip_window":          "1m",
		"rate_limit.conn_per_identity_threshold": 30,
		"rate_limit.conn_per_identity_window":    "1m",
		"rate_limit.messages_per_second":         50,
		"rate_limit.message_burst":               50,
		"rate_limit.message_hard_limit":          10,

		"redis.addr":     "",
		"redis.password": "",
		"redis.db":       0,

		"log.level":        "info",
		"log.format":       "json",
		"log.file":         "",
		"log.max_size_mb":  100,
		"log.max_backups":  10,
		"log.max_age_days": 30,
		"log.compress":     true,
	}
}

// Manager 配置管理器
//
// 持有 viper 实例与解析后的类型化快照，
// 文件变更时重新解析并通知订阅者。
type Manager struct {
	viper *viper.Viper
	mu    sync.RWMutex

	current *Config

	configFile string
	envPrefix  string

	watching bool
	onReload func(*Config)
	onError  func(error)
}

// Load 加载配置并返回管理器
func Load(opts ...Option) (*Manager, error) {
	m := &Manager{
		viper:     viper.New(),
		envPrefix: defaultEnvPrefix,
	}
	for _, opt := range opts {
		opt(m)
	}

	for k, v := range defaults() {
		m.viper.SetDefault(k, v)
	}

	m.viper.SetEnvPrefix(m.envPrefix)
	m.viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	m.viper.AutomaticEnv()

	if m.configFile != "" {
		m.viper.SetConfigFile(m.configFile)
		if err := m.viper.ReadInConfig(); err != nil {
			return nil, ErrConfigReadFailed.WithError(err)
		}
	}

	cfg, err := m.parse()
	if err != nil {
		return nil, err
	}
	m.current = cfg

	if m.onReload != nil && m.configFile != "" {
		m.startWatch()
	}

	return m, nil
}

// Current 返回当前配置快照
//
// 返回的指针只读，热更新时整体替换而不是原地修改。
func (m *Manager) Current() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// parse 解析并校验类型化配置
func (m *Manager) parse() (*Config, error) {
	var cfg Config
	if err := m.viper.Unmarshal(&cfg); err != nil {
		return nil, ErrConfigInvalid.WithError(err)
	}

	// 环境变量里的白名单是逗号分隔的单个字符串，
	// 统一拆分并修剪，空项丢弃
	var origins []string
	for _, entry := range cfg.Auth.AllowedOrigins {
		for _, p := range strings.Split(entry, ",") {
			if p = strings.TrimSpace(p); p != "" {
				origins = append(origins, p)
			}
		}
	}
	cfg.Auth.AllowedOrigins = origins

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate 校验配置
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return ErrConfigInvalid.WithMessage("server.addr must not be empty")
	}
	if c.Auth.TokenSecret == "" {
		return ErrConfigInvalid.WithMessage("auth.token_secret must not be empty")
	}
	if c.Gateway.MaxConnections <= 0 {
		return ErrConfigInvalid.WithMessage("gateway.max_connections must be positive")
	}
	if c.Gateway.FanoutCapacity <= 0 {
		return ErrConfigInvalid.WithMessage("gateway.fanout_capacity must be positive")
	}
	if c.Gateway.HeartbeatTimeout <= c.Gateway.HeartbeatInterval {
		return ErrConfigInvalid.WithMessage("gateway.heartbeat_timeout must exceed heartbeat_interval")
	}
	if c.RateLimit.MessagesPerSecond <= 0 {
		return ErrConfigInvalid.WithMessage("rate_limit.messages_per_second must be positive")
	}
	return nil
}

// Close 停止文件监控
func (m *Manager) Close() {
	m.stopWatch()
}
