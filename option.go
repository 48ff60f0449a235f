package uchat

import (
	"github.com/gin-gonic/gin"

	"github.com/BronBron-Commits/U-chat/pkg/ws"
)

// options 装配选项
type options struct {
	mode    string     // gin 运行模式
	metrics ws.Metrics // 监控实现，nil 使用空实现
}

// Option 装配选项函数
type Option func(*options)

// defaultOptions 返回默认选项
func defaultOptions() *options {
	return &options{
		mode: gin.ReleaseMode,
	}
}

// WithMode 设置运行模式：debug, release, test
func WithMode(mode string) Option {
	return func(o *options) {
		o.mode = mode
	}
}

// WithMetrics 设置监控实现
func WithMetrics(metrics ws.Metrics) Option {
	return func(o *options) {
		o.metrics = metrics
	}
}
