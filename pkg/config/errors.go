package config

import "github.com/BronBron-Commits/U-chat/pkg/errors"

// 配置包专用错误定义
var (
	// ErrConfigReadFailed 配置读取失败
	ErrConfigReadFailed = errors.New(3001, 500, "config read failed")
	// ErrConfigInvalid 配置校验失败
	ErrConfigInvalid = errors.New(3002, 500, "config validation failed")
)
