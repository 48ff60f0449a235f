package config

// Option 配置选项函数
type Option func(*Manager)

// WithConfigFile 指定配置文件完整路径
func WithConfigFile(path string) Option {
	return func(m *Manager) {
		m.configFile = path
	}
}

// WithEnvPrefix 设置环境变量前缀（默认 UCHAT）
func WithEnvPrefix(prefix string) Option {
	return func(m *Manager) {
		m.envPrefix = prefix
	}
}

// WithOnReload 设置热更新回调
//
// 配置文件变更并通过校验后，以新的配置快照调用回调。
// 校验失败时保留旧快照，通过 WithOnError 报告。
func WithOnReload(fn func(*Config)) Option {
	return func(m *Manager) {
		m.onReload = fn
	}
}

// WithOnError 设置热更新错误回调
func WithOnError(fn func(error)) Option {
	return func(m *Manager) {
		m.onError = fn
	}
}
