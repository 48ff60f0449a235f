package config

import (
	"github.com/fsnotify/fsnotify"
)

// startWatch 开始监控配置文件变更
//
// 编辑器原子替换会触发多个 fsnotify 事件，viper 已做去抖，
// 这里只负责重新解析：校验失败保留旧快照并报告错误，
// 网关不会因为一次写坏的配置文件而带病运行。
func (m *Manager) startWatch() {
	m.viper.OnConfigChange(func(fsnotify.Event) {
		m.mu.RLock()
		watching := m.watching
		m.mu.RUnlock()
		if !watching {
			return
		}

		cfg, err := m.parse()
		if err != nil {
			m.reportError(err)
			return
		}

		m.mu.Lock()
		m.current = cfg
		onReload := m.onReload
		m.mu.Unlock()

		if onReload != nil {
			onReload(cfg)
		}
	})
	m.viper.WatchConfig()
	m.watching = true
}

// stopWatch 停止响应文件变更
//
// viper 没有停止底层 watcher 的接口，这里只标记状态让回调失效。
func (m *Manager) stopWatch() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.watching = false
}

// reportError 报告热更新错误
func (m *Manager) reportError(err error) {
	m.mu.RLock()
	onError := m.onError
	m.mu.RUnlock()
	if onError != nil {
		onError(err)
	}
}
