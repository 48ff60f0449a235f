package ws

import (
	"sync"
	"sync/atomic"
)

// sessionPool 会话池
//
// 全部活跃会话的并发索引，带连接数上限。
type sessionPool struct {
	sessions sync.Map     // connID -> *Session
	count    atomic.Int64 // 连接数
	maxConns int          // 最大连接数
}

// newSessionPool 创建会话池
func newSessionPool(maxConns int) *sessionPool {
	return &sessionPool{
		maxConns: maxConns,
	}
}

// Add 添加会话
func (p *sessionPool) Add(session *Session) error {
	// 先占位，避免计数与索引不一致
	if _, loaded := p.sessions.LoadOrStore(session.ID(), session); loaded {
		return ErrSessionIDExists
	}

	newCount := p.count.Add(1)
	if int(newCount) > p.maxConns {
		// 超过限制，回滚
		p.count.Add(-1)
		p.sessions.Delete(session.ID())
		return ErrTooManyConnections
	}

	return nil
}

// Remove 移除会话
func (p *sessionPool) Remove(connID string) {
	if _, loaded := p.sessions.LoadAndDelete(connID); loaded {
		p.count.Add(-1)
	}
}

// Get 获取会话
func (p *sessionPool) Get(connID string) (*Session, bool) {
	value, ok := p.sessions.Load(connID)
	if !ok {
		return nil, false
	}
	return value.(*Session), true
}

// Count 获取连接数
func (p *sessionPool) Count() int {
	return int(p.count.Load())
}

// Range 遍历所有会话
func (p *sessionPool) Range(f func(*Session) bool) {
	p.sessions.Range(func(_, value any) bool {
		return f(value.(*Session))
	})
}
