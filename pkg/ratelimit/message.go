package ratelimit

import (
	"sync/atomic"

	"golang.org/x/time/rate"
)

// Verdict 消息限流判定结果
type Verdict int

const (
	// Allowed 允许发送
	Allowed Verdict = iota
	// SoftLimited 超出速率，丢弃本条消息
	SoftLimited
	// HardLimited 连续超限达到阈值，应断开会话
	HardLimited
)

// MessageLimiter 单连接消息限流器
//
// 令牌桶约束消息吞吐。偶发突发只软性丢弃消息，
// 连续超限累计到 hardLimit 时判定为持续滥用，要求断开会话。
// hardLimit 为 0 时只做软性丢弃，不断开。
type MessageLimiter struct {
	limiter   *rate.Limiter
	strikes   atomic.Int32
	hardLimit int32
}

// NewMessageLimiter 创建消息限流器
//
// perSecond 每秒允许的消息数，burst 突发容量，
// hardLimit 触发断开的连续超限次数。
func NewMessageLimiter(perSecond float64, burst int, hardLimit int) *MessageLimiter {
	return &MessageLimiter{
		limiter:   rate.NewLimiter(rate.Limit(perSecond), burst),
		hardLimit: int32(hardLimit),
	}
}

// Check 判定一条入站消息
func (m *MessageLimiter) Check() Verdict {
	if m.limiter.Allow() {
		m.strikes.Store(0)
		return Allowed
	}

	strikes := m.strikes.Add(1)
	if m.hardLimit > 0 && strikes >= m.hardLimit {
		return HardLimited
	}
	return SoftLimited
}

// Strikes 返回当前连续超限次数
func (m *MessageLimiter) Strikes() int {
	return int(m.strikes.Load())
}
