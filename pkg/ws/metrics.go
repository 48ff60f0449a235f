package ws

import "time"

// Metrics 监控接口
//
// 网关核心只在各个状态转换点调用钩子，
// 指标的落地（Prometheus 等）由外部采集器实现。
type Metrics interface {
	// 连接指标
	ConnectionOpened()
	ConnectionClosed()
	SetConnectionCount(count int)

	// 消息指标
	MessagePublished(roomID string)
	MessageDelivered(roomID string)
	MessageDropped(roomID string)
	ObserveDeliveryLatency(d time.Duration)

	// 限流指标
	RateLimitHit(channel string)

	// 准入指标
	UpgradeRejected(code int)

	// 房间指标
	RoomCreated(roomID string)
	RoomRemoved(roomID string)
	SetRoomCount(count int)
}

// NoopMetrics 空实现（默认）
type NoopMetrics struct{}

func (m *NoopMetrics) ConnectionOpened()                        {}
func (m *NoopMetrics) ConnectionClosed()                        {}
func (m *NoopMetrics) SetConnectionCount(count int)             {}
func (m *NoopMetrics) MessagePublished(roomID string)           {}
func (m *NoopMetrics) MessageDelivered(roomID string)           {}
func (m *NoopMetrics) MessageDropped(roomID string)             {}
func (m *NoopMetrics) ObserveDeliveryLatency(d time.Duration)   {}
func (m *NoopMetrics) RateLimitHit(channel string)              {}
func (m *NoopMetrics) UpgradeRejected(code int)                 {}
func (m *NoopMetrics) RoomCreated(roomID string)                {}
func (m *NoopMetrics) RoomRemoved(roomID string)                {}
func (m *NoopMetrics) SetRoomCount(count int)                   {}
