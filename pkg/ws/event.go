package ws

import (
	"sync"
	"sync/atomic"
	"time"
)

// EventType 事件类型
type EventType string

const (
	// EventClientConnected 客户端连接
	EventClientConnected EventType = "client.connected"
	// EventClientDisconnected 客户端断开
	EventClientDisconnected EventType = "client.disconnected"
	// EventRoomJoined 加入房间
	EventRoomJoined EventType = "room.joined"
	// EventRoomLeft 离开房间
	EventRoomLeft EventType = "room.left"
	// EventMessagePublished 消息发布到房间
	EventMessagePublished EventType = "message.published"
	// EventUpgradeRejected 升级被拒绝
	EventUpgradeRejected EventType = "upgrade.rejected"
)

// Event 事件
type Event struct {
	Type      EventType
	SessionID string
	Identity  string
	RoomID    string
	Code      int // 拒绝事件携带内部错误码
	Time      time.Time
}

// EventHandler 事件处理器
type EventHandler func(Event)

// EventBus 事件总线
//
// 外部采集器通过订阅事件观察网关状态转换，
// 异步投递，慢消费者不会拖慢核心路径。
type EventBus struct {
	handlers      map[EventType][]EventHandler
	mu            sync.RWMutex
	workerCh      chan func()
	stopCh        chan struct{}
	wg            sync.WaitGroup
	closed        atomic.Bool
	droppedEvents atomic.Int64
}

// NewEventBus 创建事件总线
func NewEventBus() *EventBus {
	eb := &EventBus{
		handlers: make(map[EventType][]EventHandler),
		workerCh: make(chan func(), 1000),
		stopCh:   make(chan struct{}),
	}

	// 启动固定数量的 worker
	for i := 0; i < 4; i++ {
		eb.wg.Add(1)
		go eb.worker()
	}

	return eb
}

// worker 工作协程
func (eb *EventBus) worker() {
	defer eb.wg.Done()
	for {
		select {
		case task := <-eb.workerCh:
			task()
		case <-eb.stopCh:
			return
		}
	}
}

// Subscribe 订阅事件
func (eb *EventBus) Subscribe(eventType EventType, handler EventHandler) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.handlers[eventType] = append(eb.handlers[eventType], handler)
}

// Publish 发布事件（异步）
func (eb *EventBus) Publish(event Event) {
	if eb.closed.Load() {
		return
	}

	eb.mu.RLock()
	handlers, ok := eb.handlers[event.Type]
	eb.mu.RUnlock()

	if !ok || len(handlers) == 0 {
		return
	}

	for _, handler := range handlers {
		h := handler

		// 连接级事件对计数准确性重要，短暂阻塞换取不丢
		if event.Type == EventClientConnected || event.Type == EventClientDisconnected {
			select {
			case eb.workerCh <- func() { h(event) }:
			case <-time.After(100 * time.Millisecond):
				eb.droppedEvents.Add(1)
			}
		} else {
			select {
			case eb.workerCh <- func() { h(event) }:
			default:
				// 队列满时丢弃事件
				eb.droppedEvents.Add(1)
			}
		}
	}
}

// Close 关闭事件总线
func (eb *EventBus) Close() {
	eb.closed.Store(true)

	close(eb.stopCh)
	eb.wg.Wait()

	// 不关闭 workerCh，避免并发 Publish 导致 panic
}

// DroppedEvents 返回被丢弃的事件数量
func (eb *EventBus) DroppedEvents() int64 {
	return eb.droppedEvents.Load()
}
