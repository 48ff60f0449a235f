package ws

import (
	"sync/atomic"
	"time"
)

// envelope 扇出通道中的一条消息
type envelope struct {
	data        []byte
	publishedAt time.Time
}

// Subscription 订阅句柄
//
// 会话持有的消费端引用，只借用房间的扇出通道，不拥有房间。
// 缓冲满时最旧的消息被挤出，被挤出的条数通过 TakeDropped 暴露，
// 消费者据此得知出现了空洞，而不是拿到错误数据。
type Subscription struct {
	room    *Room
	ch      chan envelope
	done    chan struct{}
	id      uint64
	dropped atomic.Int64
}

// push 投递一条消息，缓冲满时挤掉最旧的一条
//
// 只能在持有房间锁时调用，发布端永远不会被慢消费者阻塞。
func (s *Subscription) push(env envelope) {
	for {
		select {
		case s.ch <- env:
			return
		default:
		}
		// 缓冲已满，挤出最旧的一条再重试
		select {
		case <-s.ch:
			s.dropped.Add(1)
		default:
		}
	}
}

// Receive 返回消费端通道
//
// 房间被拆除时通道不再有新消息，Done 通道会被关闭。
func (s *Subscription) Receive() <-chan envelope {
	return s.ch
}

// Done 返回关闭通知通道
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// TakeDropped 取走并清零自上次读取以来被挤出的消息数
func (s *Subscription) TakeDropped() int64 {
	return s.dropped.Swap(0)
}

// Publish 向所属房间发布一条消息
func (s *Subscription) Publish(data []byte) error {
	return s.room.publish(data)
}

// RoomID 返回所属房间标识
func (s *Subscription) RoomID() string {
	return s.room.id
}
