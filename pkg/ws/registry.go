package ws

import (
	"context"
	"sync"
	"time"
)

// Room 房间
//
// 一个逻辑广播域：一条有界扇出通道加当前订阅集合。
// 房间由 Registry 独占持有，会话只通过 Subscription 借用。
//
// 单个房间内的加入/离开/发布共用一把锁：发布顺序因此对所有
// 订阅者一致，锁粒度是单房间，不同房间互不串行。
type Room struct {
	id        string
	createdAt time.Time

	mu        sync.Mutex
	subs      map[uint64]*Subscription
	nextSubID uint64
	closed    bool
}

// Count 返回当前订阅数
func (r *Room) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}

// publish 向所有当前订阅者投递一条消息
func (r *Room) publish(data []byte) error {
	env := envelope{data: data, publishedAt: time.Now()}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrPublishToClosed
	}
	for _, sub := range r.subs {
		sub.push(env)
	}
	return nil
}

// subscribe 在房间内新建一个订阅，房间已拆除时返回失败
func (r *Room) subscribe(capacity int) (*Subscription, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, false
	}

	r.nextSubID++
	sub := &Subscription{
		room: r,
		ch:   make(chan envelope, capacity),
		done: make(chan struct{}),
		id:   r.nextSubID,
	}
	r.subs[sub.id] = sub
	return sub, true
}

// unsubscribe 移除一个订阅，返回移除后是否应拆除房间
//
// 计数归零与 closed 标记在同一临界区内完成：并发加入要么在
// 标记前挤进来（房间保留），要么在标记后观察到 closed 而重建
// 新的房间实例，旧实例的减计数不可能误删新实例。
func (r *Room) unsubscribe(sub *Subscription) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.subs[sub.id]; !ok {
		return false
	}
	delete(r.subs, sub.id)
	close(sub.done)

	if len(r.subs) == 0 && !r.closed {
		r.closed = true
		return true
	}
	return false
}

// close 拆除房间，通知所有剩余订阅者
func (r *Room) close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}
	r.closed = true
	for id, sub := range r.subs {
		delete(r.subs, id)
		close(sub.done)
	}
}

// Registry 房间注册表
//
// roomID 到房间的并发映射。注册表自身基于 sync.Map，
// 同一标识的并发首次创建由 LoadOrStore 仲裁，单写者胜出，
// 不会出现同一房间的两条独立扇出通道。
type Registry struct {
	rooms    sync.Map // roomID -> *Room
	capacity int      // 扇出通道容量
	metrics  Metrics
}

// NewRegistry 创建注册表
func NewRegistry(capacity int, metrics Metrics) *Registry {
	if metrics == nil {
		metrics = &NoopMetrics{}
	}
	return &Registry{
		capacity: capacity,
		metrics:  metrics,
	}
}

// Join 加入房间，不存在时惰性创建
//
// 与并发的移除竞争时重试：拿到的房间实例可能刚被标记拆除，
// 此时从映射中淘汰旧实例并重新创建。
func (reg *Registry) Join(roomID string) *Subscription {
	for {
		value, loaded := reg.rooms.LoadOrStore(roomID, &Room{
			id:        roomID,
			createdAt: time.Now(),
			subs:      make(map[uint64]*Subscription),
		})
		room := value.(*Room)

		if sub, ok := room.subscribe(reg.capacity); ok {
			if !loaded {
				reg.metrics.RoomCreated(roomID)
				reg.metrics.SetRoomCount(reg.Count())
			}
			return sub
		}

		// 房间正被拆除，淘汰死实例后重试
		reg.rooms.CompareAndDelete(roomID, room)
	}
}

// Leave 离开房间，最后一个订阅者离开时移除房间
//
// 对同一订阅重复调用是空操作，计数不会被重复递减。
func (reg *Registry) Leave(sub *Subscription) {
	room := sub.room
	if room.unsubscribe(sub) {
		reg.rooms.CompareAndDelete(room.id, room)
		reg.metrics.RoomRemoved(room.id)
		reg.metrics.SetRoomCount(reg.Count())
	}
}

// Get 获取房间
func (reg *Registry) Get(roomID string) (*Room, bool) {
	value, ok := reg.rooms.Load(roomID)
	if !ok {
		return nil, false
	}
	return value.(*Room), true
}

// Count 返回房间数量
func (reg *Registry) Count() int {
	count := 0
	reg.rooms.Range(func(_, _ any) bool {
		count++
		return true
	})
	return count
}

// Close 拆除所有房间（网关停机时调用）
func (reg *Registry) Close() {
	reg.rooms.Range(func(key, value any) bool {
		room := value.(*Room)
		room.close()
		reg.rooms.CompareAndDelete(key.(string), room)
		return true
	})
}

// RunSweep 周期性清扫空房间
//
// 正常路径由 Leave 精确移除，这里兜底回收异常残留的空房间。
func (reg *Registry) RunSweep(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			reg.sweepEmptyRooms()
		}
	}
}

// sweepEmptyRooms 移除没有订阅者的残留房间
func (reg *Registry) sweepEmptyRooms() {
	reg.rooms.Range(func(key, value any) bool {
		room := value.(*Room)

		room.mu.Lock()
		stale := len(room.subs) == 0
		if stale {
			room.closed = true
		}
		room.mu.Unlock()

		if stale {
			reg.rooms.CompareAndDelete(key.(string), room)
			reg.metrics.RoomRemoved(room.id)
		}
		return true
	})
}
