package ws

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/BronBron-Commits/U-chat/pkg/ratelimit"
)

// SessionState 会话状态
type SessionState int32

const (
	// StateConnecting 等待准入决定
	StateConnecting SessionState = iota
	// StateAdmitted 准入通过，尚未进入转发循环
	StateAdmitted
	// StateActive 双向转发循环运行中
	StateActive
	// StateTerminating 任一循环退出，正在清理
	StateTerminating
	// StateClosed 终态
	StateClosed
)

// Session 连接会话
//
// 一条活跃 WebSocket 对应一个会话：入站循环把客户端消息
// 限流后发布到房间，出站循环把房间扇出转发回客户端。
// 任一循环退出会取消另一个，清理路径幂等，离开房间恰好一次。
type Session struct {
	sctx *SessionContext
	conn *websocket.Conn
	hub  *Hub
	sub  *Subscription

	msgLimiter *ratelimit.MessageLimiter

	// 计数器
	messagesSent     atomic.Int64 // 出站（网关→客户端）
	messagesReceived atomic.Int64 // 入站（客户端→网关）

	// 生命周期
	state     atomic.Int32
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	leaveOnce sync.Once

	writeMu sync.Mutex // 序列化对 conn 的写
}

// newSession 创建会话
func newSession(sctx *SessionContext, conn *websocket.Conn, hub *Hub) *Session {
	ctx, cancel := context.WithCancel(hub.ctx)

	s := &Session{
		sctx: sctx,
		conn: conn,
		hub:  hub,
		msgLimiter: ratelimit.NewMessageLimiter(
			hub.config.MessagesPerSecond,
			hub.config.MessageBurst,
			hub.config.MessageHardLimit,
		),
		ctx:    ctx,
		cancel: cancel,
	}
	s.state.Store(int32(StateAdmitted))
	return s
}

// ID 返回连接标识
func (s *Session) ID() string {
	return s.sctx.ConnID
}

// Identity 返回会话身份
func (s *Session) Identity() string {
	return s.sctx.Identity
}

// RoomID 返回分配的房间
func (s *Session) RoomID() string {
	return s.sctx.RoomID
}

// State 返回当前状态
func (s *Session) State() SessionState {
	return SessionState(s.state.Load())
}

// Counters 返回入站/出站消息计数
func (s *Session) Counters() (received, sent int64) {
	return s.messagesReceived.Load(), s.messagesSent.Load()
}

// reject 放弃一个还没进入转发循环的会话
//
// 读写泵尚未启动，也还没加入房间，
// 只需撤销 cancel 在 hub 上的注册并关闭底层连接。
func (s *Session) reject(code int, reason string) {
	s.cancel()
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason),
		time.Now().Add(time.Second))
	_ = s.conn.Close()
}

// run 运行双向转发循环，阻塞到会话终止
func (s *Session) run() {
	s.state.Store(int32(StateActive))

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		s.readPump()
	}()

	go func() {
		defer wg.Done()
		s.writePump()
	}()

	wg.Wait()
	s.Close()
}

// readPump 入站循环：客户端 → 房间
func (s *Session) readPump() {
	// 任一循环退出时取消另一个
	defer s.cancel()

	s.conn.SetReadLimit(s.hub.config.MaxMessageSize)
	if err := s.conn.SetReadDeadline(time.Now().Add(s.hub.config.HeartbeatTimeout)); err != nil {
		return
	}
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(s.hub.config.HeartbeatTimeout))
	})

	// 连续畸形帧计数，达到上限即断开
	violations := 0

	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			// 协议违规与异常关闭都在这里终止入站循环
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.hub.logger.Warn("session read error",
					zap.String("conn_id", s.sctx.ConnID),
					zap.Error(err),
				)
			}
			return
		}

		// 房间内只转发文本帧，二进制帧视为协议违规
		if messageType != websocket.TextMessage {
			violations++
			if violations >= maxFrameViolations {
				s.hub.logger.Warn("session terminated: repeated malformed frames",
					zap.String("conn_id", s.sctx.ConnID),
					zap.Int("violations", violations),
				)
				_ = s.writeControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseUnsupportedData, "text frames only"))
				return
			}
			continue
		}
		violations = 0

		s.messagesReceived.Add(1)

		switch s.msgLimiter.Check() {
		case ratelimit.Allowed:
			if err := s.sub.Publish(data); err != nil {
				// 房间已拆除，会话没有继续存在的意义
				return
			}
			s.hub.metrics.MessagePublished(s.sctx.RoomID)
			s.hub.events.Publish(Event{
				Type:      EventMessagePublished,
				SessionID: s.sctx.ConnID,
				Identity:  s.sctx.Identity,
				RoomID:    s.sctx.RoomID,
				Time:      time.Now(),
			})

		case ratelimit.SoftLimited:
			// 偶发突发：丢弃本条消息，连接保留
			s.hub.metrics.RateLimitHit("message")

		case ratelimit.HardLimited:
			// 持续滥用：响亮地断开胜过安静地丢数据
			s.hub.metrics.RateLimitHit("message")
			s.hub.logger.Warn("session terminated: sustained message rate abuse",
				zap.String("conn_id", s.sctx.ConnID),
				zap.String("identity", s.sctx.Identity),
				zap.Int("strikes", s.msgLimiter.Strikes()),
			)
			return
		}
	}
}

// writePump 出站循环：房间 → 客户端
func (s *Session) writePump() {
	ticker := time.NewTicker(s.hub.config.HeartbeatInterval)
	defer func() {
		ticker.Stop()
		s.cancel()
		s.conn.Close()
	}()

	for {
		select {
		case <-s.ctx.Done():
			_ = s.writeControl(websocket.CloseMessage, []byte{})
			return

		case env := <-s.sub.Receive():
			// 出现空洞时先发丢弃通告，再发数据
			if dropped := s.sub.TakeDropped(); dropped > 0 {
				s.hub.metrics.MessageDropped(s.sctx.RoomID)
				if err := s.writeMessage(newDroppedNotice(dropped)); err != nil {
					return
				}
			}
			if err := s.writeMessage(env.data); err != nil {
				return
			}
			s.messagesSent.Add(1)
			s.hub.metrics.MessageDelivered(s.sctx.RoomID)
			s.hub.metrics.ObserveDeliveryLatency(time.Since(env.publishedAt))

		case <-s.sub.Done():
			// 房间拆除，通知客户端后退出
			_ = s.writeControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "room closed"))
			return

		case <-ticker.C:
			if err := s.writeControl(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// writeMessage 带写超时发送一条文本消息
func (s *Session) writeMessage(data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

// writeControl 带写超时发送一条控制帧
func (s *Session) writeControl(messageType int, data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return s.conn.WriteMessage(messageType, data)
}

// writeWait 单次写超时
const writeWait = 10 * time.Second

// maxFrameViolations 连续畸形帧断开阈值
const maxFrameViolations = 5

// Close 终止会话
//
// 幂等：重复调用是空操作。离开房间恰好一次，计数不会被重复递减。
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.state.Store(int32(StateTerminating))
		s.cancel()

		// 从连接池移除
		s.hub.pool.Remove(s.sctx.ConnID)

		// 离开房间恰好一次
		s.leave()

		// 关闭底层连接，驱动两个循环退出
		s.conn.Close()

		received, sent := s.Counters()
		s.hub.logger.Info("session closed",
			zap.String("conn_id", s.sctx.ConnID),
			zap.String("identity", s.sctx.Identity),
			zap.String("room", s.sctx.RoomID),
			zap.Int64("messages_received", received),
			zap.Int64("messages_sent", sent),
			zap.Duration("duration", time.Since(s.sctx.ConnectedAt)),
		)

		s.hub.metrics.ConnectionClosed()
		s.hub.metrics.SetConnectionCount(s.hub.pool.Count())
		s.hub.events.Publish(Event{
			Type:      EventClientDisconnected,
			SessionID: s.sctx.ConnID,
			Identity:  s.sctx.Identity,
			RoomID:    s.sctx.RoomID,
			Time:      time.Now(),
		})

		s.state.Store(int32(StateClosed))
	})
}

// leave 离开房间（恰好一次）
func (s *Session) leave() {
	s.leaveOnce.Do(func() {
		if s.sub == nil {
			// 停机与升级竞争时会话可能还没加入房间
			return
		}
		s.hub.registry.Leave(s.sub)
		s.hub.events.Publish(Event{
			Type:      EventRoomLeft,
			SessionID: s.sctx.ConnID,
			Identity:  s.sctx.Identity,
			RoomID:    s.sctx.RoomID,
			Time:      time.Now(),
		})
	})
}
