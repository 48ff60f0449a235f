package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
)

const hubSecret = "hub-test-secret"

// newTestHub 创建测试网关并挂到 httptest 服务器上
func newTestHub(t *testing.T, opts ...Option) (*Hub, *httptest.Server) {
	t.Helper()

	base := []Option{
		WithTokenSecret(hubSecret),
		WithHeartbeat(time.Second, 5*time.Second),
	}
	hub, err := NewHub(append(base, opts...)...)
	if err != nil {
		t.Fatalf("NewHub() error = %v", err)
	}
	hub.Run()

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleUpgrade))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = hub.Shutdown(ctx)
		srv.Close()
	})
	return hub, srv
}

// hubToken 签发测试令牌
func hubToken(t *testing.T, sub, room string) string {
	t.Helper()
	claims := jwt.MapClaims{"sub": sub, "exp": time.Now().Add(time.Hour).Unix()}
	if room != "" {
		claims["room"] = room
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(hubSecret))
	if err != nil {
		t.Fatal(err)
	}
	return s
}

// dial 以 bearer 子协议携带令牌建立连接
func dial(t *testing.T, srv *httptest.Server, token string) *websocket.Conn {
	t.Helper()
	conn, resp, err := dialRaw(srv, token)
	if err != nil {
		t.Fatalf("dial error = %v (resp: %+v)", err, resp)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func dialRaw(srv *httptest.Server, token string) (*websocket.Conn, *http.Response, error) {
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	dialer := websocket.Dialer{
		Subprotocols:     []string{SubprotocolBearer, token},
		HandshakeTimeout: 5 * time.Second,
	}
	return dialer.Dial(url, nil)
}

// readText 带超时读一条文本消息
func readText(t *testing.T, conn *websocket.Conn) []byte {
	t.Helper()
	if err := conn.SetReadDeadline(time.Now().Add(3 * time.Second)); err != nil {
		t.Fatal(err)
	}
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage() error = %v", err)
	}
	return data
}

// TestHub_RoomFanout 测试同房间内消息互通且回显给发布者
func TestHub_RoomFanout(t *testing.T) {
	hub, srv := newTestHub(t)

	alice := dial(t, srv, hubToken(t, "alice", "lobby"))
	bob := dial(t, srv, hubToken(t, "bob", "lobby"))

	// 等两个会话都完成加入，避免 bob 错过消息
	waitForSessions(t, hub, 2)

	if err := alice.WriteMessage(websocket.TextMessage, []byte("hello")); err != nil {
		t.Fatal(err)
	}

	if got := readText(t, bob); string(got) != "hello" {
		t.Errorf("bob received %q, want hello", got)
	}
	// 发布者自己也收到：房间内每个订阅者都在扇出集合里
	if got := readText(t, alice); string(got) != "hello" {
		t.Errorf("alice received %q, want hello", got)
	}
}

// TestHub_RoomIsolation 测试跨房间消息隔离
func TestHub_RoomIsolation(t *testing.T) {
	hub, srv := newTestHub(t)

	alice := dial(t, srv, hubToken(t, "alice", "room-a"))
	bob := dial(t, srv, hubToken(t, "bob", "room-b"))
	waitForSessions(t, hub, 2)

	if err := alice.WriteMessage(websocket.TextMessage, []byte("secret")); err != nil {
		t.Fatal(err)
	}

	// bob 不应该收到任何数据帧
	if err := bob.SetReadDeadline(time.Now().Add(300 * time.Millisecond)); err != nil {
		t.Fatal(err)
	}
	if _, data, err := bob.ReadMessage(); err == nil {
		t.Errorf("bob in room-b received %q from room-a", data)
	}
}

// TestHub_SubprotocolNegotiated 测试握手回显 bearer 子协议
func TestHub_SubprotocolNegotiated(t *testing.T) {
	_, srv := newTestHub(t)

	conn := dial(t, srv, hubToken(t, "alice", ""))
	if got := conn.Subprotocol(); got != SubprotocolBearer {
		t.Errorf("negotiated subprotocol = %q, want %q", got, SubprotocolBearer)
	}
}

// TestHub_RejectMissingToken 测试无凭证的握手被 403 拒绝
func TestHub_RejectMissingToken(t *testing.T) {
	_, srv := newTestHub(t)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("dial without credential succeeded, want rejection")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Errorf("status = %v, want 403", resp)
	}
}

// TestHub_RejectForbiddenOrigin 测试白名单外 Origin 被 403 拒绝
func TestHub_RejectForbiddenOrigin(t *testing.T) {
	_, srv := newTestHub(t, WithAllowedOrigins([]string{"https://app.example.com"}))

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	dialer := websocket.Dialer{
		Subprotocols: []string{SubprotocolBearer, hubToken(t, "alice", "")},
	}
	_, resp, err := dialer.Dial(url, http.Header{"Origin": []string{"https://evil.example"}})
	if err == nil {
		t.Fatal("dial from disallowed origin succeeded, want rejection")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Errorf("status = %v, want 403", resp)
	}
}

// TestHub_DefaultRoomPerIdentity 测试无 room 声明的连接落入各自私有房间
func TestHub_DefaultRoomPerIdentity(t *testing.T) {
	hub, srv := newTestHub(t)

	dial(t, srv, hubToken(t, "alice", ""))
	waitForSessions(t, hub, 1)

	if _, ok := hub.Registry().Get("user:alice"); !ok {
		t.Error("room user:alice not created")
	}
}

// TestHub_DroppedNotice 测试慢消费者收到丢弃通告
func TestHub_DroppedNotice(t *testing.T) {
	hub, srv := newTestHub(t, WithFanoutCapacity(2))

	slow := dial(t, srv, hubToken(t, "slow", "burst"))
	waitForSessions(t, hub, 1)

	// 直接从注册表侧发布，制造超过缓冲容量的突发；
	// 消费端 writePump 被网络调度延后时最旧的消息被挤出
	room, ok := hub.Registry().Get("burst")
	if !ok {
		t.Fatal("room burst not created")
	}
	for i := 0; i < 50; i++ {
		if err := room.publish([]byte("x")); err != nil {
			t.Fatal(err)
		}
	}

	// 读到的帧里应当出现一条丢弃通告
	sawNotice := false
	for i := 0; i < 10; i++ {
		if err := slow.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
			t.Fatal(err)
		}
		_, data, err := slow.ReadMessage()
		if err != nil {
			break
		}
		var notice DroppedNotice
		if json.Unmarshal(data, &notice) == nil && notice.Type == controlTypeDropped {
			if notice.Dropped <= 0 {
				t.Errorf("notice.Dropped = %d, want > 0", notice.Dropped)
			}
			sawNotice = true
			break
		}
	}
	if !sawNotice {
		t.Error("slow consumer never received a dropped notice")
	}
}

// TestHub_ConnectionLimit 测试连接数达到上限后返回 503
func TestHub_ConnectionLimit(t *testing.T) {
	hub, srv := newTestHub(t, WithMaxConnections(1))

	dial(t, srv, hubToken(t, "alice", "lobby"))
	waitForSessions(t, hub, 1)

	_, resp, err := dialRaw(srv, hubToken(t, "bob", "lobby"))
	if err == nil {
		t.Fatal("dial above connection limit succeeded, want rejection")
	}
	if resp == nil || resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %v, want 503", resp)
	}
}

// TestHub_CleanupOnDisconnect 测试断开后会话与空房间都被回收
func TestHub_CleanupOnDisconnect(t *testing.T) {
	hub, srv := newTestHub(t)

	conn := dial(t, srv, hubToken(t, "alice", "ephemeral"))
	waitForSessions(t, hub, 1)

	conn.Close()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if hub.SessionCount() == 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if got := hub.SessionCount(); got != 0 {
		t.Fatalf("SessionCount() = %d after disconnect, want 0", got)
	}
	if _, ok := hub.Registry().Get("ephemeral"); ok {
		t.Error("empty room ephemeral still registered after last leave")
	}
}

// TestHub_HardLimitDisconnect 测试持续超限的连接被断开
func TestHub_HardLimitDisconnect(t *testing.T) {
	hub, srv := newTestHub(t, WithMessageRate(1, 1, 3))

	conn := dial(t, srv, hubToken(t, "flooder", "noisy"))
	waitForSessions(t, hub, 1)

	// 突发远超配额，触发连续超限断开
	for i := 0; i < 20; i++ {
		if err := conn.WriteMessage(websocket.TextMessage, []byte("spam")); err != nil {
			break
		}
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if hub.SessionCount() == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Errorf("SessionCount() = %d, flooding session was not terminated", hub.SessionCount())
}

// TestHub_BinaryFramesDisconnect 测试连续二进制帧触发断开
func TestHub_BinaryFramesDisconnect(t *testing.T) {
	hub, srv := newTestHub(t)

	conn := dial(t, srv, hubToken(t, "binary", "frames"))
	waitForSessions(t, hub, 1)

	for i := 0; i < maxFrameViolations+1; i++ {
		if err := conn.WriteMessage(websocket.BinaryMessage, []byte{0x01}); err != nil {
			break
		}
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if hub.SessionCount() == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Errorf("SessionCount() = %d, binary-frame session was not terminated", hub.SessionCount())
}

// TestHub_GracefulShutdown 测试停机时客户端收到关闭帧
func TestHub_GracefulShutdown(t *testing.T) {
	hub, err := NewHub(WithTokenSecret(hubSecret))
	if err != nil {
		t.Fatal(err)
	}
	hub.Run()
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleUpgrade))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	dialer := websocket.Dialer{Subprotocols: []string{SubprotocolBearer, hubToken(t, "alice", "lobby")}}
	conn, _, err := dialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := hub.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}

	if got := hub.SessionCount(); got != 0 {
		t.Errorf("SessionCount() = %d after shutdown, want 0", got)
	}
	if got := hub.Registry().Count(); got != 0 {
		t.Errorf("Registry().Count() = %d after shutdown, want 0", got)
	}
}

// TestHub_MessageSizeAndSweepOptions 测试消息上限与清扫间隔选项生效
func TestHub_MessageSizeAndSweepOptions(t *testing.T) {
	hub, srv := newTestHub(t,
		WithMaxMessageSize(32),
		WithRoomSweepInterval(time.Minute),
	)

	if got := hub.config.MaxMessageSize; got != 32 {
		t.Errorf("MaxMessageSize = %d, want 32", got)
	}
	if got := hub.config.RoomSweepInterval; got != time.Minute {
		t.Errorf("RoomSweepInterval = %v, want %v", got, time.Minute)
	}

	conn := dial(t, srv, hubToken(t, "alice", "lobby"))
	waitForSessions(t, hub, 1)

	// 超限帧收到 1009 关闭
	if err := conn.WriteMessage(websocket.TextMessage, make([]byte, 100)); err != nil {
		t.Fatal(err)
	}
	if err := conn.SetReadDeadline(time.Now().Add(3 * time.Second)); err != nil {
		t.Fatal(err)
	}
	if _, _, err := conn.ReadMessage(); !websocket.IsCloseError(err, websocket.CloseMessageTooBig) {
		t.Fatalf("ReadMessage() error = %v, want close %d", err, websocket.CloseMessageTooBig)
	}
}

// TestHub_RejectedSessionReleasesLifecycle 测试入池失败被放弃的会话释放生命周期
func TestHub_RejectedSessionReleasesLifecycle(t *testing.T) {
	hub, _ := newTestHub(t)

	// 单独起一个升级端点，拿到服务端连接句柄
	var upgrader websocket.Upgrader
	connCh := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		connCh <- c
	}))
	defer srv.Close()

	client, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial error = %v", err)
	}
	defer client.Close()
	serverConn := <-connCh

	s := newSession(&SessionContext{
		ConnID:   "c1",
		Identity: "alice",
		RoomID:   "lobby",
		SourceIP: "127.0.0.1",
	}, serverConn, hub)
	s.reject(websocket.CloseTryAgainLater, "too many connections")

	select {
	case <-s.ctx.Done():
	default:
		t.Fatal("放弃后会话 ctx 应已取消")
	}

	if err := client.SetReadDeadline(time.Now().Add(time.Second)); err != nil {
		t.Fatal(err)
	}
	if _, _, err := client.ReadMessage(); !websocket.IsCloseError(err, websocket.CloseTryAgainLater) {
		t.Fatalf("ReadMessage() error = %v, want close %d", err, websocket.CloseTryAgainLater)
	}
}

// waitForSessions 等待网关侧会话数达到期望值
func waitForSessions(t *testing.T, hub *Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if hub.SessionCount() >= want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %d sessions", want)
}
