package uchat

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BronBron-Commits/U-chat/pkg/config"
	"github.com/BronBron-Commits/U-chat/pkg/logger"
	"github.com/BronBron-Commits/U-chat/pkg/ws"
)

const testSecret = "gateway-test-secret"

// testConfig 最小可用配置
func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			Addr:            ":0",
			ReadTimeout:     10 * time.Second,
			ShutdownTimeout: 5 * time.Second,
		},
		Auth: config.AuthConfig{
			TokenSecret: testSecret,
		},
		Gateway: config.GatewayConfig{
			MaxConnections:    100,
			MaxMessageSize:    64 * 1024,
			FanoutCapacity:    16,
			HeartbeatInterval: time.Second,
			HeartbeatTimeout:  5 * time.Second,
			RoomSweepInterval: time.Minute,
		},
		RateLimit: config.RateLimitConfig{
			ConnPerIPThreshold:       60,
			ConnPerIPWindow:          time.Minute,
			ConnPerIdentityThreshold: 30,
			ConnPerIdentityWindow:    time.Minute,
			MessagesPerSecond:        50,
			MessageBurst:             50,
			MessageHardLimit:         10,
		},
		Log: config.LogConfig{Level: "error", Format: "console"},
	}
}

// newTestGateway 装配网关并挂到 httptest 服务器
func newTestGateway(t *testing.T, cfg *config.Config) (*Gateway, *httptest.Server) {
	t.Helper()

	g, err := New(cfg)
	require.NoError(t, err)
	g.hub.Run()

	srv := httptest.NewServer(g.engine)
	t.Cleanup(func() {
		_ = g.Shutdown()
		srv.Close()
	})
	return g, srv
}

func signToken(t *testing.T, sub, room string) string {
	t.Helper()
	claims := jwt.MapClaims{"sub": sub, "exp": time.Now().Add(time.Hour).Unix()}
	if room != "" {
		claims["room"] = room
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return s
}

// TestGateway_Health 测试探活接口
func TestGateway_Health(t *testing.T) {
	_, srv := newTestGateway(t, testConfig())

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body Response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, http.StatusOK, body.Code)

	data, ok := body.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "ok", data["status"])
}

// TestGateway_WebSocketRoundTrip 测试完整链路：升级、发布、回显
func TestGateway_WebSocketRoundTrip(t *testing.T) {
	g, srv := newTestGateway(t, testConfig())

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	dialer := websocket.Dialer{
		Subprotocols: []string{ws.SubprotocolBearer, signToken(t, "alice", "lobby")},
	}
	conn, _, err := dialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	assert.Equal(t, ws.SubprotocolBearer, conn.Subprotocol())

	// 等会话在网关侧注册完成
	require.Eventually(t, func() bool {
		return g.Hub().SessionCount() == 1
	}, 3*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("ping")))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "ping", string(data))
}

// TestGateway_RejectWithoutToken 测试无凭证升级被拒绝
func TestGateway_RejectWithoutToken(t *testing.T) {
	_, srv := newTestGateway(t, testConfig())

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

// TestGateway_Shutdown 测试关闭后资源释放
func TestGateway_Shutdown(t *testing.T) {
	g, err := New(testConfig())
	require.NoError(t, err)
	g.hub.Run()

	srv := httptest.NewServer(g.engine)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	dialer := websocket.Dialer{
		Subprotocols: []string{ws.SubprotocolBearer, signToken(t, "bob", "")},
	}
	conn, _, err := dialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool {
		return g.Hub().SessionCount() == 1
	}, 3*time.Second, 10*time.Millisecond)

	require.NoError(t, g.Shutdown())
	assert.Equal(t, 0, g.Hub().SessionCount())
	assert.Equal(t, 0, g.Hub().Registry().Count())
}

// TestGateway_MaxMessageSize 测试配置的消息大小上限传导到读循环
func TestGateway_MaxMessageSize(t *testing.T) {
	cfg := testConfig()
	cfg.Gateway.MaxMessageSize = 32
	g, srv := newTestGateway(t, cfg)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	dialer := websocket.Dialer{
		Subprotocols: []string{ws.SubprotocolBearer, signToken(t, "alice", "lobby")},
	}
	conn, _, err := dialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool {
		return g.Hub().SessionCount() == 1
	}, 3*time.Second, 10*time.Millisecond)

	// 超限帧触发 1009 关闭，消息不会被转发
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, make([]byte, 100)))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, _, err = conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseMessageTooBig), "期望 1009 关闭帧，got %v", err)

	require.Eventually(t, func() bool {
		return g.Hub().SessionCount() == 0
	}, 3*time.Second, 10*time.Millisecond)
}

// TestGateway_ApplyConfig 测试热更新回调切换日志级别
func TestGateway_ApplyConfig(t *testing.T) {
	g, _ := newTestGateway(t, testConfig())
	require.Equal(t, logger.ErrorLevel, g.log.Level())

	cfg := testConfig()
	cfg.Log.Level = "debug"
	g.ApplyConfig(cfg)

	assert.Equal(t, logger.DebugLevel, g.log.Level())
}
