package ws

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/BronBron-Commits/U-chat/pkg/auth"
	"github.com/BronBron-Commits/U-chat/pkg/logger"
	"github.com/BronBron-Commits/U-chat/pkg/ratelimit"
)

// Hub 网关核心管理器
//
// 串起准入闸门、房间注册表、会话池与观测钩子，
// 对外只暴露升级入口和生命周期控制。
type Hub struct {
	// 核心组件
	gate     *Gate
	registry *Registry
	pool     *sessionPool
	events   *EventBus
	limiter  *ratelimit.Limiter

	// 配置
	config   *Config
	upgrader websocket.Upgrader

	// 生命周期
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// 观测
	metrics Metrics
	logger  logger.Logger
}

// NewHub 创建管理器
func NewHub(opts ...Option) (*Hub, error) {
	config := DefaultConfig()
	for _, opt := range opts {
		opt(config)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	if config.Metrics == nil {
		config.Metrics = &NoopMetrics{}
	}
	if config.Logger == nil {
		config.Logger = logger.Default()
	}
	if config.RateLimit == nil {
		config.RateLimit = ratelimit.DefaultConfig()
	}
	if config.RateLimit.Logger == nil {
		config.RateLimit.Logger = config.Logger
	}

	limiter, err := ratelimit.New(config.RateLimit, config.RateLimitStore)
	if err != nil {
		return nil, err
	}

	var verifierOpts []auth.VerifierOption
	if config.TokenLeeway > 0 {
		verifierOpts = append(verifierOpts, auth.WithLeeway(config.TokenLeeway))
	}

	ctx, cancel := context.WithCancel(context.Background())

	h := &Hub{
		gate: NewGate(
			config.AllowedOrigins,
			auth.NewVerifier(config.TokenSecret, verifierOpts...),
			limiter,
		),
		registry: NewRegistry(config.FanoutCapacity, config.Metrics),
		pool:     newSessionPool(config.MaxConnections),
		events:   NewEventBus(),
		limiter:  limiter,
		config:   config,
		upgrader: websocket.Upgrader{
			ReadBufferSize:   config.ReadBufferSize,
			WriteBufferSize:  config.WriteBufferSize,
			HandshakeTimeout: config.HandshakeTimeout,
			Subprotocols:     []string{SubprotocolBearer},
			// Origin 已由准入闸门校验，升级器不再重复检查
			CheckOrigin: func(*http.Request) bool { return true },
		},
		ctx:     ctx,
		cancel:  cancel,
		metrics: config.Metrics,
		logger:  config.Logger,
	}

	return h, nil
}

// Run 启动后台任务
func (h *Hub) Run() {
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		h.registry.RunSweep(h.ctx, h.config.RoomSweepInterval)
	}()
}

// HandleUpgrade 处理 WebSocket 升级请求
//
// 准入失败统一返回 403 且不带响应体，不泄露失败环节。
func (h *Hub) HandleUpgrade(w http.ResponseWriter, r *http.Request) {
	sctx, rejectErr := h.gate.Admit(r)
	if rejectErr != nil {
		h.metrics.UpgradeRejected(rejectErr.Code)
		h.events.Publish(Event{
			Type: EventUpgradeRejected,
			Code: rejectErr.Code,
			Time: time.Now(),
		})
		h.logger.Warn("upgrade rejected",
			zap.Int("code", rejectErr.Code),
			zap.String("reason", rejectErr.Message),
			zap.String("ip", clientIP(r)),
			zap.Error(rejectErr.Err),
		)
		w.WriteHeader(http.StatusForbidden)
		return
	}

	// 连接数达到上限时在升级前拒绝
	if h.pool.Count() >= h.config.MaxConnections {
		h.logger.Warn("upgrade rejected: too many connections",
			zap.Int("count", h.pool.Count()),
		)
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// 升级器已写入错误响应
		h.logger.Warn("upgrade failed", zap.Error(err))
		return
	}

	session := newSession(sctx, conn, h)

	if err := h.pool.Add(session); err != nil {
		// 与并发升级竞争时池可能刚好满了
		session.reject(websocket.CloseTryAgainLater, "too many connections")
		return
	}

	// 加入房间，拿到扇出通道的订阅句柄
	session.sub = h.registry.Join(sctx.RoomID)

	h.metrics.ConnectionOpened()
	h.metrics.SetConnectionCount(h.pool.Count())
	h.events.Publish(Event{
		Type:      EventClientConnected,
		SessionID: sctx.ConnID,
		Identity:  sctx.Identity,
		RoomID:    sctx.RoomID,
		Time:      time.Now(),
	})
	h.events.Publish(Event{
		Type:      EventRoomJoined,
		SessionID: sctx.ConnID,
		Identity:  sctx.Identity,
		RoomID:    sctx.RoomID,
		Time:      time.Now(),
	})

	h.logger.Info("session admitted",
		zap.String("conn_id", sctx.ConnID),
		zap.String("identity", sctx.Identity),
		zap.String("room", sctx.RoomID),
		zap.String("ip", sctx.SourceIP),
	)

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		session.run()
	}()
}

// Shutdown 优雅关闭
func (h *Hub) Shutdown(ctx context.Context) error {
	h.cancel()

	// 并发关闭所有会话
	var closeWg sync.WaitGroup
	h.pool.Range(func(s *Session) bool {
		closeWg.Add(1)
		go func(session *Session) {
			defer closeWg.Done()
			session.Close()
		}(s)
		return true
	})

	sessionsDone := make(chan struct{})
	go func() {
		closeWg.Wait()
		close(sessionsDone)
	}()

	select {
	case <-sessionsDone:
	case <-ctx.Done():
		// 超时，继续等待 goroutine 清理
	}

	// 拆除剩余房间，关闭事件总线与限流存储
	h.registry.Close()
	h.events.Close()
	_ = h.limiter.Close()

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Registry 返回房间注册表
func (h *Hub) Registry() *Registry {
	return h.registry
}

// Subscribe 订阅网关事件
func (h *Hub) Subscribe(eventType EventType, handler EventHandler) {
	h.events.Subscribe(eventType, handler)
}

// SessionCount 返回当前连接数
func (h *Hub) SessionCount() int {
	return h.pool.Count()
}

// GetSession 按连接标识获取会话
func (h *Hub) GetSession(connID string) (*Session, bool) {
	return h.pool.Get(connID)
}
