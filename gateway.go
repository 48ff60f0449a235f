package uchat

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BronBron-Commits/U-chat/middleware"
	"github.com/BronBron-Commits/U-chat/pkg/config"
	"github.com/BronBron-Commits/U-chat/pkg/logger"
	"github.com/BronBron-Commits/U-chat/pkg/ratelimit"
	"github.com/BronBron-Commits/U-chat/pkg/ws"
)

// Gateway 消息网关实例
//
// 把配置、日志、转发核心和 HTTP 外壳装配到一起：
// /ws 承载升级入口，/healthz 供探活使用。
type Gateway struct {
	cfg    *config.Config
	log    logger.Logger
	hub    *ws.Hub
	engine *gin.Engine
	server *http.Server
	rdb    *redis.Client
	mode   string
}

// New 装配网关
func New(cfg *config.Config, opts ...Option) (*Gateway, error) {
	options := defaultOptions()
	for _, opt := range opts {
		opt(options)
	}

	log, err := newLogger(&cfg.Log)
	if err != nil {
		return nil, err
	}

	// 多实例部署时限流计数放 Redis，单实例用进程内存储
	var rdb *redis.Client
	var store ratelimit.Store
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		store = ratelimit.NewRedisStore(rdb)
	}

	hubOpts := []ws.Option{
		ws.WithTokenSecret(cfg.Auth.TokenSecret),
		ws.WithTokenLeeway(cfg.Auth.TokenLeeway),
		ws.WithAllowedOrigins(cfg.Auth.AllowedOrigins),
		ws.WithMaxConnections(cfg.Gateway.MaxConnections),
		ws.WithMaxMessageSize(cfg.Gateway.MaxMessageSize),
		ws.WithFanoutCapacity(cfg.Gateway.FanoutCapacity),
		ws.WithRoomSweepInterval(cfg.Gateway.RoomSweepInterval),
		ws.WithHeartbeat(cfg.Gateway.HeartbeatInterval, cfg.Gateway.HeartbeatTimeout),
		ws.WithMessageRate(
			cfg.RateLimit.MessagesPerSecond,
			cfg.RateLimit.MessageBurst,
			cfg.RateLimit.MessageHardLimit,
		),
		ws.WithRateLimit(&ratelimit.Config{
			ConnPerIP: ratelimit.Limit{
				Threshold: cfg.RateLimit.ConnPerIPThreshold,
				Window:    cfg.RateLimit.ConnPerIPWindow,
			},
			ConnPerIdentity: ratelimit.Limit{
				Threshold: cfg.RateLimit.ConnPerIdentityThreshold,
				Window:    cfg.RateLimit.ConnPerIdentityWindow,
			},
			Logger: log,
		}),
		ws.WithLogger(log),
	}
	if store != nil {
		hubOpts = append(hubOpts, ws.WithRateLimitStore(store))
	}
	if options.metrics != nil {
		hubOpts = append(hubOpts, ws.WithMetrics(options.metrics))
	}

	hub, err := ws.NewHub(hubOpts...)
	if err != nil {
		if rdb != nil {
			_ = rdb.Close()
		}
		return nil, err
	}

	gin.SetMode(options.mode)
	silenceGin()

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(middleware.AccessLog(log, "/healthz"))

	g := &Gateway{
		cfg:    cfg,
		log:    log,
		hub:    hub,
		engine: engine,
		rdb:    rdb,
		mode:   options.mode,
	}
	g.registerRoutes()

	return g, nil
}

// registerRoutes 注册路由
func (g *Gateway) registerRoutes() {
	g.engine.GET("/ws", func(c *gin.Context) {
		g.hub.HandleUpgrade(c.Writer, c.Request)
	})
	g.engine.GET("/healthz", g.handleHealth)
}

// handleHealth 探活接口
func (g *Gateway) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, Success(HealthStatus{
		Status:      "ok",
		Connections: g.hub.SessionCount(),
		Rooms:       g.hub.Registry().Count(),
	}))
}

// Hub 返回转发核心
func (g *Gateway) Hub() *ws.Hub {
	return g.hub
}

// ApplyConfig 应用热更新后的配置
//
// 监听地址、准入、限流等结构性配置要重启才生效，
// 这里只接管运行中可安全切换的部分，目前是日志级别。
func (g *Gateway) ApplyConfig(cfg *config.Config) {
	level := logger.ParseLevel(cfg.Log.Level)
	if level != g.log.Level() {
		g.log.SetLevel(level)
	}
	g.log.Info("config reloaded", zap.String("log_level", cfg.Log.Level))
}

// Run 启动网关，阻塞到收到终止信号或 ctx 取消
func (g *Gateway) Run(ctx context.Context) error {
	g.server = &http.Server{
		Addr:        g.cfg.Server.Addr,
		Handler:     g.engine,
		ReadTimeout: g.cfg.Server.ReadTimeout,
		// WebSocket 是长连接，写超时必须为 0，
		// 单次写的超时由会话层自己控制
		WriteTimeout: g.cfg.Server.WriteTimeout,
	}

	g.hub.Run()
	g.printBanner(g.cfg.Server.Addr)

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		if err := g.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	group.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			g.log.Info("shutdown signal received", zap.String("signal", sig.String()))
		case <-groupCtx.Done():
		}
		return g.Shutdown()
	})

	return group.Wait()
}

// Shutdown 优雅关闭
//
// 先停止接收新连接，再拆除所有会话和房间，最后释放外部资源。
func (g *Gateway) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), g.cfg.Server.ShutdownTimeout)
	defer cancel()

	var firstErr error
	if g.server != nil {
		if err := g.server.Shutdown(ctx); err != nil {
			firstErr = err
		}
	}

	if err := g.hub.Shutdown(ctx); err != nil && firstErr == nil {
		firstErr = err
	}

	if g.rdb != nil {
		if err := g.rdb.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	g.log.Info("gateway stopped")
	_ = g.log.Sync()
	return firstErr
}

// newLogger 根据配置构建日志实例
func newLogger(cfg *config.LogConfig) (logger.Logger, error) {
	lc := &logger.Config{
		Level:   logger.ParseLevel(cfg.Level),
		Format:  logger.Format(cfg.Format),
		Console: true,
	}
	if cfg.File != "" {
		lc.Rotate = &logger.RotateConfig{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		}
	}
	return logger.New(lc)
}
