package http

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/weisyn/meshguard/internal/api/http/handlers"
	"github.com/weisyn/meshguard/internal/api/http/middleware"
	"github.com/weisyn/meshguard/internal/api/websocket"
	apicfg "github.com/weisyn/meshguard/internal/config/api"
	"github.com/weisyn/meshguard/internal/core/infrastructure/metrics"
	eventiface "github.com/weisyn/meshguard/pkg/interfaces/infrastructure/event"
	logiface "github.com/weisyn/meshguard/pkg/interfaces/infrastructure/log"
	"github.com/weisyn/meshguard/pkg/interfaces/resilience"
)

// ErrAlreadyStarted 服务器已启动
var ErrAlreadyStarted = errors.New("http: server already started")

// Services 路由依赖的服务集合；任一为 nil 时对应路由返回 503
type Services struct {
	Diagnostics resilience.DiagnosticsService
	Degradation resilience.DegradationService
	Recovery    resilience.RecoveryService
	Events      eventiface.EventBus
	Metrics     *metrics.Metrics
}

// Server HTTP服务器
type Server struct {
	cfg    apicfg.HTTPConfig
	router *gin.Engine
	stream *websocket.Server
	logger logiface.Logger

	mu         sync.Mutex
	httpServer *http.Server
	listener   net.Listener
	done       chan struct{}
}

// NewServer 创建服务器并注册全部路由；不监听端口
func NewServer(cfg apicfg.HTTPConfig, svc Services, logger logiface.Logger) *Server {
	router, stream := buildRouter(cfg, svc, logger)
	return &Server{
		cfg:    cfg,
		router: router,
		stream: stream,
		logger: logger,
	}
}

// NewRouter 构建 gin 路由
//
//   - /health, /health/live, /health/ready
//   - /metrics（注入 Metrics 时）
//   - /api/v1/resilience/...
//   - /api/v1/resilience/events[/:type]
//   - /api/v1/resilience/events/stream（WebSocket）
func NewRouter(cfg apicfg.HTTPConfig, svc Services, logger logiface.Logger) *gin.Engine {
	router, _ := buildRouter(cfg, svc, logger)
	return router
}

func buildRouter(cfg apicfg.HTTPConfig, svc Services, logger logiface.Logger) (*gin.Engine, *websocket.Server) {
	router := gin.New()

	var apiMetrics *middleware.Metrics
	if svc.Metrics != nil {
		apiMetrics = middleware.NewMetrics(svc.Metrics.Registry())
	}
	router.Use(
		middleware.Recovery(logger),
		middleware.RequestID(),
		middleware.NewLogger(logger, "/metrics", "/health/live").Middleware(),
		apiMetrics.Middleware(),
		middleware.ErrorHandler(logger),
		middleware.NewRateLimit(cfg.WriteRateLimit, cfg.WriteBurst, logger).Middleware(),
	)

	handlers.NewHealthHandler(svc.Diagnostics, svc.Degradation).RegisterRoutes(router)
	if svc.Metrics != nil {
		router.GET("/metrics", gin.WrapH(svc.Metrics.Handler()))
	}

	v1 := router.Group("/api/v1")
	handlers.NewResilienceHandlers(
		svc.Diagnostics,
		svc.Degradation,
		svc.Recovery,
		cfg.RequestTimeout,
		logger,
	).RegisterRoutes(v1)
	handlers.NewEventHandlers(svc.Events).RegisterRoutes(v1)
	stream := websocket.NewServer(svc.Events, logger)
	stream.RegisterRoutes(v1)

	return router, stream
}

// Handler 返回路由（测试与嵌入使用）
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start 监听配置地址并在后台提供服务
//
// 监听失败同步返回；端口被占用时不漂移，CLI 依赖固定地址。
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.httpServer != nil {
		return ErrAlreadyStarted
	}

	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.ListenAddr, err)
	}

	srv := &http.Server{
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}
	done := make(chan struct{})
	s.httpServer = srv
	s.listener = ln
	s.done = done

	go func() {
		defer close(done)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			if s.logger != nil {
				s.logger.Errorf("HTTP服务器运行失败: %v", err)
			}
		}
	}()

	if s.logger != nil {
		s.logger.Infof("HTTP服务器启动成功，监听地址: %s", ln.Addr())
		s.logger.Infof("API端点: http://%s/api/v1/resilience", ln.Addr())
	}
	return nil
}

// Addr 实际监听地址；未启动时返回空串
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop 优雅关闭，等待活跃请求完成（受 ShutdownTimeout 限制）
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv, done := s.httpServer, s.done
	s.httpServer, s.listener, s.done = nil, nil, nil
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	// 被劫持的 WebSocket 连接不受 Shutdown 管理，先行关闭
	s.stream.Close()

	if s.logger != nil {
		s.logger.Info("正在关闭HTTP服务器")
	}
	if s.cfg.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
		defer cancel()
	}
	if err := srv.Shutdown(ctx); err != nil {
		if s.logger != nil {
			s.logger.Errorf("HTTP服务器关闭出错: %v", err)
		}
		return err
	}
	<-done
	return nil
}
