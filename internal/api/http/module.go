package http

import (
	"context"
	"io"
	"os"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"

	apicfg "github.com/weisyn/meshguard/internal/config/api"
	logimpl "github.com/weisyn/meshguard/internal/core/infrastructure/log"
	"github.com/weisyn/meshguard/internal/core/infrastructure/metrics"
	eventiface "github.com/weisyn/meshguard/pkg/interfaces/infrastructure/event"
	logiface "github.com/weisyn/meshguard/pkg/interfaces/infrastructure/log"
	"github.com/weisyn/meshguard/pkg/interfaces/resilience"
)

// ModuleInput HTTP 模块依赖；韧性服务均为可选
type ModuleInput struct {
	fx.In

	Lifecycle   fx.Lifecycle
	Config      *apicfg.APIOptions
	Diagnostics resilience.DiagnosticsService `optional:"true"`
	Degradation resilience.DegradationService `optional:"true"`
	Recovery    resilience.RecoveryService    `optional:"true"`
	Events      eventiface.EventBus           `optional:"true"`
	Metrics     *metrics.Metrics              `optional:"true"`
	Logger      logiface.Logger               `optional:"true"`
}

// initializeGinMode 根据环境设置 gin 模式；gin 自带输出交给统一日志
func initializeGinMode() {
	if os.Getenv(gin.EnvGinMode) == "" {
		gin.SetMode(gin.ReleaseMode)
	}
	gin.DefaultWriter = io.Discard
	gin.DefaultErrorWriter = io.Discard
}

// ProvideServer 创建服务器并注册生命周期；HTTP 未启用时只构建路由不监听
func ProvideServer(in ModuleInput) *Server {
	initializeGinMode()

	logger := logimpl.NewModuleLogger(in.Logger, "api")
	server := NewServer(in.Config.HTTP, Services{
		Diagnostics: in.Diagnostics,
		Degradation: in.Degradation,
		Recovery:    in.Recovery,
		Events:      in.Events,
		Metrics:     in.Metrics,
	}, logger)

	if !in.Config.HTTP.Enabled {
		if logger != nil {
			logger.Info("HTTP API 在配置中被禁用")
		}
		return server
	}

	in.Lifecycle.Append(fx.Hook{
		OnStart: func(context.Context) error {
			return server.Start()
		},
		OnStop: func(ctx context.Context) error {
			return server.Stop(ctx)
		},
	})
	return server
}

// Module HTTP API 模块
func Module() fx.Option {
	return fx.Options(
		fx.Provide(ProvideServer),
	)
}
