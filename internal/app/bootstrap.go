package app

import (
	"context"
	"fmt"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/weisyn/meshguard/internal/api"
	"github.com/weisyn/meshguard/internal/config"
	"github.com/weisyn/meshguard/internal/core/infrastructure/clock"
	"github.com/weisyn/meshguard/internal/core/infrastructure/event"
	"github.com/weisyn/meshguard/internal/core/infrastructure/log"
	"github.com/weisyn/meshguard/internal/core/infrastructure/metrics"
	"github.com/weisyn/meshguard/internal/core/p2p"
	"github.com/weisyn/meshguard/internal/core/resilience/centralized"
	"github.com/weisyn/meshguard/internal/core/resilience/degradation"
	"github.com/weisyn/meshguard/internal/core/resilience/diagnostics"
	"github.com/weisyn/meshguard/internal/core/resilience/recovery"
)

// Framework layers
const (
	LayerInfrastructure = "infrastructure"
	LayerCommunication  = "communication"
	LayerBusiness       = "business"
	LayerApplication    = "application"
)

// Bootstrap 应用引导程序
//
// 模块按层加载；fx 按 Invoke 顺序执行 OnStart，按相反顺序执行 OnStop，
// 因此 P2P 先于韧性组件启动、晚于它们停止。
type Bootstrap struct {
	opts  *options
	fxApp *fx.App
}

// NewBootstrap 创建引导程序
func NewBootstrap(opts *options) *Bootstrap {
	return &Bootstrap{opts: opts}
}

// SetupInfrastructureLayer 配置、日志、时钟、事件
func (b *Bootstrap) SetupInfrastructureLayer() []fx.Option {
	return []fx.Option{
		appOptionsModule(b.opts),
		config.Module(),
		log.Module(),
		clock.Module(),
		event.Module(),
	}
}

// SetupCommunicationLayer libp2p 主机与适配器
func (b *Bootstrap) SetupCommunicationLayer() []fx.Option {
	return []fx.Option{
		p2p.Module(),
	}
}

// SetupBusinessLayer 韧性控制回路
//
// 诊断采集器产出快照 -> 降级控制器评估模式 -> 恢复管理器修复连接；
// 中心化探测器向控制器推送中心化路径健康。
func (b *Bootstrap) SetupBusinessLayer() []fx.Option {
	return []fx.Option{
		diagnostics.Module(),
		degradation.Module(),
		recovery.Module(),
		centralized.Module(),
	}
}

// SetupApplicationLayer 指标与 API
func (b *Bootstrap) SetupApplicationLayer() []fx.Option {
	modules := []fx.Option{
		metrics.Module(),
	}
	if b.opts.enableAPI {
		modules = append(modules, api.Module())
	}
	return modules
}

// SetupModules 设置所有应用模块
func (b *Bootstrap) SetupModules() []fx.Option {
	var all []fx.Option
	all = append(all, b.SetupInfrastructureLayer()...)
	all = append(all, b.SetupCommunicationLayer()...)
	all = append(all, b.SetupBusinessLayer()...)
	all = append(all, b.SetupApplicationLayer()...)
	all = append(all, b.opts.extra...)
	return all
}

// CreateFxApp 创建并配置fx应用
func (b *Bootstrap) CreateFxApp() error {
	b.fxApp = fx.New(
		fx.Options(b.SetupModules()...),
		fx.WithLogger(newFxLogger),
	)
	return b.fxApp.Err()
}

// newFxLogger fx 事件写入统一日志，降为 Debug 级别
func newFxLogger(z *zap.Logger) fxevent.Logger {
	if z == nil {
		return fxevent.NopLogger
	}
	l := &fxevent.ZapLogger{Logger: z.Named("fx")}
	l.UseLogLevel(zapcore.DebugLevel)
	return l
}

// StartApp 启动应用程序
func (b *Bootstrap) StartApp(ctx context.Context) error {
	if err := b.fxApp.Start(ctx); err != nil {
		return fmt.Errorf("启动应用失败: %w", err)
	}
	return nil
}

// StopApp 停止应用程序
func (b *Bootstrap) StopApp(ctx context.Context) error {
	if err := b.fxApp.Stop(ctx); err != nil {
		return fmt.Errorf("停止应用失败: %w", err)
	}
	return nil
}
