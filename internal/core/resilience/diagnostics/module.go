package diagnostics

import (
	"context"
	"fmt"

	"go.uber.org/fx"

	resilienceconfig "github.com/weisyn/meshguard/internal/config/resilience"
	logimpl "github.com/weisyn/meshguard/internal/core/infrastructure/log"
	"github.com/weisyn/meshguard/pkg/interfaces/infrastructure/clock"
	"github.com/weisyn/meshguard/pkg/interfaces/infrastructure/event"
	"github.com/weisyn/meshguard/pkg/interfaces/infrastructure/log"
	"github.com/weisyn/meshguard/pkg/interfaces/resilience"
)

// ModuleInput 定义诊断采集器模块的输入依赖
type ModuleInput struct {
	fx.In

	Config    *resilienceconfig.Options
	Transport resilience.Transport
	Inspector resilience.PeerInspector      `optional:"true"`
	Discovery resilience.Discovery          `optional:"true"`
	Overlay   resilience.OverlayStatus      `optional:"true"`
	Prober    resilience.ConnectivityProber `optional:"true"`
	Clock     clock.Clock                   `optional:"true"`
	Logger    log.Logger                    `optional:"true"`
	EventBus  event.EventBus                `optional:"true"`
}

// ModuleOutput 定义诊断采集器模块的输出
type ModuleOutput struct {
	fx.Out

	Collector          *Collector
	DiagnosticsService resilience.DiagnosticsService
}

// Module 诊断采集器 fx 模块
func Module() fx.Option {
	return fx.Module("diagnostics",
		fx.Provide(
			func(in ModuleInput) (ModuleOutput, error) {
				c, err := NewCollector(
					in.Config.Diagnostics,
					Deps{
						Transport: in.Transport,
						Inspector: in.Inspector,
						Discovery: in.Discovery,
						Overlay:   in.Overlay,
						Prober:    in.Prober,
					},
					in.Clock,
					in.EventBus,
					logimpl.NewModuleLogger(in.Logger, "diagnostics"),
				)
				if err != nil {
					return ModuleOutput{}, fmt.Errorf("创建诊断采集器失败: %w", err)
				}
				return ModuleOutput{Collector: c, DiagnosticsService: c}, nil
			},
		),
		fx.Invoke(RegisterLifecycle),
	)
}

// LifecycleInput 生命周期管理输入
type LifecycleInput struct {
	fx.In

	Lifecycle fx.Lifecycle
	Collector *Collector
}

// RegisterLifecycle 注册诊断采集器生命周期
func RegisterLifecycle(in LifecycleInput) {
	in.Lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return in.Collector.Initialize(ctx)
		},
		OnStop: func(ctx context.Context) error {
			in.Collector.Destroy()
			return nil
		},
	})
}
