package metrics

import (
	"context"

	"go.uber.org/fx"

	logimpl "github.com/weisyn/meshguard/internal/core/infrastructure/log"
	"github.com/weisyn/meshguard/pkg/interfaces/infrastructure/event"
	"github.com/weisyn/meshguard/pkg/interfaces/infrastructure/log"
	"github.com/weisyn/meshguard/pkg/interfaces/resilience"
)

// ModuleInput 定义指标模块的输入依赖
type ModuleInput struct {
	fx.In

	Diagnostics resilience.DiagnosticsService `optional:"true"`
	Degradation resilience.DegradationService `optional:"true"`
	Recovery    resilience.RecoveryService    `optional:"true"`
	Logger      log.Logger                    `optional:"true"`
}

// Module 返回 metrics 模块的 fx.Option
func Module() fx.Option {
	return fx.Module("metrics",
		fx.Provide(func(in ModuleInput) *Metrics {
			return New(Sources{
				Diagnostics: in.Diagnostics,
				Degradation: in.Degradation,
				Recovery:    in.Recovery,
			}, logimpl.NewModuleLogger(in.Logger, "metrics"))
		}),
		fx.Invoke(RegisterLifecycle),
	)
}

// LifecycleInput 生命周期管理输入
type LifecycleInput struct {
	fx.In

	Lifecycle fx.Lifecycle
	Metrics   *Metrics
	EventBus  event.EventBus `optional:"true"`
}

// RegisterLifecycle 启动时订阅事件，停止时取消订阅
func RegisterLifecycle(in LifecycleInput) {
	in.Lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			in.Metrics.SubscribeEvents(in.EventBus)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			in.Metrics.UnsubscribeEvents()
			return nil
		},
	})
}
