package degradation

import (
	"context"

	"go.uber.org/fx"

	resilienceconfig "github.com/weisyn/meshguard/internal/config/resilience"
	logimpl "github.com/weisyn/meshguard/internal/core/infrastructure/log"
	"github.com/weisyn/meshguard/pkg/constants/events"
	"github.com/weisyn/meshguard/pkg/interfaces/infrastructure/clock"
	"github.com/weisyn/meshguard/pkg/interfaces/infrastructure/event"
	"github.com/weisyn/meshguard/pkg/interfaces/infrastructure/log"
	"github.com/weisyn/meshguard/pkg/interfaces/resilience"
	"github.com/weisyn/meshguard/pkg/types"
)

// ModuleInput 定义降级控制器模块的输入依赖
type ModuleInput struct {
	fx.In

	Config   *resilienceconfig.Options
	Clock    clock.Clock    `optional:"true"`
	Logger   log.Logger     `optional:"true"`
	EventBus event.EventBus `optional:"true"`
}

// ModuleOutput 定义降级控制器模块的输出
type ModuleOutput struct {
	fx.Out

	Controller         *Controller
	DegradationService resilience.DegradationService
}

// Module 降级控制器 fx 模块
func Module() fx.Option {
	return fx.Module("degradation",
		fx.Provide(
			func(in ModuleInput) ModuleOutput {
				c := NewController(
					in.Config.Degradation,
					in.Clock,
					in.EventBus,
					logimpl.NewModuleLogger(in.Logger, "degradation"),
				)
				return ModuleOutput{Controller: c, DegradationService: c}
			},
		),
		fx.Invoke(RegisterLifecycle),
	)
}

// LifecycleInput 生命周期管理输入
type LifecycleInput struct {
	fx.In

	Lifecycle  fx.Lifecycle
	Controller *Controller
	EventBus   event.EventBus `optional:"true"`
}

// RegisterLifecycle 注册降级控制器生命周期，并把诊断快照接入点对点指标
func RegisterLifecycle(in LifecycleInput) {
	var unsubscribe func()

	in.Lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if in.EventBus != nil {
				unsubscribe = BridgeDiagnostics(in.EventBus, in.Controller)
			}
			return in.Controller.Start()
		},
		OnStop: func(ctx context.Context) error {
			in.Controller.Stop()
			if unsubscribe != nil {
				unsubscribe()
			}
			return nil
		},
	})
}

// BridgeDiagnostics 订阅诊断采集器的 network.metrics.updated，把网络状态推给控制器
func BridgeDiagnostics(bus event.EventBus, c *Controller) (unsubscribe func()) {
	handler := func(ev types.MetricsUpdatedEvent) {
		c.UpdateP2PMetrics(ev.Diagnostics.Network)
	}
	if err := bus.SubscribeAsync(events.EventTypeMetricsUpdated, handler, false); err != nil {
		if c.logger != nil {
			c.logger.Warnf("订阅诊断快照失败: %v", err)
		}
		return func() {}
	}
	return func() {
		_ = bus.Unsubscribe(events.EventTypeMetricsUpdated, handler)
	}
}
