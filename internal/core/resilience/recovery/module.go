package recovery

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

// ModuleInput 定义恢复管理器模块的输入依赖
type ModuleInput struct {
	fx.In

	Config    *resilienceconfig.Options
	Transport resilience.Transport
	Discovery resilience.Discovery `optional:"true"` // 缺失时分区恢复只重连引导节点，替换不补齐
	Clock     clock.Clock          `optional:"true"`
	Logger    log.Logger           `optional:"true"`
	EventBus  event.EventBus       `optional:"true"`
}

// ModuleOutput 定义恢复管理器模块的输出
type ModuleOutput struct {
	fx.Out

	Manager         *Manager
	RecoveryService resilience.RecoveryService
}

// Module 恢复管理器 fx 模块
func Module() fx.Option {
	return fx.Module("recovery",
		fx.Provide(
			func(in ModuleInput) (ModuleOutput, error) {
				m, err := NewManager(
					in.Config.Recovery,
					in.Transport,
					in.Discovery,
					in.Clock,
					in.EventBus,
					logimpl.NewModuleLogger(in.Logger, "recovery"),
				)
				if err != nil {
					return ModuleOutput{}, fmt.Errorf("创建恢复管理器失败: %w", err)
				}
				return ModuleOutput{Manager: m, RecoveryService: m}, nil
			},
		),
		fx.Invoke(RegisterLifecycle),
	)
}

// LifecycleInput 生命周期管理输入
type LifecycleInput struct {
	fx.In

	Lifecycle fx.Lifecycle
	Manager   *Manager
}

// RegisterLifecycle 注册恢复管理器生命周期
func RegisterLifecycle(in LifecycleInput) {
	in.Lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return in.Manager.Start()
		},
		OnStop: func(ctx context.Context) error {
			in.Manager.Destroy()
			return nil
		},
	})
}
