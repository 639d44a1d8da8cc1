package centralized

import (
	"context"
	"net/http"

	"go.uber.org/fx"

	resilienceconfig "github.com/weisyn/meshguard/internal/config/resilience"
	logimpl "github.com/weisyn/meshguard/internal/core/infrastructure/log"
	"github.com/weisyn/meshguard/internal/core/resilience/degradation"
	"github.com/weisyn/meshguard/pkg/interfaces/infrastructure/clock"
	"github.com/weisyn/meshguard/pkg/interfaces/infrastructure/log"
)

// ModuleInput 定义中心化探测模块的输入依赖
type ModuleInput struct {
	fx.In

	Config     *resilienceconfig.Options
	Controller *degradation.Controller
	Client     *http.Client `optional:"true"`
	Clock      clock.Clock  `optional:"true"`
	Logger     log.Logger   `optional:"true"`
}

// Module 中心化探测 fx 模块
func Module() fx.Option {
	return fx.Module("centralized",
		fx.Provide(func(in ModuleInput) *Prober {
			return NewProber(
				in.Config.Centralized,
				in.Client,
				in.Controller,
				in.Clock,
				logimpl.NewModuleLogger(in.Logger, "centralized"),
			)
		}),
		fx.Invoke(func(lc fx.Lifecycle, p *Prober) {
			lc.Append(fx.Hook{
				OnStart: func(ctx context.Context) error { return p.Start(ctx) },
				OnStop: func(ctx context.Context) error {
					p.Stop()
					return nil
				},
			})
		}),
	)
}
