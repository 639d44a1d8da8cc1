package clock

import (
	"go.uber.org/fx"

	infraClock "github.com/weisyn/meshguard/pkg/interfaces/infrastructure/clock"
)

// ModuleOutput 时钟模块输出
type ModuleOutput struct {
	fx.Out

	Clock infraClock.Clock
}

// Module 返回时钟模块；测试中可用 fx.Replace 注入 Mock 时钟
func Module() fx.Option {
	return fx.Module("clock",
		fx.Provide(func() ModuleOutput {
			return ModuleOutput{Clock: NewSystemClock()}
		}),
	)
}
