// Package event 进程内事件总线（asaskevich/EventBus）与韧性事件历史
package event

import (
	"go.uber.org/fx"

	logimpl "github.com/weisyn/meshguard/internal/core/infrastructure/log"
	"github.com/weisyn/meshguard/pkg/interfaces/config"
	eventInterface "github.com/weisyn/meshguard/pkg/interfaces/infrastructure/event"
	"github.com/weisyn/meshguard/pkg/interfaces/infrastructure/log"
)

// ModuleInput 事件模块依赖
type ModuleInput struct {
	fx.In

	Provider  config.Provider
	Logger    log.Logger `optional:"true"`
	Lifecycle fx.Lifecycle
}

// ProvideEventBus 构建事件总线；停止时等待异步订阅者处理完毕
func ProvideEventBus(in ModuleInput) (eventInterface.EventBus, error) {
	out, err := CreateEventServices(ServiceInput{
		Provider:  in.Provider,
		Logger:    logimpl.NewModuleLogger(in.Logger, "event"),
		Lifecycle: in.Lifecycle,
	})
	if err != nil {
		return nil, err
	}
	return out.EventBus, nil
}

// Module 返回事件模块
func Module() fx.Option {
	return fx.Module("event",
		fx.Provide(ProvideEventBus),
	)
}
