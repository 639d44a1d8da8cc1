package event

import (
	"context"

	"go.uber.org/fx"

	eventconfig "github.com/weisyn/meshguard/internal/config/event"
	"github.com/weisyn/meshguard/pkg/constants/events"
	"github.com/weisyn/meshguard/pkg/interfaces/config"
	eventInterface "github.com/weisyn/meshguard/pkg/interfaces/infrastructure/event"
	"github.com/weisyn/meshguard/pkg/interfaces/infrastructure/log"
)

// ServiceInput 事件服务工厂函数的输入参数
type ServiceInput struct {
	Provider  config.Provider // 配置提供者
	Logger    log.Logger      // 日志记录器（可选）
	Lifecycle fx.Lifecycle    // 生命周期管理（可选）
}

// ServiceOutput 事件服务工厂函数的输出结果
type ServiceOutput struct {
	EventBus eventInterface.EventBus
}

// CreateEventServices 创建事件服务
func CreateEventServices(input ServiceInput) (ServiceOutput, error) {
	var options *eventconfig.EventOptions
	if input.Provider != nil {
		options = input.Provider.GetEvent()
	}
	cfg := eventconfig.NewFromOptions(options)

	eventBus := New(cfg)

	// 韧性控制回路的全部事件默认保留最近 N 条，供 API 查询
	if size := cfg.GetHistorySize(); size > 0 {
		for _, et := range events.AllEventTypes() {
			if err := eventBus.EnableEventHistory(et, size); err != nil {
				return ServiceOutput{}, err
			}
		}
	}

	if input.Lifecycle != nil {
		input.Lifecycle.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				// 等待异步处理完成
				eventBus.WaitAsync()
				return nil
			},
		})
	}

	if input.Logger != nil {
		input.Logger.Infof("事件总线已初始化: enabled=%v history=%d", cfg.IsEnabled(), cfg.GetHistorySize())
	}

	return ServiceOutput{
		EventBus: eventBus,
	}, nil
}
