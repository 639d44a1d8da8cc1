// Package config 提供应用配置管理功能
package config

import (
	"go.uber.org/fx"

	apiconfig "github.com/weisyn/meshguard/internal/config/api"
	p2pconfig "github.com/weisyn/meshguard/internal/config/p2p"
	resilienceconfig "github.com/weisyn/meshguard/internal/config/resilience"
	"github.com/weisyn/meshguard/pkg/interfaces/config"
	"github.com/weisyn/meshguard/pkg/types"
)

// ConfigParams 定义配置模块的依赖参数
type ConfigParams struct {
	fx.In

	// 应用配置选项
	AppOptions config.AppOptions `optional:"true"`
}

// ConfigOutput 定义配置模块的输出结构
type ConfigOutput struct {
	fx.Out

	// 配置提供者
	Provider config.Provider
}

// Module 返回配置模块
func Module() fx.Option {
	return fx.Module("config",
		fx.Provide(
			ProvideConfigServices,
			// 提供具体的配置类型用于依赖注入
			func(provider config.Provider) *p2pconfig.Options {
				return provider.GetP2P()
			},
			func(provider config.Provider) *resilienceconfig.Options {
				return provider.GetResilience()
			},
			func(provider config.Provider) *apiconfig.APIOptions {
				return provider.GetAPI()
			},
		),
	)
}

// ProvideConfigServices 提供配置服务
func ProvideConfigServices(params ConfigParams) (ConfigOutput, error) {
	// 从应用配置选项获取用户配置
	var appConfig *types.AppConfig
	if params.AppOptions != nil {
		appConfig = params.AppOptions.GetAppConfig()
	}

	// 创建配置提供者
	provider, err := NewProvider(appConfig)
	if err != nil {
		return ConfigOutput{}, err
	}

	return ConfigOutput{
		Provider: provider,
	}, nil
}
