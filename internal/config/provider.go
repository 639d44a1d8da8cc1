package config

import (
	"fmt"

	"github.com/weisyn/meshguard/internal/config/api"
	"github.com/weisyn/meshguard/internal/config/event"
	"github.com/weisyn/meshguard/internal/config/log"
	"github.com/weisyn/meshguard/internal/config/p2p"
	"github.com/weisyn/meshguard/internal/config/resilience"
	"github.com/weisyn/meshguard/pkg/interfaces/config"
	"github.com/weisyn/meshguard/pkg/types"
)

// Provider 实现配置提供者接口
//
// P2P 与韧性配置在构造时一次性解析并校验，避免运行期才暴露配置错误
type Provider struct {
	appConfig  *types.AppConfig
	p2p        *p2p.Options
	resilience *resilience.Options
}

// 编译时校验
var _ config.Provider = (*Provider)(nil)

// NewProvider 创建配置提供者
func NewProvider(appConfig *types.AppConfig) (*Provider, error) {
	if appConfig == nil {
		appConfig = &types.AppConfig{}
	}

	p2pOpts, err := p2p.NewFromAppConfig(appConfig)
	if err != nil {
		return nil, fmt.Errorf("p2p 配置无效: %w", err)
	}

	resOpts, err := resilience.NewFromAppConfig(appConfig)
	if err != nil {
		return nil, fmt.Errorf("韧性配置无效: %w", err)
	}

	// 恢复管理器与诊断采集器复用 P2P 的发现参数
	resOpts.Recovery.BootstrapPeers = p2pOpts.BootstrapAddrInfos()
	resOpts.Recovery.DiscoveryNamespace = p2pOpts.DiscoveryNamespace
	resOpts.Recovery.Topics = append([]string(nil), p2pOpts.Topics...)
	resOpts.Diagnostics.DiscoveryNamespace = p2pOpts.DiscoveryNamespace

	return &Provider{
		appConfig:  appConfig,
		p2p:        p2pOpts,
		resilience: resOpts,
	}, nil
}

// GetAppConfig 原始用户配置
func (p *Provider) GetAppConfig() *types.AppConfig {
	return p.appConfig
}

// GetLog 获取日志配置
func (p *Provider) GetLog() *log.LogOptions {
	// log.New会处理默认值应用和用户配置覆盖
	return log.New(p.appConfig.Log).GetOptions()
}

// GetEvent 获取事件配置
func (p *Provider) GetEvent() *event.EventOptions {
	return event.New(p.appConfig.Event).GetOptions()
}

// GetAPI 获取API服务配置
func (p *Provider) GetAPI() *api.APIOptions {
	return api.New(p.appConfig.API).GetOptions()
}

// GetP2P 获取 libp2p 节点配置
func (p *Provider) GetP2P() *p2p.Options {
	return p.p2p
}

// GetResilience 获取韧性控制回路配置
func (p *Provider) GetResilience() *resilience.Options {
	return p.resilience
}
