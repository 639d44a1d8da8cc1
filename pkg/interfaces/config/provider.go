// Package config provides configuration provider interfaces.
package config

import (
	apiconfig "github.com/weisyn/meshguard/internal/config/api"
	eventconfig "github.com/weisyn/meshguard/internal/config/event"
	logconfig "github.com/weisyn/meshguard/internal/config/log"
	p2pconfig "github.com/weisyn/meshguard/internal/config/p2p"
	resilienceconfig "github.com/weisyn/meshguard/internal/config/resilience"
	"github.com/weisyn/meshguard/pkg/types"
)

// Provider 配置提供者接口
//
// 返回的选项均已应用默认值并通过校验
type Provider interface {
	// GetAppConfig 原始用户配置
	GetAppConfig() *types.AppConfig

	// === 基础设施 ===
	GetLog() *logconfig.LogOptions
	GetEvent() *eventconfig.EventOptions
	GetAPI() *apiconfig.APIOptions

	// === 网络与韧性 ===
	GetP2P() *p2pconfig.Options
	GetResilience() *resilienceconfig.Options
}
