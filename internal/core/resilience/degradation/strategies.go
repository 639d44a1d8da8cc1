package degradation

import (
	"context"

	resilienceconfig "github.com/weisyn/meshguard/internal/config/resilience"
	"github.com/weisyn/meshguard/pkg/interfaces/infrastructure/clock"
	"github.com/weisyn/meshguard/pkg/types"
)

// Strategy 回退策略：Trigger 在评估快照上判断是否触发，Action 执行切换
type Strategy struct {
	Name        string
	Priority    int
	Description string
	Trigger     func(m types.DegradationMetrics) bool
	Action      func(ctx context.Context, c *Controller) error
}

// 内置策略名称
const (
	StrategyNoConnectivity  = "no_connectivity"
	StrategyConnectivityUp  = "connectivity_restored"
	StrategyLowPeerCount    = "low_peer_count"
	StrategyHighFailureRate = "high_failure_rate"
	StrategyHighLatency     = "high_latency"
	StrategyUpgradeToP2P    = "upgrade_to_p2p"
	StrategyUpgradeToHybrid = "upgrade_to_hybrid"
)

// 内置策略的切换原因
const (
	ReasonNoConnectivity  = "No network connectivity"
	ReasonConnectivityUp  = "Network connectivity restored"
	ReasonLowPeerCount    = "Low peer count"
	ReasonHighFailureRate = "High failure rate"
	ReasonHighLatency     = "High latency"
	ReasonP2PHealthy      = "P2P network healthy"
	ReasonP2PRecovering   = "P2P connectivity improving"
)

// switchTo 切换到固定模式的动作
func switchTo(mode types.OperationMode, reason string) func(context.Context, *Controller) error {
	return func(ctx context.Context, c *Controller) error {
		return c.SetOperationMode(ctx, mode, reason)
	}
}

// defaultStrategies 内置策略，按优先级降序
func defaultStrategies(cfg resilienceconfig.DegradationOptions, clk clock.Clock) []Strategy {
	strategies := []Strategy{
		{
			Name:        StrategyNoConnectivity,
			Priority:    15,
			Description: "两条路径都不可用时进入离线模式",
			Trigger: func(m types.DegradationMetrics) bool {
				return !m.P2PHealth.Connected && !m.CentralizedHealth.Connected
			},
			Action: switchTo(types.ModeOffline, ReasonNoConnectivity),
		},
		{
			Name:        StrategyConnectivityUp,
			Priority:    12,
			Description: "离线时任一路径恢复则进入混合模式",
			Trigger: func(m types.DegradationMetrics) bool {
				return m.CurrentMode == types.ModeOffline &&
					(m.P2PHealth.Connected || m.CentralizedHealth.Connected)
			},
			Action: switchTo(types.ModeHybrid, ReasonConnectivityUp),
		},
		{
			Name:        StrategyLowPeerCount,
			Priority:    10,
			Description: "纯点对点模式下 peer 数不足时进入混合模式",
			Trigger: func(m types.DegradationMetrics) bool {
				return m.CurrentMode == types.ModeP2POnly && m.P2PHealth.PeerCount < cfg.MinPeerCount
			},
			Action: switchTo(types.ModeHybrid, ReasonLowPeerCount),
		},
		{
			Name:        StrategyHighFailureRate,
			Priority:    9,
			Description: "点对点失败率过高时降一级",
			Trigger: func(m types.DegradationMetrics) bool {
				return m.P2PHealth.FailureRate > cfg.MaxFailureRate
			},
			Action: func(ctx context.Context, c *Controller) error {
				switch c.GetCurrentMode() {
				case types.ModeP2POnly:
					return c.SetOperationMode(ctx, types.ModeHybrid, ReasonHighFailureRate)
				case types.ModeHybrid:
					return c.SetOperationMode(ctx, types.ModeCentralizedOnly, ReasonHighFailureRate)
				default:
					return nil
				}
			},
		},
		{
			Name:        StrategyHighLatency,
			Priority:    8,
			Description: "纯点对点模式下时延过高时进入混合模式",
			Trigger: func(m types.DegradationMetrics) bool {
				return m.CurrentMode == types.ModeP2POnly && m.P2PHealth.LatencyMs > cfg.MaxLatencyMs
			},
			Action: switchTo(types.ModeHybrid, ReasonHighLatency),
		},
	}

	if cfg.EnableAutoUpgrade {
		strategies = append(strategies, upgradeStrategies(cfg, clk)...)
	}
	return strategies
}

// upgradeStrategies 指标恢复后逐级升级；距上次切换不足 UpgradeHoldDown 时不触发
func upgradeStrategies(cfg resilienceconfig.DegradationOptions, clk clock.Clock) []Strategy {
	stable := func(m types.DegradationMetrics) bool {
		return clk.Since(m.LastModeChange) >= cfg.UpgradeHoldDown
	}
	p2pUsable := func(h types.P2PHealth) bool {
		return h.Connected && h.PeerCount >= cfg.MinPeerCount && h.FailureRate <= cfg.MaxFailureRate
	}

	return []Strategy{
		{
			Name:        StrategyUpgradeToP2P,
			Priority:    5,
			Description: "混合模式下点对点路径健康且稳定时回到纯点对点",
			Trigger: func(m types.DegradationMetrics) bool {
				return m.CurrentMode == types.ModeHybrid &&
					p2pUsable(m.P2PHealth) &&
					m.P2PHealth.LatencyMs <= cfg.MaxLatencyMs &&
					stable(m)
			},
			Action: switchTo(types.ModeP2POnly, ReasonP2PHealthy),
		},
		{
			Name:        StrategyUpgradeToHybrid,
			Priority:    4,
			Description: "仅中心化模式下点对点路径恢复且稳定时进入混合模式",
			Trigger: func(m types.DegradationMetrics) bool {
				return m.CurrentMode == types.ModeCentralizedOnly && p2pUsable(m.P2PHealth) && stable(m)
			},
			Action: switchTo(types.ModeHybrid, ReasonP2PRecovering),
		},
	}
}
