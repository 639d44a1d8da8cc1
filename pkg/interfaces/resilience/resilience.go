// Package resilience 定义韧性控制回路的外部协作接口与对外服务接口
//
// 消费的协作方（由 internal/core/p2p 的 libp2p 适配器实现，测试中由 testutil 假实现替代）：
//   - Transport：连接、断开、有界 ping、连接状态通知
//   - Discovery：查找候选 peer、重新加入 overlay 主题
//   - OverlayStatus：发现服务是否运行、路由表大小
//
// 对外暴露的服务（由 internal/core/resilience 下三个组件实现，供 API / CLI 使用）：
//   - DiagnosticsService / DegradationService / RecoveryService
package resilience

import (
	"context"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/weisyn/meshguard/pkg/types"
)

// ConnectionStateHandler 连接状态变化回调
type ConnectionStateHandler func(change types.ConnectionStateChange)

// Transport 传输层最小能力
type Transport interface {
	// Connect 建立到 peer 的连接；info.Addrs 为空时由实现使用已知地址
	Connect(ctx context.Context, info peer.AddrInfo) error
	// Disconnect 关闭到 peer 的全部连接
	Disconnect(ctx context.Context, id peer.ID) error
	// Ping 测量往返时延，必须遵守 ctx 的截止时间
	Ping(ctx context.Context, id peer.ID) (time.Duration, error)
	// ConnectedPeers 当前已连接的 peer
	ConnectedPeers() []peer.ID
	// SubscribeConnectionState 订阅连接状态变化，返回取消函数
	SubscribeConnectionState(handler ConnectionStateHandler) (unsubscribe func())
}

// PeerInspector 可选能力：提供 peer 的地址、协议、带宽等附加信息
type PeerInspector interface {
	PeerStats(id peer.ID) (types.PeerTransportStats, bool)
}

// Discovery 发现服务
type Discovery interface {
	// FindPeers 在命名空间下查找最多 limit 个候选 peer
	FindPeers(ctx context.Context, namespace string, limit int) ([]peer.AddrInfo, error)
	// Join 重新加入 overlay 主题
	Join(ctx context.Context, topics []string) error
}

// OverlayStatus 发现服务状态探针
type OverlayStatus interface {
	IsRunning() bool
	RoutingTableSize() int
}

// ConnectivityProber 可选能力：基础外网连通性探测（STUN）
type ConnectivityProber interface {
	Probe(ctx context.Context) (types.ConnectivityProbeResult, error)
}

// DiagnosticsService 诊断采集器对外接口
type DiagnosticsService interface {
	GetNetworkDiagnostics() types.NetworkDiagnostics
	RunNetworkTroubleshooting(ctx context.Context) (types.TroubleshootingReport, error)
}

// DegradationService 降级控制器对外接口
type DegradationService interface {
	GetCurrentMode() types.OperationMode
	SetOperationMode(ctx context.Context, mode types.OperationMode, reason string) error
	GetMetrics() types.DegradationMetrics
	IsFeatureEnabled(feature types.Feature) bool
	GetFeatureStatus(feature types.Feature) (types.FeatureToggle, bool)
	EnableFeature(feature types.Feature, reason string) error
	DisableFeature(feature types.Feature, reason string) error
	ShouldFallbackToCentralized(feature types.Feature) bool
	CanUseP2P() bool
	CanUseCentralized() bool
	IsOfflineMode() bool
}

// RecoveryService 恢复管理器对外接口
type RecoveryService interface {
	GetNetworkHealth() types.NetworkHealth
	GetPeerHealth(id peer.ID) (types.PeerHealth, bool)
	ForcePeerRecovery(ctx context.Context, id peer.ID) bool
	ForceNetworkRecovery(ctx context.Context) error
}
