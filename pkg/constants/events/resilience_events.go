// Package events 提供韧性控制回路的事件类型常量定义
//
// 命名规范：domain.category.action
//
// 使用方式：
//
//	eventBus.Subscribe(events.EventTypeModeChanged, func(e types.ModeChangedEvent) { ... })
//	eventBus.Publish(events.EventTypePeerRecovered, types.PeerRecoveredEvent{...})
//
// 每个事件只携带一个负载参数，负载类型见 pkg/types/event.go。
package events

import (
	"github.com/weisyn/meshguard/pkg/types"
)

// EventType 全局事件类型别名
type EventType = types.EventType

// ============================================================================
//                           恢复管理器（peer 级）
// ============================================================================

const (
	// EventTypePeerHealthy 负载 types.PeerHealthEvent
	EventTypePeerHealthy EventType = "peer.healthy"
	// EventTypePeerUnhealthy 负载 types.PeerHealthEvent
	EventTypePeerUnhealthy EventType = "peer.unhealthy"
	// EventTypePeerHealthCheckFailed 负载 types.PeerHealthCheckFailedEvent
	EventTypePeerHealthCheckFailed EventType = "peer.health_check.failed"
	// EventTypePeerRecovered 负载 types.PeerRecoveredEvent
	EventTypePeerRecovered EventType = "peer.recovered"
	// EventTypePeerRecoveryAttemptFailed 负载 types.PeerRecoveryAttemptFailedEvent
	EventTypePeerRecoveryAttemptFailed EventType = "peer.recovery.attempt_failed"
	// EventTypePeerRecoveryFailed 负载 types.PeerRecoveryFailedEvent
	EventTypePeerRecoveryFailed EventType = "peer.recovery.failed"
	// EventTypePeerReplaced 负载 types.PeerReplacedEvent
	EventTypePeerReplaced EventType = "peer.replaced"
)

// ============================================================================
//                           恢复管理器（网络级）
// ============================================================================

const (
	// EventTypeNetworkPartitionDetected 负载 types.NetworkPartitionEvent
	EventTypeNetworkPartitionDetected EventType = "network.partition.detected"
	// EventTypeNetworkPartitionRecovered 负载 types.NetworkPartitionEvent
	EventTypeNetworkPartitionRecovered EventType = "network.partition.recovered"
	// EventTypeNetworkPartitionRecoveryTimeout 负载 types.NetworkPartitionEvent
	EventTypeNetworkPartitionRecoveryTimeout EventType = "network.partition.recovery_timeout"
	// EventTypeNetworkHealthUpdate 负载 types.NetworkHealthUpdateEvent，每轮健康检查都会发布
	EventTypeNetworkHealthUpdate EventType = "network.health.update"
)

// ============================================================================
//                           诊断采集器 / 降级控制器
// ============================================================================

const (
	// EventTypeMetricsUpdated 负载 types.MetricsUpdatedEvent
	EventTypeMetricsUpdated EventType = "network.metrics.updated"
	// EventTypeModeChanged 负载 types.ModeChangedEvent
	EventTypeModeChanged EventType = "degradation.mode.changed"
	// EventTypeFeatureToggled 负载 types.FeatureToggledEvent
	EventTypeFeatureToggled EventType = "degradation.feature.toggled"
	// EventTypeLocalCapabilities 负载 types.LocalCapabilitiesEvent
	EventTypeLocalCapabilities EventType = "degradation.local_capabilities.enabled"
)

// AllEventTypes 返回全部事件类型（用于历史记录等批量操作）
func AllEventTypes() []EventType {
	return []EventType{
		EventTypePeerHealthy,
		EventTypePeerUnhealthy,
		EventTypePeerHealthCheckFailed,
		EventTypePeerRecovered,
		EventTypePeerRecoveryAttemptFailed,
		EventTypePeerRecoveryFailed,
		EventTypePeerReplaced,
		EventTypeNetworkPartitionDetected,
		EventTypeNetworkPartitionRecovered,
		EventTypeNetworkPartitionRecoveryTimeout,
		EventTypeNetworkHealthUpdate,
		EventTypeMetricsUpdated,
		EventTypeModeChanged,
		EventTypeFeatureToggled,
		EventTypeLocalCapabilities,
	}
}
