package types

import (
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
)

// EventType 事件类型
type EventType string

// ============================================================================
//                              恢复管理器事件负载
// ============================================================================

// PeerHealthEvent peer 健康状态切换（healthy / unhealthy）
type PeerHealthEvent struct {
	PeerID peer.ID    `json:"peer_id"`
	Health PeerHealth `json:"health"`
}

// PeerHealthCheckFailedEvent 单次健康检查失败
type PeerHealthCheckFailedEvent struct {
	PeerID              peer.ID `json:"peer_id"`
	ConsecutiveFailures int     `json:"consecutive_failures"`
	Error               string  `json:"error"`
}

// PeerRecoveredEvent peer 重连成功
type PeerRecoveredEvent struct {
	PeerID   peer.ID `json:"peer_id"`
	Attempts int     `json:"attempts"`
}

// PeerRecoveryAttemptFailedEvent 单次重连失败
type PeerRecoveryAttemptFailedEvent struct {
	PeerID    peer.ID       `json:"peer_id"`
	Attempt   int           `json:"attempt"`
	NextDelay time.Duration `json:"next_delay"`
	Error     string        `json:"error"`
}

// PeerRecoveryFailedEvent 重连次数耗尽
type PeerRecoveryFailedEvent struct {
	PeerID   peer.ID `json:"peer_id"`
	Attempts int     `json:"attempts"`
}

// PeerReplacedEvent 不健康 peer 被替换
type PeerReplacedEvent struct {
	Removed []peer.ID `json:"removed"`
	Added   []peer.ID `json:"added"`
}

// NetworkPartitionEvent 分区检测 / 恢复 / 超时
type NetworkPartitionEvent struct {
	Partition NetworkPartition `json:"partition"`
}

// NetworkHealthUpdateEvent 每轮健康检查后的网络健康
type NetworkHealthUpdateEvent struct {
	Health NetworkHealth `json:"health"`
}

// ============================================================================
//                              降级控制器事件负载
// ============================================================================

// ModeChangedEvent 运行模式切换
type ModeChangedEvent struct {
	From   OperationMode `json:"from"`
	To     OperationMode `json:"to"`
	Reason string        `json:"reason"`
	At     time.Time     `json:"at"`
}

// FeatureToggledEvent 功能开关变化
type FeatureToggledEvent struct {
	Feature Feature   `json:"feature"`
	Enabled bool      `json:"enabled"`
	Reason  string    `json:"reason"`
	At      time.Time `json:"at"`
}

// LocalCapabilitiesEvent 离线模式下启用的本地能力
type LocalCapabilitiesEvent struct {
	Capabilities []string  `json:"capabilities"`
	At           time.Time `json:"at"`
}

// ============================================================================
//                              诊断采集器事件负载
// ============================================================================

// MetricsUpdatedEvent 采集周期结束后的诊断快照
type MetricsUpdatedEvent struct {
	Diagnostics NetworkDiagnostics `json:"diagnostics"`
}
