package types

import (
	"fmt"
	"strings"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
)

// ============================================================================
//                              运行模式
// ============================================================================

// OperationMode 网络运行模式
type OperationMode string

const (
	ModeP2POnly         OperationMode = "P2P_ONLY"         // 纯点对点
	ModeHybrid          OperationMode = "HYBRID"           // 点对点 + 中心化兜底
	ModeCentralizedOnly OperationMode = "CENTRALIZED_ONLY" // 仅中心化路径
	ModeOffline         OperationMode = "OFFLINE"          // 离线，仅本地能力
)

// AllOperationModes 返回全部运行模式
func AllOperationModes() []OperationMode {
	return []OperationMode{ModeP2POnly, ModeHybrid, ModeCentralizedOnly, ModeOffline}
}

// IsValid 是否为已知模式
func (m OperationMode) IsValid() bool {
	switch m {
	case ModeP2POnly, ModeHybrid, ModeCentralizedOnly, ModeOffline:
		return true
	default:
		return false
	}
}

func (m OperationMode) String() string {
	return string(m)
}

// ParseOperationMode 解析模式字符串（大小写不敏感，允许 "-" 代替 "_"）
func ParseOperationMode(s string) (OperationMode, error) {
	m := OperationMode(strings.ReplaceAll(strings.ToUpper(strings.TrimSpace(s)), "-", "_"))
	if !m.IsValid() {
		return "", fmt.Errorf("unknown operation mode %q", s)
	}
	return m, nil
}

// ============================================================================
//                              功能开关
// ============================================================================

// Feature 可降级的功能标识
type Feature string

const (
	FeatureDiscovery          Feature = "discovery"
	FeatureDirectConnections  Feature = "direct_connections"
	FeatureEncryptedMessaging Feature = "encrypted_messaging"
	FeatureProfileSync        Feature = "profile_sync"
	FeatureMediaSharing       Feature = "media_sharing"
	FeaturePrivateMatching    Feature = "private_matching"
	FeatureGroupCommunication Feature = "group_communication"
)

// AllFeatures 返回全部功能（固定顺序）
func AllFeatures() []Feature {
	return []Feature{
		FeatureDiscovery,
		FeatureDirectConnections,
		FeatureEncryptedMessaging,
		FeatureProfileSync,
		FeatureMediaSharing,
		FeaturePrivateMatching,
		FeatureGroupCommunication,
	}
}

// IsValid 是否为已知功能
func (f Feature) IsValid() bool {
	for _, known := range AllFeatures() {
		if f == known {
			return true
		}
	}
	return false
}

// FeatureToggle 单个功能的开关状态
type FeatureToggle struct {
	Feature         Feature   `json:"feature"`
	Enabled         bool      `json:"enabled"`
	FallbackEnabled bool      `json:"fallback_enabled"`
	LastToggled     time.Time `json:"last_toggled"`
	Reason          string    `json:"reason"`
}

// ============================================================================
//                              降级指标
// ============================================================================

// P2PHealth 点对点路径健康状况
type P2PHealth struct {
	Connected   bool    `json:"connected"`
	PeerCount   int     `json:"peer_count"`
	LatencyMs   float64 `json:"latency_ms"`
	FailureRate float64 `json:"failure_rate"`
}

// CentralizedHealth 中心化路径健康状况
type CentralizedHealth struct {
	Connected   bool    `json:"connected"`
	LatencyMs   float64 `json:"latency_ms"`
	FailureRate float64 `json:"failure_rate"`
}

// DegradationMetrics 降级控制器持有的全部状态快照
type DegradationMetrics struct {
	CurrentMode       OperationMode             `json:"current_mode"`
	P2PHealth         P2PHealth                 `json:"p2p_health"`
	CentralizedHealth CentralizedHealth         `json:"centralized_health"`
	FeatureStatus     map[Feature]FeatureToggle `json:"feature_status"`
	LastModeChange    time.Time                 `json:"last_mode_change"`
	ModeChangeReason  string                    `json:"mode_change_reason"`
}

// Clone 深拷贝
func (m DegradationMetrics) Clone() DegradationMetrics {
	out := m
	out.FeatureStatus = make(map[Feature]FeatureToggle, len(m.FeatureStatus))
	for k, v := range m.FeatureStatus {
		out.FeatureStatus[k] = v
	}
	return out
}

// ============================================================================
//                              连接质量与节点健康
// ============================================================================

// ConnectionQuality 连接质量等级
type ConnectionQuality string

const (
	QualityExcellent ConnectionQuality = "excellent"
	QualityGood      ConnectionQuality = "good"
	QualityFair      ConnectionQuality = "fair"
	QualityPoor      ConnectionQuality = "poor"
	QualityCritical  ConnectionQuality = "critical" // 不可用或无法测量
)

// PeerHealth 单个 peer 的健康记录
type PeerHealth struct {
	PeerID              peer.ID           `json:"peer_id"`
	LastSeen            time.Time         `json:"last_seen"`
	LatencyMs           float64           `json:"latency_ms"`
	PacketLoss          float64           `json:"packet_loss"`
	Quality             ConnectionQuality `json:"quality"`
	ConsecutiveFailures int               `json:"consecutive_failures"`
	IsHealthy           bool              `json:"is_healthy"`
}

// NetworkPartition 网络分区记录
type NetworkPartition struct {
	ID            string     `json:"id"`
	Detected      bool       `json:"detected"`
	PartitionSize int        `json:"partition_size"`
	IsolatedPeers []peer.ID  `json:"isolated_peers"`
	DetectedAt    time.Time  `json:"detected_at"`
	RecoveredAt   *time.Time `json:"recovered_at,omitempty"`
}

// Clone 深拷贝
func (p NetworkPartition) Clone() NetworkPartition {
	out := p
	out.IsolatedPeers = append([]peer.ID(nil), p.IsolatedPeers...)
	if p.RecoveredAt != nil {
		t := *p.RecoveredAt
		out.RecoveredAt = &t
	}
	return out
}

// NetworkHealth 恢复管理器视角的网络整体健康
type NetworkHealth struct {
	TotalPeers        int               `json:"total_peers"`
	HealthyPeers      int               `json:"healthy_peers"`
	UnhealthyPeers    int               `json:"unhealthy_peers"`
	HealthyRatio      float64           `json:"healthy_ratio"`
	PendingRecoveries int               `json:"pending_recoveries"`
	Partition         *NetworkPartition `json:"partition,omitempty"`
	Peers             []PeerHealth      `json:"peers"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

// ============================================================================
//                              传输层连接状态
// ============================================================================

// ConnectionState 传输层连接状态
type ConnectionState string

const (
	ConnectionConnected    ConnectionState = "connected"
	ConnectionConnecting   ConnectionState = "connecting"
	ConnectionDisconnected ConnectionState = "disconnected"
	ConnectionFailed       ConnectionState = "failed"
)

// ConnectionStateChange 传输层状态变化通知
type ConnectionStateChange struct {
	PeerID peer.ID         `json:"peer_id"`
	State  ConnectionState `json:"state"`
	At     time.Time       `json:"at"`
	Err    string          `json:"error,omitempty"`
}

// PeerTransportStats 传输层可提供的附加 peer 信息
type PeerTransportStats struct {
	Addresses   []string       `json:"addresses"`
	Protocols   []string       `json:"protocols"`
	ConnectedAt time.Time      `json:"connected_at"`
	Bandwidth   BandwidthStats `json:"bandwidth"`
}
