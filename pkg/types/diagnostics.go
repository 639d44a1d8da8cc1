package types

import (
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
)

// IssueType 网络问题类型
type IssueType string

const (
	IssueConnection    IssueType = "connection"
	IssueDHT           IssueType = "dht"
	IssueBandwidth     IssueType = "bandwidth"
	IssueLatency       IssueType = "latency"
	IssuePeerDiscovery IssueType = "peer_discovery"
)

// IssueSeverity 问题严重级别
type IssueSeverity string

const (
	SeverityLow      IssueSeverity = "low"
	SeverityMedium   IssueSeverity = "medium"
	SeverityHigh     IssueSeverity = "high"
	SeverityCritical IssueSeverity = "critical"
)

// NetworkIssue 诊断出的网络问题
type NetworkIssue struct {
	Type          IssueType     `json:"type"`
	Severity      IssueSeverity `json:"severity"`
	Description   string        `json:"description"`
	AffectedPeers []peer.ID     `json:"affected_peers,omitempty"`
	Timestamp     time.Time     `json:"timestamp"`
	Resolved      bool          `json:"resolved"`
}

// BandwidthStats 带宽统计（速率单位 bytes/s）
type BandwidthStats struct {
	InRate   float64 `json:"in_rate"`
	OutRate  float64 `json:"out_rate"`
	TotalIn  int64   `json:"total_in"`
	TotalOut int64   `json:"total_out"`
}

// PeerConnectionMetrics 单个 peer 的诊断投影
type PeerConnectionMetrics struct {
	PeerID             peer.ID           `json:"peer_id"`
	ConnectionState    ConnectionState   `json:"connection_state"`
	LatencyMs          float64           `json:"latency_ms"`
	Bandwidth          BandwidthStats    `json:"bandwidth"`
	PacketsSent        int64             `json:"packets_sent"`
	PacketsReceived    int64             `json:"packets_received"`
	PacketsLost        int64             `json:"packets_lost"`
	Quality            ConnectionQuality `json:"quality"`
	Protocols          []string          `json:"protocols"`
	Addresses          []string          `json:"addresses"`
	ConnectedAt        time.Time         `json:"connected_at"`
	ConnectionDuration time.Duration     `json:"connection_duration"`
	LastActivity       time.Time         `json:"last_activity"`
	ReconnectAttempts  int               `json:"reconnect_attempts"`
}

// Clone 深拷贝
func (m PeerConnectionMetrics) Clone() PeerConnectionMetrics {
	out := m
	out.Protocols = append([]string(nil), m.Protocols...)
	out.Addresses = append([]string(nil), m.Addresses...)
	return out
}

// NetworkStatus 网络整体状态
type NetworkStatus struct {
	Connected    bool      `json:"connected"`
	PeerCount    int       `json:"peer_count"`
	DHTConnected bool      `json:"dht_connected"`
	LatencyMs    float64   `json:"latency_ms"`
	FailureRate  float64   `json:"failure_rate"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// DHTStatus 发现服务（DHT/overlay）状态
type DHTStatus struct {
	Running          bool      `json:"running"`
	RoutingTableSize int       `json:"routing_table_size"`
	LastChecked      time.Time `json:"last_checked"`
}

// TroubleshootingSummary 诊断快照中的排障块
type TroubleshootingSummary struct {
	Issues          []NetworkIssue `json:"issues"`
	Recommendations []string       `json:"recommendations"`
	HealthScore     int            `json:"health_score"`
}

// PerformanceMetrics 聚合性能指标（百分比取值 0-100）
type PerformanceMetrics struct {
	AverageLatencyMs      float64        `json:"average_latency_ms"`
	TotalBandwidth        BandwidthStats `json:"total_bandwidth"`
	ConnectionSuccessRate float64        `json:"connection_success_rate"`
	MessageDeliveryRate   float64        `json:"message_delivery_rate"`
}

// NetworkDiagnostics 诊断快照
type NetworkDiagnostics struct {
	Network         NetworkStatus           `json:"network"`
	Peers           []PeerConnectionMetrics `json:"peers"`
	DHT             DHTStatus               `json:"dht"`
	Troubleshooting TroubleshootingSummary  `json:"troubleshooting"`
	Performance     PerformanceMetrics      `json:"performance"`
	CollectedAt     time.Time               `json:"collected_at"`
}

// Clone 深拷贝，调用方修改返回值不会影响内部状态
func (d NetworkDiagnostics) Clone() NetworkDiagnostics {
	out := d
	if d.Peers != nil {
		out.Peers = make([]PeerConnectionMetrics, len(d.Peers))
		for i, p := range d.Peers {
			out.Peers[i] = p.Clone()
		}
	}
	out.Troubleshooting.Issues = CloneIssues(d.Troubleshooting.Issues)
	out.Troubleshooting.Recommendations = append([]string(nil), d.Troubleshooting.Recommendations...)
	return out
}

// CloneIssues 深拷贝问题列表
func CloneIssues(issues []NetworkIssue) []NetworkIssue {
	if issues == nil {
		return nil
	}
	out := make([]NetworkIssue, len(issues))
	for i, is := range issues {
		out[i] = is
		out[i].AffectedPeers = append([]peer.ID(nil), is.AffectedPeers...)
	}
	return out
}

// ConnectivityProbeResult 基础连通性探测结果（STUN）
type ConnectivityProbeResult struct {
	Server        string        `json:"server"`
	Reachable     bool          `json:"reachable"`
	PublicAddress string        `json:"public_address,omitempty"`
	RTT           time.Duration `json:"rtt"`
}

// TroubleshootingReport 一次按需排障的结果
type TroubleshootingReport struct {
	ID              string                   `json:"id"`
	Issues          []NetworkIssue           `json:"issues"`
	Recommendations []string                 `json:"recommendations"`
	AutoFixActions  []string                 `json:"auto_fix_actions"`
	CanAutoFix      bool                     `json:"can_auto_fix"`
	HealthScore     int                      `json:"health_score"`
	Connectivity    *ConnectivityProbeResult `json:"connectivity,omitempty"`
	GeneratedAt     time.Time                `json:"generated_at"`
	Duration        time.Duration            `json:"duration"`
}
