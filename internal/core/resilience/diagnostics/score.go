package diagnostics

import (
	"fmt"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"

	resilienceconfig "github.com/weisyn/meshguard/internal/config/resilience"
	"github.com/weisyn/meshguard/pkg/types"
)

// 健康评分扣分项
const (
	penaltyDisconnected  = 50
	penaltyDHTDown       = 20
	penaltyLowPeers      = 15
	penaltyHighLatency   = 10
	penaltyVeryHighLat   = 10
	penaltyPerPoorPeer   = 5
	scoreLowPeerCount    = 3
	scoreHighLatencyMs   = 500.0
	scoreVeryHighLatency = 1000.0
)

// CalculateHealthScore 综合健康评分，取值 [0,100]
//
// 从 100 开始：未连接 −50，发现服务不可用 −20，peer 少于 3 个 −15，
// 时延超过 500ms −10、超过 1000ms 再 −10，每个质量差的 peer −5。
func CalculateHealthScore(status types.NetworkStatus, dhtRunning bool, poorPeers int) int {
	score := 100
	if !status.Connected {
		score -= penaltyDisconnected
	}
	if !dhtRunning {
		score -= penaltyDHTDown
	}
	if status.PeerCount < scoreLowPeerCount {
		score -= penaltyLowPeers
	}
	if status.LatencyMs > scoreHighLatencyMs {
		score -= penaltyHighLatency
	}
	if status.LatencyMs > scoreVeryHighLatency {
		score -= penaltyVeryHighLat
	}
	if poorPeers > 0 {
		score -= penaltyPerPoorPeer * poorPeers
	}

	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

// isPoor poor 与 critical 都按质量差计
func isPoor(q types.ConnectionQuality) bool {
	return q == types.QualityPoor || q == types.QualityCritical
}

// countPoor 已连接且质量差的 peer 数
func countPoor(peers []types.PeerConnectionMetrics) int {
	n := 0
	for _, p := range peers {
		if p.ConnectionState == types.ConnectionConnected && isPoor(p.Quality) {
			n++
		}
	}
	return n
}

// poorPeers 已连接且质量差的 peer
func poorPeers(peers []types.PeerConnectionMetrics) []peer.ID {
	var out []peer.ID
	for _, p := range peers {
		if p.ConnectionState == types.ConnectionConnected && isPoor(p.Quality) {
			out = append(out, p.PeerID)
		}
	}
	return out
}

// slowPeers 已连接且时延超过阈值的 peer
func slowPeers(peers []types.PeerConnectionMetrics, thresholdMs float64) []peer.ID {
	var out []peer.ID
	for _, p := range peers {
		if p.ConnectionState == types.ConnectionConnected && p.LatencyMs > thresholdMs {
			out = append(out, p.PeerID)
		}
	}
	return out
}

// detectIssues 根据缓存状态识别问题（采样周期使用，不做任何网络 I/O）
func detectIssues(
	cfg resilienceconfig.DiagnosticsOptions,
	status types.NetworkStatus,
	dht types.DHTStatus,
	peers []types.PeerConnectionMetrics,
	now time.Time,
) []types.NetworkIssue {
	var issues []types.NetworkIssue
	add := func(t types.IssueType, sev types.IssueSeverity, desc string, affected []peer.ID) {
		issues = append(issues, types.NetworkIssue{
			Type:          t,
			Severity:      sev,
			Description:   desc,
			AffectedPeers: affected,
			Timestamp:     now,
		})
	}

	if !status.Connected {
		add(types.IssueConnection, types.SeverityCritical, "No connected peers", nil)
	}
	if !dht.Running {
		add(types.IssueDHT, types.SeverityHigh, "Discovery service is not running", nil)
	} else if dht.RoutingTableSize == 0 {
		add(types.IssueDHT, types.SeverityMedium, "Discovery routing table is empty", nil)
	}
	if status.Connected && status.PeerCount < cfg.MinPeerCount {
		add(types.IssuePeerDiscovery, types.SeverityMedium,
			fmt.Sprintf("Low peer count: %d (minimum %d)", status.PeerCount, cfg.MinPeerCount), nil)
	}
	if status.LatencyMs > cfg.HighLatencyMs {
		add(types.IssueLatency, types.SeverityMedium,
			fmt.Sprintf("High average latency: %.0fms", status.LatencyMs), slowPeers(peers, cfg.HighLatencyMs))
	}
	if poor := poorPeers(peers); len(poor) > 0 {
		add(types.IssueConnection, types.SeverityLow,
			fmt.Sprintf("%d peer(s) with poor connection quality", len(poor)), poor)
	}
	return issues
}

// carryResolved 上一轮未解决、本轮消失的问题以 Resolved=true 保留一轮
func carryResolved(prev, cur []types.NetworkIssue) []types.NetworkIssue {
	type key struct {
		t   types.IssueType
		sev types.IssueSeverity
	}
	present := make(map[key]struct{}, len(cur))
	for _, is := range cur {
		present[key{is.Type, is.Severity}] = struct{}{}
	}
	for _, is := range prev {
		if is.Resolved {
			continue
		}
		if _, ok := present[key{is.Type, is.Severity}]; ok {
			continue
		}
		resolved := is
		resolved.AffectedPeers = append([]peer.ID(nil), is.AffectedPeers...)
		resolved.Resolved = true
		cur = append(cur, resolved)
	}
	return cur
}

// recommendationsFor 为未解决的问题生成建议（去重，按问题顺序）
func recommendationsFor(issues []types.NetworkIssue) []string {
	var out []string
	seen := make(map[string]struct{})
	add := func(r string) {
		if _, ok := seen[r]; ok {
			return
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}

	for _, is := range issues {
		if is.Resolved {
			continue
		}
		switch is.Type {
		case types.IssueConnection:
			if is.Severity == types.SeverityLow {
				add("Replace peers with persistently poor connection quality")
			} else {
				add("Check the local network connection and firewall settings")
				add("Reconnect to bootstrap peers")
			}
		case types.IssueDHT:
			add("Restart the discovery service and refresh the routing table")
		case types.IssuePeerDiscovery:
			add("Run peer discovery to find additional peers")
		case types.IssueLatency:
			add("Prefer lower-latency peers or switch to a faster network")
		case types.IssueBandwidth:
			add("Check bandwidth limits and resource manager settings")
		}
	}
	return out
}
