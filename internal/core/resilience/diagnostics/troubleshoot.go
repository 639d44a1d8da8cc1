package diagnostics

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/weisyn/meshguard/pkg/types"
)

// 自动修复动作
const (
	FixReconnectBootstrap  = "reconnect_bootstrap_peers"
	FixRestartDiscovery    = "restart_discovery_service"
	FixRefreshRoutingTable = "refresh_routing_table"
	FixDiscoverPeers       = "discover_additional_peers"
	FixReplacePoorPeers    = "replace_poor_quality_peers"
)

// report 排障过程中的累积器
type report struct {
	issues  []types.NetworkIssue
	recs    []string
	fixes   []string
	seenRec map[string]struct{}
	seenFix map[string]struct{}
}

func (r *report) issue(is types.NetworkIssue, rec string, fix string) {
	r.issues = append(r.issues, is)
	if rec != "" {
		if _, ok := r.seenRec[rec]; !ok {
			r.seenRec[rec] = struct{}{}
			r.recs = append(r.recs, rec)
		}
	}
	if fix != "" {
		if _, ok := r.seenFix[fix]; !ok {
			r.seenFix[fix] = struct{}{}
			r.fixes = append(r.fixes, fix)
		}
	}
}

// RunNetworkTroubleshooting 按需排障
//
// 所有探测都会执行，前一项失败不会跳过后续：基础连通性（缓存状态 + 可选 STUN）、
// 发现服务存活、peer 发现产出，以及基于缓存的时延、质量、带宽检查。
// 只在 ctx 被取消时返回错误，此时报告包含已完成部分。
func (c *Collector) RunNetworkTroubleshooting(ctx context.Context) (types.TroubleshootingReport, error) {
	start := c.clk.Now()
	snap := c.GetNetworkDiagnostics()
	r := &report{seenRec: make(map[string]struct{}), seenFix: make(map[string]struct{})}
	mk := func(t types.IssueType, sev types.IssueSeverity, desc string) types.NetworkIssue {
		return types.NetworkIssue{Type: t, Severity: sev, Description: desc, Timestamp: c.clk.Now()}
	}

	// 1. 基础连通性
	if !snap.Network.Connected {
		r.issue(mk(types.IssueConnection, types.SeverityCritical, "No connected peers"),
			"Check the local network connection and firewall settings", FixReconnectBootstrap)
	}
	var connectivity *types.ConnectivityProbeResult
	if c.prober != nil {
		res, err := c.prober.Probe(ctx)
		switch {
		case err != nil:
			r.issue(mk(types.IssueConnection, types.SeverityHigh, fmt.Sprintf("Connectivity probe failed: %v", err)),
				"Check outbound UDP access and NAT configuration", "")
		case !res.Reachable:
			r.issue(mk(types.IssueConnection, types.SeverityHigh, fmt.Sprintf("STUN server %s unreachable", res.Server)),
				"Check outbound UDP access and NAT configuration", "")
		}
		if err == nil {
			connectivity = &res
		}
	}

	// 2. 发现服务存活
	switch {
	case c.overlay == nil || !c.overlay.IsRunning():
		r.issue(mk(types.IssueDHT, types.SeverityHigh, "Discovery service is not running"),
			"Restart the discovery service and refresh the routing table", FixRestartDiscovery)
	case c.overlay.RoutingTableSize() == 0:
		r.issue(mk(types.IssueDHT, types.SeverityMedium, "Discovery routing table is empty"),
			"Restart the discovery service and refresh the routing table", FixRefreshRoutingTable)
	}

	// 3. peer 发现产出
	if c.discovery == nil {
		r.issue(mk(types.IssuePeerDiscovery, types.SeverityLow, "Peer discovery is not available"), "", "")
	} else {
		found, err := c.discovery.FindPeers(ctx, c.cfg.DiscoveryNamespace, c.cfg.DiscoveryQueryLimit)
		switch {
		case err != nil:
			r.issue(mk(types.IssuePeerDiscovery, types.SeverityHigh, fmt.Sprintf("Peer discovery failed: %v", err)),
				"Run peer discovery to find additional peers", FixDiscoverPeers)
		case len(found) == 0:
			r.issue(mk(types.IssuePeerDiscovery, types.SeverityMedium, "Peer discovery returned no candidates"),
				"Run peer discovery to find additional peers", FixDiscoverPeers)
		}
	}
	if snap.Network.Connected && snap.Network.PeerCount < c.cfg.MinPeerCount {
		r.issue(mk(types.IssuePeerDiscovery, types.SeverityMedium,
			fmt.Sprintf("Low peer count: %d (minimum %d)", snap.Network.PeerCount, c.cfg.MinPeerCount)),
			"Run peer discovery to find additional peers", FixDiscoverPeers)
	}

	// 4. 时延
	if snap.Network.LatencyMs > c.cfg.HighLatencyMs {
		is := mk(types.IssueLatency, types.SeverityMedium, fmt.Sprintf("High average latency: %.0fms", snap.Network.LatencyMs))
		is.AffectedPeers = slowPeers(snap.Peers, c.cfg.HighLatencyMs)
		r.issue(is, "Prefer lower-latency peers or switch to a faster network", "")
	}

	// 5. 连接质量
	if poor := poorPeers(snap.Peers); len(poor) > 0 {
		is := mk(types.IssueConnection, types.SeverityLow, fmt.Sprintf("%d peer(s) with poor connection quality", len(poor)))
		is.AffectedPeers = poor
		r.issue(is, "Replace peers with persistently poor connection quality", FixReplacePoorPeers)
	}

	// 6. 带宽：有连接但没有任何流量
	bw := snap.Performance.TotalBandwidth
	if c.inspector != nil && snap.Network.Connected && bw.TotalIn == 0 && bw.TotalOut == 0 {
		r.issue(mk(types.IssueBandwidth, types.SeverityLow, "No traffic observed on connected peers"),
			"Check bandwidth limits and resource manager settings", "")
	}

	rep := types.TroubleshootingReport{
		ID:              uuid.New().String(),
		Issues:          r.issues,
		Recommendations: r.recs,
		AutoFixActions:  r.fixes,
		CanAutoFix:      len(r.fixes) > 0,
		HealthScore:     snap.Troubleshooting.HealthScore,
		Connectivity:    connectivity,
		GeneratedAt:     start,
		Duration:        c.clk.Since(start),
	}
	if rep.Recommendations == nil {
		rep.Recommendations = []string{}
	}
	if rep.AutoFixActions == nil {
		rep.AutoFixActions = []string{}
	}

	if c.logger != nil {
		c.logger.Infof("排障完成: id=%s issues=%d fixes=%d score=%d", rep.ID, len(rep.Issues), len(rep.AutoFixActions), rep.HealthScore)
	}
	return rep, ctx.Err()
}
