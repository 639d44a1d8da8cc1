package recovery

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weisyn/meshguard/internal/core/resilience/testutil"
	"github.com/weisyn/meshguard/pkg/constants/events"
	"github.com/weisyn/meshguard/pkg/types"
)

func addPeers(h *harness, from, to int) []peer.ID {
	var ids []peer.ID
	for i := from; i <= to; i++ {
		id := testutil.PeerID(i)
		h.tr.AddPeer(id, 20*time.Millisecond)
		ids = append(ids, id)
	}
	return ids
}

func TestPartition_OpensAndCloses(t *testing.T) {
	cfg := testConfig()
	cfg.MaxConsecutiveFailures = 1
	cfg.PartitionThreshold = 0.5
	cfg.PartitionRecoveryRatio = 0.8
	cfg.AutoReconnect = false
	cfg.Topics = []string{"meshguard/presence"}
	h := newHarness(t, cfg)

	ids := addPeers(h, 1, 5)
	h.check(t)
	require.Nil(t, h.m.GetNetworkHealth().Partition)

	// 3/5 失败：ratio 0.4 < 0.5，打开分区
	for _, id := range ids[:3] {
		h.tr.SetPingError(id, testutil.ErrPingFailed)
	}
	h.clk.Add(time.Second)
	h.check(t)

	health := h.m.GetNetworkHealth()
	require.NotNil(t, health.Partition)
	assert.True(t, health.Partition.Detected)
	assert.Equal(t, 3, health.Partition.PartitionSize)
	assert.ElementsMatch(t, ids[:3], health.Partition.IsolatedPeers)
	assert.Equal(t, 1, h.rec.Count(events.EventTypeNetworkPartitionDetected))
	detectedAt := health.Partition.DetectedAt

	// 分区恢复动作：主动发现 + 重新加入主题
	assert.Eventually(t, func() bool { return len(h.disc.JoinCalls()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"meshguard/presence"}, h.disc.JoinCalls()[0])
	assert.GreaterOrEqual(t, h.disc.FindCalls(), 1)

	// 仍在分区中不会重复打开
	h.check(t)
	assert.Equal(t, 1, h.rec.Count(events.EventTypeNetworkPartitionDetected))

	// ratio 0.8 不足以关闭（需 > 0.8）
	h.tr.SetPingError(ids[0], nil)
	h.tr.SetPingError(ids[1], nil)
	h.check(t)
	require.NotNil(t, h.m.GetNetworkHealth().Partition)
	assert.Equal(t, 0, h.rec.Count(events.EventTypeNetworkPartitionRecovered))

	// 全部恢复：ratio 1.0 > 0.8，关闭并丢弃记录
	h.tr.SetPingError(ids[2], nil)
	h.clk.Add(500 * time.Millisecond)
	h.check(t)
	assert.Nil(t, h.m.GetNetworkHealth().Partition)
	require.Equal(t, 1, h.rec.Count(events.EventTypeNetworkPartitionRecovered))

	last, _ := h.rec.Last(events.EventTypeNetworkPartitionRecovered)
	p := last.(types.NetworkPartitionEvent).Partition
	require.NotNil(t, p.RecoveredAt)
	assert.Equal(t, detectedAt, p.DetectedAt)
	assert.False(t, p.RecoveredAt.Before(p.DetectedAt))

	// 超时定时器已撤销
	h.clk.Add(time.Hour)
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, 0, h.rec.Count(events.EventTypeNetworkPartitionRecoveryTimeout))
}

func TestPartition_ClosesAfterAbandonedPeersLeave(t *testing.T) {
	cfg := testConfig()
	cfg.AutoReconnect = false
	cfg.MaxUnhealthyPeers = 5
	h := newHarness(t, cfg)

	ids := addPeers(h, 1, 4)
	h.check(t)

	// 3/4 断开且不自动重连：ratio 0.25，打开分区
	for _, id := range ids[:3] {
		h.tr.Drop(id)
	}
	h.check(t)
	require.NotNil(t, h.m.GetNetworkHealth().Partition)
	require.Equal(t, 1, h.rec.Count(events.EventTypeNetworkPartitionDetected))

	// 新的健康 peer 加入，被放弃的 peer 不再拉低健康比例
	addPeers(h, 10, 18)
	for i := 0; i < 5; i++ {
		h.clk.Add(time.Second)
		h.check(t)
	}

	health := h.m.GetNetworkHealth()
	assert.Nil(t, health.Partition)
	assert.Equal(t, 1, h.rec.Count(events.EventTypeNetworkPartitionRecovered))
	assert.Equal(t, 10, health.TotalPeers)
	assert.Equal(t, 10, health.HealthyPeers)
	assert.Equal(t, 1.0, health.HealthyRatio)
	for _, id := range ids[:3] {
		_, ok := h.m.GetPeerHealth(id)
		assert.False(t, ok)
	}
}

func TestHealthCheck_KeepsDisconnectedPeerWhileRecoveryPending(t *testing.T) {
	h := newHarness(t, testConfig())
	p1 := testutil.PeerID(1)
	h.tr.AddPeer(p1, 10*time.Millisecond)
	h.check(t)

	h.tr.SetConnectError(p1, errDial)
	h.tr.Drop(p1)
	require.True(t, h.hasTimer(p1))
	h.check(t)

	ph, ok := h.m.GetPeerHealth(p1)
	require.True(t, ok)
	assert.False(t, ph.IsHealthy)
	assert.Equal(t, 1, h.m.GetNetworkHealth().PendingRecoveries)
}

func TestHealthCheck_DropsExhaustedPeer(t *testing.T) {
	cfg := testConfig()
	cfg.MaxReconnectAttempts = 1
	h := newHarness(t, cfg)
	p1 := testutil.PeerID(1)
	h.tr.AddPeer(p1, 10*time.Millisecond)
	h.check(t)

	h.tr.SetConnectError(p1, errDial)
	h.tr.Drop(p1)
	h.clk.Add(time.Second)
	require.Eventually(t, func() bool {
		return h.rec.Count(events.EventTypePeerRecoveryFailed) == 1
	}, time.Second, 5*time.Millisecond)

	h.check(t)
	_, ok := h.m.GetPeerHealth(p1)
	assert.False(t, ok)
	assert.Equal(t, 0, h.m.GetNetworkHealth().TotalPeers)
}

func TestPartition_RequiresMoreThanTwoPeers(t *testing.T) {
	cfg := testConfig()
	cfg.MaxConsecutiveFailures = 1
	cfg.AutoReconnect = false
	h := newHarness(t, cfg)

	ids := addPeers(h, 1, 2)
	for _, id := range ids {
		h.tr.SetPingError(id, testutil.ErrPingFailed)
	}
	h.check(t)

	health := h.m.GetNetworkHealth()
	assert.Equal(t, 0.0, health.HealthyRatio)
	assert.Nil(t, health.Partition)
	assert.Equal(t, 0, h.rec.Count(events.EventTypeNetworkPartitionDetected))
}

func TestPartition_RecoveryTimeoutIsReportedOnly(t *testing.T) {
	cfg := testConfig()
	cfg.MaxConsecutiveFailures = 1
	cfg.AutoReconnect = false
	cfg.PartitionRecoveryTimeout = 5 * time.Minute
	h := newHarness(t, cfg)

	for _, id := range addPeers(h, 1, 3) {
		h.tr.SetPingError(id, testutil.ErrPingFailed)
		h.tr.SetConnectError(id, errDial)
	}
	h.check(t)
	require.NotNil(t, h.m.GetNetworkHealth().Partition)

	h.clk.Add(5 * time.Minute)
	assert.Eventually(t, func() bool {
		return h.rec.Count(events.EventTypeNetworkPartitionRecoveryTimeout) == 1
	}, time.Second, 5*time.Millisecond)

	// 只上报：分区记录仍然存在
	assert.NotNil(t, h.m.GetNetworkHealth().Partition)
}

func TestForceNetworkRecovery_RunsAllActions(t *testing.T) {
	cfg := testConfig()
	boot := testutil.PeerID(90)
	cfg.BootstrapPeers = []peer.AddrInfo{{ID: boot}}
	cfg.DiscoveryNamespace = "meshguard/peers"
	cfg.Topics = []string{"t1"}
	h := newHarness(t, cfg)

	fresh := testutil.PeerID(91)
	h.disc.SetCandidates(fresh)

	require.NoError(t, h.m.ForceNetworkRecovery(context.Background()))
	assert.Equal(t, 1, h.tr.ConnectCalls(boot))
	assert.Equal(t, 1, h.tr.ConnectCalls(fresh))
	assert.Equal(t, [][]string{{"t1"}}, h.disc.JoinCalls())

	// 各动作独立执行，错误合并返回
	bootErr := errors.New("bootstrap down")
	h.tr.SetConnectError(boot, bootErr)
	h.disc.SetJoinError(errors.New("join failed"))
	err := h.m.ForceNetworkRecovery(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, bootErr)
	assert.Contains(t, err.Error(), "join failed")
	assert.Len(t, h.disc.JoinCalls(), 2)
}

func TestReplacement_DropsWorstExcessAndBackfills(t *testing.T) {
	cfg := testConfig()
	cfg.MaxConsecutiveFailures = 1
	cfg.MaxUnhealthyPeers = 1
	cfg.AutoReconnect = false
	cfg.PartitionThreshold = 1 // 关闭分区判定，单独观察替换
	h := newHarness(t, cfg)

	ids := addPeers(h, 1, 4)
	h.check(t)

	// peer1 已累计多次失败，排序最差；peer2 与 peer3 相同时按 ID
	h.tr.SetPingError(ids[0], testutil.ErrPingFailed)
	h.m.mu.Lock()
	h.m.records[ids[0]].ConsecutiveFailures = 5
	h.m.mu.Unlock()
	h.tr.SetPingError(ids[1], testutil.ErrPingFailed)
	h.tr.SetPingError(ids[2], testutil.ErrPingFailed)

	replacement := testutil.PeerID(50)
	h.disc.SetCandidates(ids[3], replacement)

	h.check(t)

	require.Equal(t, 1, h.rec.Count(events.EventTypePeerReplaced))
	last, _ := h.rec.Last(events.EventTypePeerReplaced)
	ev := last.(types.PeerReplacedEvent)
	require.Len(t, ev.Removed, 2)
	assert.Equal(t, ids[0], ev.Removed[0])
	assert.Equal(t, []peer.ID{replacement}, ev.Added)

	// 被移除的 peer：记录与定时器都已丢弃，连接已断开
	for _, id := range ev.Removed {
		_, ok := h.m.GetPeerHealth(id)
		assert.False(t, ok)
		assert.False(t, h.hasTimer(id))
		assert.False(t, h.tr.IsConnected(id))
	}
	assert.Equal(t, 1, h.m.GetNetworkHealth().UnhealthyPeers)

	// 替换 peer 通过连接通知被纳入跟踪
	ph, ok := h.m.GetPeerHealth(replacement)
	require.True(t, ok)
	assert.True(t, ph.IsHealthy)
}

func TestGetNetworkHealth_ReturnsIndependentCopy(t *testing.T) {
	cfg := testConfig()
	cfg.MaxConsecutiveFailures = 1
	cfg.AutoReconnect = false
	h := newHarness(t, cfg)

	for _, id := range addPeers(h, 1, 3) {
		h.tr.SetPingError(id, testutil.ErrPingFailed)
	}
	h.check(t)

	health := h.m.GetNetworkHealth()
	require.NotNil(t, health.Partition)
	health.Partition.IsolatedPeers[0] = "mutated"
	health.Peers[0].IsHealthy = true

	again := h.m.GetNetworkHealth()
	assert.NotEqual(t, peer.ID("mutated"), again.Partition.IsolatedPeers[0])
	assert.False(t, again.Peers[0].IsHealthy)
}
