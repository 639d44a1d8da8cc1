package recovery

import (
	"context"
	"errors"
	"testing"
	"time"

	benclock "github.com/benbjohnson/clock"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	resilienceconfig "github.com/weisyn/meshguard/internal/config/resilience"
	"github.com/weisyn/meshguard/internal/core/resilience/testutil"
	"github.com/weisyn/meshguard/pkg/constants/events"
	"github.com/weisyn/meshguard/pkg/types"
)

var errDial = errors.New("dial failed")

type harness struct {
	m    *Manager
	tr   *testutil.FakeTransport
	disc *testutil.FakeDiscovery
	clk  *benclock.Mock
	rec  *testutil.Recorder
}

func testConfig() resilienceconfig.RecoveryOptions {
	cfg := resilienceconfig.DefaultOptions().Recovery
	cfg.ReconnectSettleDelay = 0
	cfg.MaxUnhealthyPeers = 100
	return cfg
}

func newHarness(t *testing.T, cfg resilienceconfig.RecoveryOptions) *harness {
	t.Helper()

	clk := benclock.NewMock()
	tr := testutil.NewFakeTransport()
	tr.SetNow(clk.Now)
	disc := testutil.NewFakeDiscovery()
	bus := testutil.NewBus()
	rec := testutil.NewRecorder(bus)

	m, err := NewManager(cfg, tr, disc, clk, bus, nil)
	require.NoError(t, err)
	require.NoError(t, m.Start())
	t.Cleanup(m.Destroy)

	return &harness{m: m, tr: tr, disc: disc, clk: clk, rec: rec}
}

func (h *harness) check(t *testing.T) {
	t.Helper()
	require.True(t, h.m.RunHealthCheck(context.Background()))
}

func (h *harness) hasTimer(id peer.ID) bool {
	h.m.mu.Lock()
	defer h.m.mu.Unlock()
	st, ok := h.m.recovery[id]
	return ok && st.timer != nil
}

func TestNewManager_RequiresTransport(t *testing.T) {
	_, err := NewManager(testConfig(), nil, nil, nil, nil, nil)
	assert.ErrorIs(t, err, ErrNoTransport)
}

func TestStart_Twice(t *testing.T) {
	h := newHarness(t, testConfig())
	assert.ErrorIs(t, h.m.Start(), ErrAlreadyRunning)
}

func TestHealthCheck_Success(t *testing.T) {
	h := newHarness(t, testConfig())
	p1 := testutil.PeerID(1)
	h.tr.AddPeer(p1, 50*time.Millisecond)

	h.check(t)

	ph, ok := h.m.GetPeerHealth(p1)
	require.True(t, ok)
	assert.True(t, ph.IsHealthy)
	assert.Equal(t, 50.0, ph.LatencyMs)
	assert.Equal(t, types.QualityExcellent, ph.Quality)
	assert.Equal(t, 0, ph.ConsecutiveFailures)
	assert.Equal(t, 1, h.rec.Count(events.EventTypeNetworkHealthUpdate))

	health := h.m.GetNetworkHealth()
	assert.Equal(t, 1, health.TotalPeers)
	assert.Equal(t, 1.0, health.HealthyRatio)
}

func TestHealthCheck_EmptyNetworkStillPublishes(t *testing.T) {
	h := newHarness(t, testConfig())
	h.check(t)
	h.check(t)

	assert.Equal(t, 2, h.rec.Count(events.EventTypeNetworkHealthUpdate))
	assert.Equal(t, 1.0, h.m.GetNetworkHealth().HealthyRatio)
}

func TestHealthCheck_FailuresMarkUnhealthyAndScheduleRecovery(t *testing.T) {
	cfg := testConfig()
	cfg.MaxConsecutiveFailures = 3
	h := newHarness(t, cfg)

	p1 := testutil.PeerID(1)
	h.tr.AddPeer(p1, 20*time.Millisecond)
	h.tr.SetPingError(p1, testutil.ErrPingFailed)

	h.check(t)
	h.check(t)
	ph, _ := h.m.GetPeerHealth(p1)
	assert.True(t, ph.IsHealthy)
	assert.Equal(t, 2, ph.ConsecutiveFailures)
	assert.False(t, h.hasTimer(p1))

	h.check(t)
	ph, _ = h.m.GetPeerHealth(p1)
	assert.False(t, ph.IsHealthy)
	assert.Equal(t, types.QualityCritical, ph.Quality)
	assert.InDelta(t, 0.3, ph.PacketLoss, 1e-9)
	assert.Equal(t, 3, h.rec.Count(events.EventTypePeerHealthCheckFailed))
	assert.Equal(t, 1, h.rec.Count(events.EventTypePeerUnhealthy))
	assert.True(t, h.hasTimer(p1))
	assert.Equal(t, 1, h.m.GetNetworkHealth().PendingRecoveries)

	// 再失败一次：不重复发 unhealthy，也不产生第二个定时器
	h.check(t)
	assert.Equal(t, 1, h.rec.Count(events.EventTypePeerUnhealthy))
	assert.Equal(t, 1, h.m.GetNetworkHealth().PendingRecoveries)

	// 成功 ping 后失败计数才清零，并撤销排队中的重连
	h.tr.SetPingError(p1, nil)
	h.check(t)
	ph, _ = h.m.GetPeerHealth(p1)
	assert.True(t, ph.IsHealthy)
	assert.Equal(t, 0, ph.ConsecutiveFailures)
	assert.InDelta(t, 0.3, ph.PacketLoss, 1e-9)
	assert.Equal(t, 1, h.rec.Count(events.EventTypePeerHealthy))
	assert.False(t, h.hasTimer(p1))
}

func TestHealthCheck_PingTimeoutFires(t *testing.T) {
	cfg := testConfig()
	cfg.PingTimeout = 5 * time.Second
	h := newHarness(t, cfg)

	p1 := testutil.PeerID(1)
	h.tr.AddPeer(p1, 0)
	h.tr.SetPingHang(p1, true)

	done := make(chan struct{})
	go func() {
		h.m.RunHealthCheck(context.Background())
		close(done)
	}()

	assert.Eventually(t, func() bool {
		h.clk.Add(time.Second)
		select {
		case <-done:
			return true
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)

	ph, ok := h.m.GetPeerHealth(p1)
	require.True(t, ok)
	assert.Equal(t, 1, ph.ConsecutiveFailures)
}

func TestRecovery_BackoffSequenceUntilExhausted(t *testing.T) {
	cfg := testConfig()
	cfg.MaxReconnectAttempts = 8
	cfg.InitialReconnectDelay = time.Second
	cfg.MaxReconnectDelay = time.Minute
	cfg.BackoffMultiplier = 2
	h := newHarness(t, cfg)

	p1 := testutil.PeerID(1)
	h.tr.AddPeer(p1, 10*time.Millisecond)
	h.check(t)
	h.tr.SetConnectError(p1, errDial)

	// 远端断开：标记不健康并安排第一次重连
	h.tr.Drop(p1)
	require.True(t, h.hasTimer(p1))
	assert.Equal(t, 1, h.rec.Count(events.EventTypePeerUnhealthy))

	delays := []time.Duration{
		1 * time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second,
		16 * time.Second, 32 * time.Second, 60 * time.Second, 60 * time.Second,
	}
	for i, d := range delays {
		// 到期前一刻不触发
		h.clk.Add(d - time.Millisecond)
		assert.Equal(t, i, h.tr.ConnectCalls(p1), "attempt %d fired early", i+1)

		h.clk.Add(time.Millisecond)
		want := i + 1
		require.Eventually(t, func() bool {
			return h.rec.Count(events.EventTypePeerRecoveryAttemptFailed) == want
		}, time.Second, 5*time.Millisecond)
	}

	var next []time.Duration
	for _, p := range h.rec.Payloads(events.EventTypePeerRecoveryAttemptFailed) {
		next = append(next, p.(types.PeerRecoveryAttemptFailedEvent).NextDelay)
	}
	assert.Equal(t, append(delays[1:], 0), next)
	assert.Equal(t, 1, h.rec.Count(events.EventTypePeerRecoveryFailed))
	assert.False(t, h.hasTimer(p1))

	// 耗尽之后不再有自动尝试
	h.clk.Add(time.Hour)
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, 8, h.tr.ConnectCalls(p1))

	// 直接调用返回 false 且不安排定时器
	assert.False(t, h.m.RecoverPeerConnection(context.Background(), p1))
	assert.False(t, h.hasTimer(p1))
	assert.Equal(t, 2, h.rec.Count(events.EventTypePeerRecoveryFailed))
	assert.Equal(t, 8, h.tr.ConnectCalls(p1))
}

func TestRecoverPeerConnection_ExhaustedAfterMaxAttempts(t *testing.T) {
	cfg := testConfig()
	cfg.MaxReconnectAttempts = 3
	h := newHarness(t, cfg)

	p1 := testutil.PeerID(1)
	h.tr.SetConnectError(p1, errDial)

	ctx := context.Background()
	assert.False(t, h.m.RecoverPeerConnection(ctx, p1))
	assert.True(t, h.hasTimer(p1))
	assert.False(t, h.m.RecoverPeerConnection(ctx, p1))
	assert.False(t, h.m.RecoverPeerConnection(ctx, p1))

	assert.False(t, h.hasTimer(p1))
	assert.Equal(t, 3, h.tr.ConnectCalls(p1))
	assert.Equal(t, 1, h.rec.Count(events.EventTypePeerRecoveryFailed))

	assert.False(t, h.m.RecoverPeerConnection(ctx, p1))
	assert.Equal(t, 3, h.tr.ConnectCalls(p1))
}

func TestRecoverPeerConnection_SuccessClearsState(t *testing.T) {
	h := newHarness(t, testConfig())
	p1 := testutil.PeerID(1)
	h.tr.AddPeer(p1, 10*time.Millisecond)
	h.check(t)

	h.tr.SetConnectError(p1, errDial)
	h.tr.Drop(p1)
	h.clk.Add(time.Second)
	require.Eventually(t, func() bool {
		return h.rec.Count(events.EventTypePeerRecoveryAttemptFailed) == 1
	}, time.Second, 5*time.Millisecond)

	h.tr.SetConnectError(p1, nil)
	h.clk.Add(2 * time.Second)
	require.Eventually(t, func() bool {
		return h.rec.Count(events.EventTypePeerRecovered) == 1
	}, time.Second, 5*time.Millisecond)

	last, _ := h.rec.Last(events.EventTypePeerRecovered)
	assert.Equal(t, 2, last.(types.PeerRecoveredEvent).Attempts)
	assert.False(t, h.hasTimer(p1))
	assert.Equal(t, 0, h.m.GetNetworkHealth().PendingRecoveries)

	ph, _ := h.m.GetPeerHealth(p1)
	assert.True(t, ph.IsHealthy)
	assert.True(t, h.tr.IsConnected(p1))

	// 次数已清零：再次断开重新从 1s 开始
	h.tr.SetConnectError(p1, errDial)
	h.tr.Drop(p1)
	h.clk.Add(time.Second)
	require.Eventually(t, func() bool {
		return h.rec.Count(events.EventTypePeerRecoveryAttemptFailed) == 2
	}, time.Second, 5*time.Millisecond)
}

func TestRecovery_SettleDelayUsesClock(t *testing.T) {
	cfg := testConfig()
	cfg.ReconnectSettleDelay = time.Second
	h := newHarness(t, cfg)

	p1 := testutil.PeerID(1)
	done := make(chan bool, 1)
	go func() { done <- h.m.RecoverPeerConnection(context.Background(), p1) }()

	assert.Eventually(t, func() bool { return h.tr.DisconnectCalls(p1) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, h.tr.ConnectCalls(p1))

	assert.Eventually(t, func() bool {
		h.clk.Add(100 * time.Millisecond)
		select {
		case ok := <-done:
			return ok
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, h.tr.ConnectCalls(p1))
}

func TestRescheduleKeepsSingleTimer(t *testing.T) {
	h := newHarness(t, testConfig())
	p1 := testutil.PeerID(1)

	h.m.mu.Lock()
	h.m.scheduleRecoveryLocked(p1)
	first := h.m.recovery[p1].timer
	h.m.scheduleRecoveryLocked(p1)
	second := h.m.recovery[p1].timer
	h.m.mu.Unlock()

	assert.NotSame(t, first, second)
	assert.False(t, first.Stop(), "replaced timer must already be stopped")

	h.tr.SetConnectError(p1, errDial)
	h.clk.Add(time.Second)
	require.Eventually(t, func() bool {
		return h.rec.Count(events.EventTypePeerRecoveryAttemptFailed) == 1
	}, time.Second, 5*time.Millisecond)
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, 1, h.tr.ConnectCalls(p1))
}

func TestConnectedEventCancelsPendingRecovery(t *testing.T) {
	h := newHarness(t, testConfig())
	p1 := testutil.PeerID(1)
	h.tr.AddPeer(p1, 10*time.Millisecond)
	h.check(t)

	h.tr.Drop(p1)
	require.True(t, h.hasTimer(p1))

	// 远端自行重连
	h.tr.Emit(p1, types.ConnectionConnected, nil)
	assert.False(t, h.hasTimer(p1))
	assert.Equal(t, 1, h.rec.Count(events.EventTypePeerHealthy))

	h.clk.Add(time.Minute)
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, 0, h.tr.ConnectCalls(p1))
}

func TestAutoReconnectDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.AutoReconnect = false
	h := newHarness(t, cfg)

	p1 := testutil.PeerID(1)
	h.tr.AddPeer(p1, 10*time.Millisecond)
	h.check(t)
	h.tr.Drop(p1)

	ph, _ := h.m.GetPeerHealth(p1)
	assert.False(t, ph.IsHealthy)
	assert.False(t, h.hasTimer(p1))
}

func TestForcePeerRecovery_ResetsExhaustedPeer(t *testing.T) {
	cfg := testConfig()
	cfg.MaxReconnectAttempts = 1
	h := newHarness(t, cfg)

	p1 := testutil.PeerID(1)
	h.tr.SetConnectError(p1, errDial)
	assert.False(t, h.m.RecoverPeerConnection(context.Background(), p1))
	assert.False(t, h.m.RecoverPeerConnection(context.Background(), p1))
	assert.Equal(t, 1, h.tr.ConnectCalls(p1))

	h.tr.SetConnectError(p1, nil)
	assert.True(t, h.m.ForcePeerRecovery(context.Background(), p1))
	assert.Equal(t, 2, h.tr.ConnectCalls(p1))
}

func TestDestroy_NoCallbacksAfterward(t *testing.T) {
	cfg := testConfig()
	cfg.MaxConsecutiveFailures = 1
	h := newHarness(t, cfg)

	peers := []peer.ID{testutil.PeerID(1), testutil.PeerID(2), testutil.PeerID(3)}
	for _, p := range peers {
		h.tr.AddPeer(p, 10*time.Millisecond)
		h.tr.SetPingError(p, testutil.ErrPingFailed)
		h.tr.SetConnectError(p, errDial)
	}
	h.check(t)

	health := h.m.GetNetworkHealth()
	require.NotNil(t, health.Partition)
	require.Equal(t, 3, health.PendingRecoveries)

	h.m.Destroy()
	h.rec.Reset()
	pingsBefore := h.tr.PingCalls(peers[0])

	h.clk.Add(24 * time.Hour)
	time.Sleep(20 * time.Millisecond)

	assert.Empty(t, h.rec.Records())
	for _, p := range peers {
		assert.Equal(t, 0, h.tr.ConnectCalls(p))
	}
	assert.Equal(t, pingsBefore, h.tr.PingCalls(peers[0]))
	assert.Equal(t, 0, h.tr.HandlerCount())
	h.m.RunHealthCheck(context.Background())
	assert.Zero(t, h.rec.Count(events.EventTypeNetworkHealthUpdate))
	assert.ErrorIs(t, h.m.ForceNetworkRecovery(context.Background()), ErrDestroyed)
	assert.ErrorIs(t, h.m.Start(), ErrDestroyed)
}

func TestPeriodicHealthCheck(t *testing.T) {
	cfg := testConfig()
	cfg.HealthCheckInterval = 30 * time.Second
	h := newHarness(t, cfg)
	h.tr.AddPeer(testutil.PeerID(1), 10*time.Millisecond)

	time.Sleep(20 * time.Millisecond)
	h.clk.Add(30 * time.Second)
	assert.Eventually(t, func() bool {
		return h.rec.Count(events.EventTypeNetworkHealthUpdate) == 1
	}, time.Second, 5*time.Millisecond)
}
