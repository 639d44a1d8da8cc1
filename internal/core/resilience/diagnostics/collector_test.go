package diagnostics

import (
	"context"
	"errors"
	"testing"
	"time"

	benclock "github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	resilienceconfig "github.com/weisyn/meshguard/internal/config/resilience"
	"github.com/weisyn/meshguard/internal/core/resilience/testutil"
	"github.com/weisyn/meshguard/pkg/constants/events"
	"github.com/weisyn/meshguard/pkg/types"
)

type harness struct {
	c       *Collector
	tr      *testutil.FakeTransport
	disc    *testutil.FakeDiscovery
	overlay *testutil.FakeOverlay
	prober  *testutil.FakeProber
	clk     *benclock.Mock
	rec     *testutil.Recorder
}

func testConfig() resilienceconfig.DiagnosticsOptions {
	cfg := resilienceconfig.DefaultOptions().Diagnostics
	cfg.DiscoveryNamespace = "meshguard/peers"
	return cfg
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	clk := benclock.NewMock()
	tr := testutil.NewFakeTransport()
	tr.SetNow(clk.Now)
	disc := testutil.NewFakeDiscovery(testutil.PeerID(80))
	overlay := testutil.NewFakeOverlay(true, 10)
	prober := &testutil.FakeProber{Result: types.ConnectivityProbeResult{Server: "stun.example.org:3478", Reachable: true}}
	bus := testutil.NewBus()
	rec := testutil.NewRecorder(bus)

	c, err := NewCollector(testConfig(), Deps{
		Transport: tr,
		Discovery: disc,
		Overlay:   overlay,
		Prober:    prober,
	}, clk, bus, nil)
	require.NoError(t, err)
	t.Cleanup(c.Destroy)

	return &harness{c: c, tr: tr, disc: disc, overlay: overlay, prober: prober, clk: clk, rec: rec}
}

func (h *harness) sample(t *testing.T) types.NetworkDiagnostics {
	t.Helper()
	require.True(t, h.c.SampleNow(context.Background()))
	return h.c.GetNetworkDiagnostics()
}

func findPeer(t *testing.T, d types.NetworkDiagnostics, id peer.ID) types.PeerConnectionMetrics {
	t.Helper()
	for _, p := range d.Peers {
		if p.PeerID == id {
			return p
		}
	}
	t.Fatalf("peer %s not in diagnostics", id)
	return types.PeerConnectionMetrics{}
}

func hasIssue(d []types.NetworkIssue, typ types.IssueType, sev types.IssueSeverity) bool {
	for _, is := range d {
		if is.Type == typ && is.Severity == sev && !is.Resolved {
			return true
		}
	}
	return false
}

func TestNewCollector_RequiresTransport(t *testing.T) {
	_, err := NewCollector(testConfig(), Deps{}, nil, nil, nil)
	assert.ErrorIs(t, err, ErrNoTransport)
}

func TestInitialize_SamplesImmediately(t *testing.T) {
	h := newHarness(t)
	for i := 1; i <= 3; i++ {
		h.tr.AddPeer(testutil.PeerID(i), 50*time.Millisecond)
	}

	require.NoError(t, h.c.Initialize(context.Background()))
	assert.ErrorIs(t, h.c.Initialize(context.Background()), ErrAlreadyInitialized)
	assert.Equal(t, 1, h.tr.HandlerCount())

	d := h.c.GetNetworkDiagnostics()
	assert.True(t, d.Network.Connected)
	assert.Equal(t, 3, d.Network.PeerCount)
	assert.True(t, d.Network.DHTConnected)
	assert.InDelta(t, 50.0, d.Network.LatencyMs, 0.001)
	assert.Zero(t, d.Network.FailureRate)
	assert.Equal(t, 10, d.DHT.RoutingTableSize)
	assert.Equal(t, 100, d.Troubleshooting.HealthScore)
	assert.Empty(t, d.Troubleshooting.Issues)
	assert.Equal(t, 100.0, d.Performance.ConnectionSuccessRate)
	assert.Equal(t, 100.0, d.Performance.MessageDeliveryRate)

	require.Len(t, d.Peers, 3)
	assert.Equal(t, testutil.PeerID(1), d.Peers[0].PeerID)
	for _, p := range d.Peers {
		assert.Equal(t, types.QualityExcellent, p.Quality)
		assert.Equal(t, types.ConnectionConnected, p.ConnectionState)
		assert.EqualValues(t, 1, p.PacketsReceived)
	}

	assert.Equal(t, 1, h.rec.Count(events.EventTypeMetricsUpdated))
	last, _ := h.rec.Last(events.EventTypeMetricsUpdated)
	assert.Equal(t, 3, last.(types.MetricsUpdatedEvent).Diagnostics.Network.PeerCount)
}

func TestSample_FailedPingKeepsLatency(t *testing.T) {
	h := newHarness(t)
	p1, p2 := testutil.PeerID(1), testutil.PeerID(2)
	h.tr.AddPeer(p1, 50*time.Millisecond)
	h.tr.AddPeer(p2, 80*time.Millisecond)
	h.sample(t)

	h.tr.SetPingError(p2, testutil.ErrPingFailed)
	d := h.sample(t)

	bad := findPeer(t, d, p2)
	assert.InDelta(t, 80.0, bad.LatencyMs, 0.001)
	assert.EqualValues(t, 2, bad.PacketsSent)
	assert.EqualValues(t, 1, bad.PacketsReceived)
	assert.EqualValues(t, 1, bad.PacketsLost)
	assert.Equal(t, types.QualityPoor, bad.Quality)

	good := findPeer(t, d, p1)
	assert.EqualValues(t, 2, good.PacketsReceived)
	assert.Equal(t, types.QualityExcellent, good.Quality)

	assert.Equal(t, 0.5, d.Network.FailureRate)
	// peer 少于 3 个 −15，一个质量差的 peer −5
	assert.Equal(t, 80, d.Troubleshooting.HealthScore)
	assert.True(t, hasIssue(d.Troubleshooting.Issues, types.IssueConnection, types.SeverityLow))
}

func TestSample_HungPingTimesOutOnClock(t *testing.T) {
	h := newHarness(t)
	p1, p2 := testutil.PeerID(1), testutil.PeerID(2)
	h.tr.AddPeer(p1, 20*time.Millisecond)
	h.tr.AddPeer(p2, 20*time.Millisecond)
	h.tr.SetPingHang(p2, true)

	done := make(chan struct{})
	go func() {
		h.c.SampleNow(context.Background())
		close(done)
	}()

	// 等待 ping 在 mock 时钟上注册超时
	time.Sleep(20 * time.Millisecond)
	h.clk.Add(testConfig().PingTimeout)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sample did not finish after ping timeout")
	}

	d := h.c.GetNetworkDiagnostics()
	assert.EqualValues(t, 1, findPeer(t, d, p1).PacketsReceived)
	assert.EqualValues(t, 1, findPeer(t, d, p2).PacketsLost)
	assert.Zero(t, findPeer(t, d, p2).LatencyMs)
}

func TestConnectionStateTracking(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.c.Initialize(context.Background()))
	ctx := context.Background()

	p1, p2 := testutil.PeerID(1), testutil.PeerID(2)
	require.NoError(t, h.tr.Connect(ctx, peer.AddrInfo{ID: p1}))
	h.tr.Drop(p1)
	require.NoError(t, h.tr.Connect(ctx, peer.AddrInfo{ID: p1}))

	dialErr := errors.New("dial failed")
	h.tr.SetConnectError(p2, dialErr)
	require.ErrorIs(t, h.tr.Connect(ctx, peer.AddrInfo{ID: p2}), dialErr)

	d := h.sample(t)
	m1 := findPeer(t, d, p1)
	assert.Equal(t, types.ConnectionConnected, m1.ConnectionState)
	assert.Equal(t, 1, m1.ReconnectAttempts)
	assert.Equal(t, types.ConnectionFailed, findPeer(t, d, p2).ConnectionState)

	// 2 次成功，1 次失败
	assert.InDelta(t, 200.0/3, d.Performance.ConnectionSuccessRate, 0.001)
	assert.Equal(t, 1, d.Network.PeerCount)
}

func TestSample_PrunesStalePeers(t *testing.T) {
	h := newHarness(t)
	p1 := testutil.PeerID(1)
	h.tr.AddPeer(p1, 10*time.Millisecond)
	h.sample(t)

	h.tr.Drop(p1)
	d := h.sample(t)
	assert.Equal(t, types.ConnectionDisconnected, findPeer(t, d, p1).ConnectionState)
	assert.False(t, d.Network.Connected)

	h.clk.Add(time.Duration(staleAfterCycles+1) * testConfig().SampleInterval)
	d = h.sample(t)
	assert.Empty(t, d.Peers)
}

func TestRecordMessage(t *testing.T) {
	h := newHarness(t)
	h.c.RecordMessage(true)
	h.c.RecordMessage(true)
	h.c.RecordMessage(true)
	h.c.RecordMessage(false)

	d := h.sample(t)
	assert.Equal(t, 75.0, d.Performance.MessageDeliveryRate)
}

func TestSample_IssueResolution(t *testing.T) {
	h := newHarness(t)
	for i := 1; i <= 3; i++ {
		h.tr.AddPeer(testutil.PeerID(i), 10*time.Millisecond)
	}

	h.overlay.Set(false, 0)
	d := h.sample(t)
	assert.True(t, hasIssue(d.Troubleshooting.Issues, types.IssueDHT, types.SeverityHigh))
	assert.Contains(t, d.Troubleshooting.Recommendations, "Restart the discovery service and refresh the routing table")
	assert.Equal(t, 80, d.Troubleshooting.HealthScore)

	h.overlay.Set(true, 10)
	d = h.sample(t)
	require.Len(t, d.Troubleshooting.Issues, 1)
	assert.True(t, d.Troubleshooting.Issues[0].Resolved)
	assert.Empty(t, d.Troubleshooting.Recommendations)
	assert.Equal(t, 100, d.Troubleshooting.HealthScore)

	d = h.sample(t)
	assert.Empty(t, d.Troubleshooting.Issues)
}

func TestGetNetworkDiagnostics_ReturnsCopy(t *testing.T) {
	h := newHarness(t)
	h.tr.AddPeer(testutil.PeerID(1), 10*time.Millisecond)
	d := h.sample(t)

	d.Peers[0].LatencyMs = 9999
	d.Troubleshooting.Issues[0].Description = "mutated"

	again := h.c.GetNetworkDiagnostics()
	assert.InDelta(t, 10.0, again.Peers[0].LatencyMs, 0.001)
	assert.NotEqual(t, "mutated", again.Troubleshooting.Issues[0].Description)
}

func TestTroubleshooting_RunsEveryProbe(t *testing.T) {
	h := newHarness(t)
	h.overlay.Set(false, 0)
	h.disc.SetFindError(errors.New("no route"))
	h.prober.Err = errors.New("timeout")
	h.sample(t)

	rep, err := h.c.RunNetworkTroubleshooting(context.Background())
	require.NoError(t, err)

	_, perr := uuid.Parse(rep.ID)
	assert.NoError(t, perr)
	assert.True(t, hasIssue(rep.Issues, types.IssueConnection, types.SeverityCritical))
	assert.True(t, hasIssue(rep.Issues, types.IssueConnection, types.SeverityHigh))
	assert.True(t, hasIssue(rep.Issues, types.IssueDHT, types.SeverityHigh))
	assert.True(t, hasIssue(rep.Issues, types.IssuePeerDiscovery, types.SeverityHigh))
	assert.Equal(t, 1, h.disc.FindCalls())
	assert.Nil(t, rep.Connectivity)

	assert.True(t, rep.CanAutoFix)
	assert.Equal(t, []string{FixReconnectBootstrap, FixRestartDiscovery, FixDiscoverPeers}, rep.AutoFixActions)
	assert.NotEmpty(t, rep.Recommendations)
	assert.Equal(t, h.c.GetNetworkDiagnostics().Troubleshooting.HealthScore, rep.HealthScore)
}

func TestTroubleshooting_Healthy(t *testing.T) {
	h := newHarness(t)
	for i := 1; i <= 3; i++ {
		id := testutil.PeerID(i)
		h.tr.AddPeer(id, 30*time.Millisecond)
		h.tr.SetStats(id, types.PeerTransportStats{
			Addresses: []string{"/ip4/127.0.0.1/tcp/4001"},
			Protocols: []string{"/ipfs/ping/1.0.0"},
			Bandwidth: types.BandwidthStats{InRate: 10, OutRate: 5, TotalIn: 1000, TotalOut: 500},
		})
	}
	d := h.sample(t)
	assert.Equal(t, types.BandwidthStats{InRate: 30, OutRate: 15, TotalIn: 3000, TotalOut: 1500}, d.Performance.TotalBandwidth)
	assert.Equal(t, []string{"/ipfs/ping/1.0.0"}, findPeer(t, d, testutil.PeerID(1)).Protocols)

	rep, err := h.c.RunNetworkTroubleshooting(context.Background())
	require.NoError(t, err)
	assert.Empty(t, rep.Issues)
	assert.Empty(t, rep.Recommendations)
	assert.NotNil(t, rep.Recommendations)
	assert.False(t, rep.CanAutoFix)
	require.NotNil(t, rep.Connectivity)
	assert.True(t, rep.Connectivity.Reachable)
	assert.Equal(t, 100, rep.HealthScore)
}

func TestTroubleshooting_NoTrafficIsBandwidthIssue(t *testing.T) {
	h := newHarness(t)
	for i := 1; i <= 3; i++ {
		h.tr.AddPeer(testutil.PeerID(i), 30*time.Millisecond)
	}
	h.sample(t)

	rep, err := h.c.RunNetworkTroubleshooting(context.Background())
	require.NoError(t, err)
	assert.True(t, hasIssue(rep.Issues, types.IssueBandwidth, types.SeverityLow))
	assert.False(t, rep.CanAutoFix)
}

func TestTroubleshooting_CanceledContext(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rep, err := h.c.RunNetworkTroubleshooting(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotEmpty(t, rep.ID)
}

func TestPeriodicSampling_AndDestroy(t *testing.T) {
	h := newHarness(t)
	h.tr.AddPeer(testutil.PeerID(1), 10*time.Millisecond)
	require.NoError(t, h.c.Initialize(context.Background()))
	require.Equal(t, 1, h.rec.Count(events.EventTypeMetricsUpdated))

	time.Sleep(20 * time.Millisecond)
	h.clk.Add(testConfig().SampleInterval)
	assert.Eventually(t, func() bool {
		return h.rec.Count(events.EventTypeMetricsUpdated) == 2
	}, time.Second, 5*time.Millisecond)

	h.c.Destroy()
	assert.Equal(t, 0, h.tr.HandlerCount())
	assert.ErrorIs(t, h.c.Initialize(context.Background()), ErrDestroyed)

	h.clk.Add(10 * testConfig().SampleInterval)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 2, h.rec.Count(events.EventTypeMetricsUpdated))
}
