package centralized

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	benclock "github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	resilienceconfig "github.com/weisyn/meshguard/internal/config/resilience"
	"github.com/weisyn/meshguard/internal/core/resilience/degradation"
	"github.com/weisyn/meshguard/pkg/types"
)

type recordingSink struct {
	mu      sync.Mutex
	updates []types.CentralizedHealth
}

func (s *recordingSink) UpdateCentralizedMetrics(h types.CentralizedHealth) {
	s.mu.Lock()
	s.updates = append(s.updates, h)
	s.mu.Unlock()
}

func (s *recordingSink) all() []types.CentralizedHealth {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.CentralizedHealth(nil), s.updates...)
}

// flakyServer 按 healthy 开关返回 200 或 503
func flakyServer(t *testing.T) (*httptest.Server, *atomic.Bool, *atomic.Int32) {
	t.Helper()
	var healthy atomic.Bool
	var hits atomic.Int32
	healthy.Store(true)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if !healthy.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	t.Cleanup(srv.Close)
	return srv, &healthy, &hits
}

func testConfig(url string) resilienceconfig.CentralizedOptions {
	cfg := resilienceconfig.DefaultOptions().Centralized
	cfg.HealthURL = url
	cfg.WindowSize = 4
	return cfg
}

func TestProber_SlidingWindowFailureRate(t *testing.T) {
	srv, healthy, _ := flakyServer(t)
	sink := &recordingSink{}
	p := NewProber(testConfig(srv.URL), srv.Client(), sink, benclock.NewMock(), nil)
	ctx := context.Background()

	require.True(t, p.ProbeNow(ctx))
	h := p.Health()
	assert.True(t, h.Connected)
	assert.Zero(t, h.FailureRate)
	assert.NoError(t, p.LastError())

	healthy.Store(false)
	require.True(t, p.ProbeNow(ctx))
	h = p.Health()
	assert.False(t, h.Connected)
	assert.Equal(t, 0.5, h.FailureRate)
	assert.Error(t, p.LastError())

	// 窗口大小 4：再失败 3 次后窗口内全是失败
	for i := 0; i < 3; i++ {
		p.ProbeNow(ctx)
	}
	assert.Equal(t, 1.0, p.Health().FailureRate)

	healthy.Store(true)
	p.ProbeNow(ctx)
	h = p.Health()
	assert.True(t, h.Connected)
	assert.Equal(t, 0.75, h.FailureRate)

	assert.Len(t, sink.all(), 6)
}

func TestProber_UnreachableServer(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	sink := &recordingSink{}
	p := NewProber(testConfig(url), nil, sink, nil, nil)
	require.True(t, p.ProbeNow(context.Background()))

	h := p.Health()
	assert.False(t, h.Connected)
	assert.Equal(t, 1.0, h.FailureRate)
	assert.Zero(t, h.LatencyMs)
}

func TestConnectivityCheck_TimeoutFollowsClock(t *testing.T) {
	var hits atomic.Int32
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })

	clk := benclock.NewMock()
	cfg := testConfig(srv.URL)
	p := NewProber(cfg, srv.Client(), &recordingSink{}, clk, nil)

	done := make(chan bool, 1)
	go func() { done <- p.ProbeNow(context.Background()) }()
	require.Eventually(t, func() bool { return hits.Load() == 1 }, time.Second, 5*time.Millisecond)

	// 真实时间远未到 ProbeTimeout，只有推进 Mock 时钟才会超时
	clk.Add(cfg.ProbeTimeout)
	select {
	case ok := <-done:
		assert.True(t, ok)
	case <-time.After(time.Second):
		t.Fatal("检测未随注入时钟超时")
	}
	require.Error(t, p.LastError())
	assert.False(t, p.Health().Connected)
	assert.Equal(t, 1.0, p.Health().FailureRate)
}

func TestProber_MeasuresLatency(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(15 * time.Millisecond)
	}))
	defer srv.Close()

	p := NewProber(testConfig(srv.URL), srv.Client(), nil, nil, nil)
	p.ProbeNow(context.Background())
	assert.GreaterOrEqual(t, p.Health().LatencyMs, 15.0)
}

func TestProber_NotConfigured(t *testing.T) {
	sink := &recordingSink{}
	p := NewProber(testConfig(""), nil, sink, benclock.NewMock(), nil)

	require.NoError(t, p.Start(context.Background()))
	defer p.Stop()

	updates := sink.all()
	require.Len(t, updates, 1)
	assert.False(t, updates[0].Connected)
	assert.Equal(t, 1.0, updates[0].FailureRate)

	_, err := p.check(context.Background())
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestProber_PeriodicProbing(t *testing.T) {
	srv, _, hits := flakyServer(t)
	clk := benclock.NewMock()
	p := NewProber(testConfig(srv.URL), srv.Client(), &recordingSink{}, clk, nil)

	require.NoError(t, p.Start(context.Background()))
	assert.EqualValues(t, 1, hits.Load())

	time.Sleep(20 * time.Millisecond)
	clk.Add(testConfig(srv.URL).ProbeInterval)
	assert.Eventually(t, func() bool { return hits.Load() == 2 }, time.Second, 5*time.Millisecond)

	p.Stop()
	clk.Add(5 * testConfig(srv.URL).ProbeInterval)
	time.Sleep(20 * time.Millisecond)
	assert.EqualValues(t, 2, hits.Load())
}

// 中心化路径恢复后，控制器能从 OFFLINE 回到 HYBRID
func TestProber_DrivesController(t *testing.T) {
	srv, _, _ := flakyServer(t)
	clk := benclock.NewMock()
	ctrl := degradation.NewController(resilienceconfig.DefaultOptions().Degradation, clk, nil, nil)
	require.NoError(t, ctrl.SetOperationMode(context.Background(), types.ModeOffline, "test"))

	p := NewProber(testConfig(srv.URL), srv.Client(), ctrl, clk, nil)
	p.ProbeNow(context.Background())
	assert.True(t, ctrl.GetMetrics().CentralizedHealth.Connected)

	_, err := ctrl.Evaluate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, types.ModeHybrid, ctrl.GetCurrentMode())
}
