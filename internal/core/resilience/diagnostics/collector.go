// Package diagnostics 健康与诊断采集器
//
// 叶子组件：只消费传输层的连接状态通知与 ping 结果，周期性生成可观测快照
// （网络状态、逐 peer 指标、发现服务状态、问题与建议、健康评分、性能聚合），
// 并按需执行排障。不修改任何控制状态，快照通过 network.metrics.updated 发布。
package diagnostics

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	benclock "github.com/benbjohnson/clock"
	"github.com/libp2p/go-libp2p/core/peer"

	resilienceconfig "github.com/weisyn/meshguard/internal/config/resilience"
	"github.com/weisyn/meshguard/internal/core/infrastructure/schedule"
	"github.com/weisyn/meshguard/internal/core/resilience/quality"
	"github.com/weisyn/meshguard/pkg/constants/events"
	"github.com/weisyn/meshguard/pkg/interfaces/infrastructure/clock"
	"github.com/weisyn/meshguard/pkg/interfaces/infrastructure/event"
	"github.com/weisyn/meshguard/pkg/interfaces/infrastructure/log"
	"github.com/weisyn/meshguard/pkg/interfaces/resilience"
	"github.com/weisyn/meshguard/pkg/types"
)

var (
	// ErrNoTransport 未注入 Transport
	ErrNoTransport = errors.New("diagnostics: transport is required")
	// ErrAlreadyInitialized 重复初始化
	ErrAlreadyInitialized = errors.New("diagnostics: already initialized")
	// ErrDestroyed 已销毁
	ErrDestroyed = errors.New("diagnostics: collector destroyed")
)

const (
	// maxConcurrentPings 单轮采样的并发 ping 上限
	maxConcurrentPings = 8
	// staleAfterCycles 断开的 peer 超过该轮数无活动后从快照中移除
	staleAfterCycles = 10
)

// Deps 采集器的协作方；除 Transport 外均可为 nil
type Deps struct {
	Transport resilience.Transport
	Inspector resilience.PeerInspector      // 为 nil 时尝试从 Transport 断言
	Discovery resilience.Discovery          // 排障时测试发现产出
	Overlay   resilience.OverlayStatus      // 发现服务状态
	Prober    resilience.ConnectivityProber // STUN 基础连通性探测
}

// Collector 健康与诊断采集器
type Collector struct {
	cfg       resilienceconfig.DiagnosticsOptions
	transport resilience.Transport
	inspector resilience.PeerInspector
	discovery resilience.Discovery
	overlay   resilience.OverlayStatus
	prober    resilience.ConnectivityProber
	clk       clock.Clock
	eventBus  event.EventBus // 可为 nil
	logger    log.Logger     // 可为 nil

	mu           sync.RWMutex
	peers        map[peer.ID]*types.PeerConnectionMetrics
	snapshot     types.NetworkDiagnostics
	connSuccess  int64
	connFailure  int64
	msgSent      int64
	msgDelivered int64
	initialized  bool
	destroyed    bool

	job         *schedule.Job
	unsubscribe func()

	// 运行控制
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewCollector 创建采集器；clk 为 nil 时使用系统时钟
func NewCollector(
	cfg resilienceconfig.DiagnosticsOptions,
	deps Deps,
	clk clock.Clock,
	eventBus event.EventBus,
	logger log.Logger,
) (*Collector, error) {
	if deps.Transport == nil {
		return nil, ErrNoTransport
	}
	if clk == nil {
		clk = benclock.New()
	}
	inspector := deps.Inspector
	if inspector == nil {
		inspector, _ = deps.Transport.(resilience.PeerInspector)
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Collector{
		cfg:       cfg,
		transport: deps.Transport,
		inspector: inspector,
		discovery: deps.Discovery,
		overlay:   deps.Overlay,
		prober:    deps.Prober,
		clk:       clk,
		eventBus:  eventBus,
		logger:    logger,
		peers:     make(map[peer.ID]*types.PeerConnectionMetrics),
		ctx:       ctx,
		cancel:    cancel,
	}
	c.snapshot = types.NetworkDiagnostics{
		Troubleshooting: types.TroubleshootingSummary{HealthScore: CalculateHealthScore(types.NetworkStatus{}, false, 0)},
		Performance:     types.PerformanceMetrics{ConnectionSuccessRate: 100, MessageDeliveryRate: 100},
	}
	c.job = schedule.NewJob("diagnostics.sample", cfg.SampleInterval, clk, c.sample, logger)
	return c, nil
}

// Initialize 订阅连接状态通知，立即采样一次，然后启动周期采样
func (c *Collector) Initialize(ctx context.Context) error {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return ErrDestroyed
	}
	if c.initialized {
		c.mu.Unlock()
		return ErrAlreadyInitialized
	}
	c.initialized = true
	c.mu.Unlock()

	c.unsubscribe = c.transport.SubscribeConnectionState(c.handleConnectionState)
	c.job.TriggerNow(ctx)

	if err := c.job.Start(c.ctx); err != nil {
		return fmt.Errorf("start sampling job: %w", err)
	}
	if c.logger != nil {
		c.logger.Infof("诊断采集器已启动: interval=%s ping_timeout=%s", c.cfg.SampleInterval, c.cfg.PingTimeout)
	}
	return nil
}

// Destroy 停止采样并取消订阅；可重复调用
func (c *Collector) Destroy() {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return
	}
	c.destroyed = true
	unsubscribe := c.unsubscribe
	c.unsubscribe = nil
	c.mu.Unlock()

	c.cancel()
	c.job.Stop()
	if unsubscribe != nil {
		unsubscribe()
	}
	c.wg.Wait()

	if c.logger != nil {
		c.logger.Info("诊断采集器已销毁")
	}
}

// SampleNow 立即执行一轮采样（与周期任务互斥），返回是否执行
func (c *Collector) SampleNow(ctx context.Context) bool {
	return c.job.TriggerNow(ctx)
}

// GetNetworkDiagnostics 返回最近一次采样的快照（深拷贝，不阻塞在 I/O 上）
func (c *Collector) GetNetworkDiagnostics() types.NetworkDiagnostics {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshot.Clone()
}

// RecordMessage 记录一次消息投递结果，用于消息送达率
func (c *Collector) RecordMessage(delivered bool) {
	c.mu.Lock()
	c.msgSent++
	if delivered {
		c.msgDelivered++
	}
	c.mu.Unlock()
}

// ============================================================================
//                              连接状态
// ============================================================================

func (c *Collector) handleConnectionState(change types.ConnectionStateChange) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.destroyed {
		return
	}

	at := change.At
	if at.IsZero() {
		at = c.clk.Now()
	}

	rec, known := c.peers[change.PeerID]
	if !known {
		rec = &types.PeerConnectionMetrics{PeerID: change.PeerID, Quality: types.QualityGood}
		c.peers[change.PeerID] = rec
	}
	wasDown := known && (rec.ConnectionState == types.ConnectionDisconnected || rec.ConnectionState == types.ConnectionFailed)

	switch change.State {
	case types.ConnectionConnecting:
		if wasDown {
			rec.ReconnectAttempts++
		}
	case types.ConnectionConnected:
		c.connSuccess++
		if wasDown {
			rec.ReconnectAttempts++
		}
		rec.ConnectedAt = at
	case types.ConnectionFailed:
		c.connFailure++
	case types.ConnectionDisconnected:
	}
	rec.ConnectionState = change.State
	rec.LastActivity = at
}

// ============================================================================
//                              采样
// ============================================================================

type pingResult struct {
	id  peer.ID
	rtt time.Duration
	err error
}

// sample 一轮采样：并发有界 ping，更新逐 peer 指标与网络状态，重算问题与评分
func (c *Collector) sample(ctx context.Context) {
	if !c.enter() {
		return
	}
	defer c.wg.Done()

	connected := c.transport.ConnectedPeers()
	results := c.pingAll(ctx, connected)

	var stats map[peer.ID]types.PeerTransportStats
	if c.inspector != nil {
		stats = make(map[peer.ID]types.PeerTransportStats, len(connected))
		for _, id := range connected {
			if s, ok := c.inspector.PeerStats(id); ok {
				stats[id] = s
			}
		}
	}

	overlay := types.DHTStatus{}
	if c.overlay != nil {
		overlay.Running = c.overlay.IsRunning()
		overlay.RoutingTableSize = c.overlay.RoutingTableSize()
	}

	c.mu.Lock()
	now := c.clk.Now()
	overlay.LastChecked = now
	attempted, lost := c.applyResultsLocked(connected, results, stats, now)
	c.pruneLocked(connected, now)
	c.snapshot = c.buildSnapshotLocked(overlay, attempted, lost, now)
	snap := c.snapshot.Clone()
	c.mu.Unlock()

	if c.eventBus != nil {
		c.eventBus.Publish(events.EventTypeMetricsUpdated, types.MetricsUpdatedEvent{Diagnostics: snap})
	}
	if c.logger != nil {
		c.logger.Debugf("诊断采样完成: peers=%d latency=%.1fms score=%d issues=%d",
			snap.Network.PeerCount, snap.Network.LatencyMs, snap.Troubleshooting.HealthScore, len(snap.Troubleshooting.Issues))
	}
}

func (c *Collector) enter() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.destroyed {
		return false
	}
	c.wg.Add(1)
	return true
}

// pingAll 并发 ping，每次受 PingTimeout 约束；单个失败不影响其他 peer
func (c *Collector) pingAll(ctx context.Context, peers []peer.ID) []pingResult {
	sem := make(chan struct{}, maxConcurrentPings)
	results := make([]pingResult, len(peers))

	var wg sync.WaitGroup
	for i, id := range peers {
		wg.Add(1)
		go func(i int, id peer.ID) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				results[i] = pingResult{id: id, err: ctx.Err()}
				return
			}
			defer func() { <-sem }()

			pctx, cancel := c.clk.WithTimeout(ctx, c.cfg.PingTimeout)
			defer cancel()
			rtt, err := c.transport.Ping(pctx, id)
			if err == nil && pctx.Err() != nil {
				err = pctx.Err()
			}
			results[i] = pingResult{id: id, rtt: rtt, err: err}
		}(i, id)
	}
	wg.Wait()
	return results
}

// applyResultsLocked 把 ping 结果与传输层统计写入逐 peer 指标
// 失败的 ping 只计入丢包，保留上一次的时延
func (c *Collector) applyResultsLocked(
	connected []peer.ID,
	results []pingResult,
	stats map[peer.ID]types.PeerTransportStats,
	now time.Time,
) (attempted, lost int) {
	for _, id := range connected {
		rec, ok := c.peers[id]
		if !ok {
			rec = &types.PeerConnectionMetrics{PeerID: id, ConnectedAt: now, Quality: types.QualityGood}
			c.peers[id] = rec
		}
		rec.ConnectionState = types.ConnectionConnected
		if rec.ConnectedAt.IsZero() {
			rec.ConnectedAt = now
		}
	}

	for _, r := range results {
		rec := c.peers[r.id]
		attempted++
		rec.PacketsSent++
		if r.err != nil {
			lost++
			rec.PacketsLost++
			if c.logger != nil {
				c.logger.Debugf("诊断 ping 失败: peer=%s err=%v", r.id, r.err)
			}
		} else {
			rec.PacketsReceived++
			rec.LatencyMs = float64(r.rtt) / float64(time.Millisecond)
			rec.LastActivity = now
		}
		rec.Quality = quality.Classify(rec.LatencyMs, quality.LossRate(rec.PacketsLost, rec.PacketsReceived))
	}

	for _, id := range connected {
		rec := c.peers[id]
		rec.ConnectionDuration = now.Sub(rec.ConnectedAt)
		if s, ok := stats[id]; ok {
			rec.Bandwidth = s.Bandwidth
			rec.Addresses = append([]string(nil), s.Addresses...)
			rec.Protocols = append([]string(nil), s.Protocols...)
			if !s.ConnectedAt.IsZero() {
				rec.ConnectedAt = s.ConnectedAt
				rec.ConnectionDuration = now.Sub(s.ConnectedAt)
			}
		}
	}
	return attempted, lost
}

// pruneLocked 通知丢失时以 ConnectedPeers 为准；长期无活动的断开 peer 移出快照
func (c *Collector) pruneLocked(connected []peer.ID, now time.Time) {
	live := make(map[peer.ID]struct{}, len(connected))
	for _, id := range connected {
		live[id] = struct{}{}
	}
	staleAfter := time.Duration(staleAfterCycles) * c.cfg.SampleInterval
	for id, rec := range c.peers {
		if _, ok := live[id]; ok {
			continue
		}
		if rec.ConnectionState == types.ConnectionConnected {
			rec.ConnectionState = types.ConnectionDisconnected
			rec.LastActivity = now
		}
		if staleAfter > 0 && now.Sub(rec.LastActivity) > staleAfter {
			delete(c.peers, id)
		}
	}
}

// buildSnapshotLocked 由逐 peer 指标聚合网络状态、问题、评分与性能
func (c *Collector) buildSnapshotLocked(dht types.DHTStatus, attempted, lost int, now time.Time) types.NetworkDiagnostics {
	peers := make([]types.PeerConnectionMetrics, 0, len(c.peers))
	var (
		connectedCount int
		latencySum     float64
		measured       int
		bandwidth      types.BandwidthStats
	)
	for _, rec := range c.peers {
		peers = append(peers, rec.Clone())
		if rec.ConnectionState != types.ConnectionConnected {
			continue
		}
		connectedCount++
		if rec.PacketsReceived > 0 {
			latencySum += rec.LatencyMs
			measured++
		}
		bandwidth.InRate += rec.Bandwidth.InRate
		bandwidth.OutRate += rec.Bandwidth.OutRate
		bandwidth.TotalIn += rec.Bandwidth.TotalIn
		bandwidth.TotalOut += rec.Bandwidth.TotalOut
	}
	sort.Slice(peers, func(i, j int) bool { return peers[i].PeerID < peers[j].PeerID })

	status := types.NetworkStatus{
		Connected:    connectedCount > 0,
		PeerCount:    connectedCount,
		DHTConnected: dht.Running,
		UpdatedAt:    now,
	}
	if measured > 0 {
		status.LatencyMs = latencySum / float64(measured)
	}
	if attempted > 0 {
		status.FailureRate = float64(lost) / float64(attempted)
	}

	issues := detectIssues(c.cfg, status, dht, peers, now)
	issues = carryResolved(c.snapshot.Troubleshooting.Issues, issues)

	return types.NetworkDiagnostics{
		Network: status,
		Peers:   peers,
		DHT:     dht,
		Troubleshooting: types.TroubleshootingSummary{
			Issues:          issues,
			Recommendations: recommendationsFor(issues),
			HealthScore:     CalculateHealthScore(status, dht.Running, countPoor(peers)),
		},
		Performance: types.PerformanceMetrics{
			AverageLatencyMs:      status.LatencyMs,
			TotalBandwidth:        bandwidth,
			ConnectionSuccessRate: percent(c.connSuccess, c.connSuccess+c.connFailure),
			MessageDeliveryRate:   percent(c.msgDelivered, c.msgSent),
		},
		CollectedAt: now,
	}
}

// percent 无样本时视为 100%
func percent(part, total int64) float64 {
	if total <= 0 {
		return 100
	}
	return float64(part) / float64(total) * 100
}

var _ resilience.DiagnosticsService = (*Collector)(nil)
