// Package recovery 恢复管理器
//
// 唯一主动修复连通性的组件，工作在两个粒度上：
//   - 单个 peer：周期性有界 ping 健康检查，失败累积到阈值后按指数退避重连；
//   - 全网：健康比例过低时判定分区，执行引导节点重连、主动发现与 overlay 重新加入。
//
// 不健康 peer 过多时直接替换，而不是无限期逐个重试。
package recovery

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
	ErrNoTransport = errors.New("recovery: transport is required")
	// ErrAlreadyRunning 重复启动
	ErrAlreadyRunning = errors.New("recovery: already running")
	// ErrDestroyed 已销毁
	ErrDestroyed = errors.New("recovery: manager destroyed")
)

// 健康检查中丢包估计的步进
const lossStep = 0.1

// recoveryState 单个 peer 的重连状态
type recoveryState struct {
	attempts   int
	timer      *clock.Timer
	gen        uint64 // 每次调度递增，过期的定时器回调据此丢弃
	inProgress bool
}

// emission 待发布的事件（锁外发布）
type emission struct {
	eventType event.EventType
	payload   interface{}
}

// Manager 恢复管理器
type Manager struct {
	cfg       resilienceconfig.RecoveryOptions
	transport resilience.Transport
	discovery resilience.Discovery // 可为 nil
	clk       clock.Clock
	eventBus  event.EventBus // 可为 nil
	logger    log.Logger     // 可为 nil
	backoff   Backoff

	mu             sync.Mutex
	records        map[peer.ID]*types.PeerHealth
	recovery       map[peer.ID]*recoveryState
	partition      *types.NetworkPartition
	partitionTimer *clock.Timer
	lastCheck      time.Time
	destroyed      bool

	job         *schedule.Job
	unsubscribe func()

	// 运行控制
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// NewManager 创建恢复管理器
//
// discovery / eventBus / logger 均可为 nil；clk 为 nil 时使用系统时钟。
func NewManager(
	cfg resilienceconfig.RecoveryOptions,
	transport resilience.Transport,
	discovery resilience.Discovery,
	clk clock.Clock,
	eventBus event.EventBus,
	logger log.Logger,
) (*Manager, error) {
	if transport == nil {
		return nil, ErrNoTransport
	}
	if clk == nil {
		clk = benclock.New()
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		cfg:       cfg,
		transport: transport,
		discovery: discovery,
		clk:       clk,
		eventBus:  eventBus,
		logger:    logger,
		backoff:   NewBackoff(cfg.InitialReconnectDelay, cfg.MaxReconnectDelay, cfg.BackoffMultiplier),
		records:   make(map[peer.ID]*types.PeerHealth),
		recovery:  make(map[peer.ID]*recoveryState),
		ctx:       ctx,
		cancel:    cancel,
	}
	m.job = schedule.NewJob("recovery.health_check", cfg.HealthCheckInterval, clk, m.runHealthCheck, logger)
	return m, nil
}

// Start 订阅连接状态并启动健康检查周期
func (m *Manager) Start() error {
	m.mu.Lock()
	if m.destroyed {
		m.mu.Unlock()
		return ErrDestroyed
	}
	if m.running {
		m.mu.Unlock()
		return ErrAlreadyRunning
	}
	m.running = true
	m.mu.Unlock()

	m.unsubscribe = m.transport.SubscribeConnectionState(m.handleConnectionState)

	if err := m.job.Start(m.ctx); err != nil {
		return fmt.Errorf("start health check job: %w", err)
	}

	if m.logger != nil {
		m.logger.Infof("恢复管理器已启动: interval=%s ping_timeout=%s max_failures=%d max_attempts=%d",
			m.cfg.HealthCheckInterval, m.cfg.PingTimeout, m.cfg.MaxConsecutiveFailures, m.cfg.MaxReconnectAttempts)
	}
	return nil
}

// Destroy 取消全部周期任务与定时器，等待进行中的回调结束；之后不会再有任何回调触发
func (m *Manager) Destroy() {
	m.mu.Lock()
	if m.destroyed {
		m.mu.Unlock()
		return
	}
	m.destroyed = true
	for _, st := range m.recovery {
		if st.timer != nil {
			st.timer.Stop()
			st.timer = nil
		}
	}
	if m.partitionTimer != nil {
		m.partitionTimer.Stop()
		m.partitionTimer = nil
	}
	unsubscribe := m.unsubscribe
	m.unsubscribe = nil
	m.mu.Unlock()

	m.cancel()
	m.job.Stop()
	if unsubscribe != nil {
		unsubscribe()
	}
	m.wg.Wait()

	if m.logger != nil {
		m.logger.Info("恢复管理器已销毁")
	}
}

// enter 登记一个后台回调；已销毁时返回 false
func (m *Manager) enter() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.destroyed {
		return false
	}
	m.wg.Add(1)
	return true
}

func (m *Manager) publish(list []emission) {
	if m.eventBus == nil {
		return
	}
	for _, e := range list {
		m.eventBus.Publish(e.eventType, e.payload)
	}
}

// ============================================================================
//                              健康检查
// ============================================================================

// pingResult 单个 peer 的探测结果
type pingResult struct {
	id  peer.ID
	rtt time.Duration
	err error
}

// RunHealthCheck 立即执行一轮健康检查（与周期任务互斥）
func (m *Manager) RunHealthCheck(ctx context.Context) bool {
	return m.job.TriggerNow(ctx)
}

// runHealthCheck 一轮健康检查：并发有界 ping，然后评估分区、替换与整体健康
func (m *Manager) runHealthCheck(ctx context.Context) {
	if !m.enter() {
		return
	}
	defer m.wg.Done()

	peers := m.transport.ConnectedPeers()
	results := m.pingAll(ctx, peers)

	var out []emission
	m.mu.Lock()
	now := m.clk.Now()
	for _, r := range results {
		out = append(out, m.applyPingResultLocked(r, now)...)
	}
	m.lastCheck = now
	total, healthy, unhealthy := m.countLocked()
	ratio := healthyRatio(healthy, total)
	out = append(out, m.evaluatePartitionLocked(ratio, total, unhealthy, now)...)
	// 已放弃的 peer 只参与本轮分区判定
	m.pruneAbandonedLocked(peers)
	startPartitionRecovery := containsType(out, events.EventTypeNetworkPartitionDetected)
	m.mu.Unlock()

	m.publish(out)

	if startPartitionRecovery {
		m.launch(func(ctx context.Context) {
			if err := m.recoverPartition(ctx); err != nil && m.logger != nil {
				m.logger.Warnf("分区恢复部分失败: %v", err)
			}
		})
	}

	m.replaceUnhealthy(ctx)

	health := m.GetNetworkHealth()
	m.publish([]emission{{events.EventTypeNetworkHealthUpdate, types.NetworkHealthUpdateEvent{Health: health}}})

	if m.logger != nil {
		m.logger.Debugf("健康检查完成: total=%d healthy=%d ratio=%.2f pending=%d",
			health.TotalPeers, health.HealthyPeers, health.HealthyRatio, health.PendingRecoveries)
	}
}

// pingAll 以 MaxConcurrentPings 为上限并发 ping，每次 ping 受 PingTimeout 约束
func (m *Manager) pingAll(ctx context.Context, peers []peer.ID) []pingResult {
	limit := m.cfg.MaxConcurrentPings
	if limit <= 0 {
		limit = 1
	}
	sem := make(chan struct{}, limit)
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

			pctx, cancel := m.clk.WithTimeout(ctx, m.cfg.PingTimeout)
			defer cancel()
			rtt, err := m.transport.Ping(pctx, id)
			if err == nil && pctx.Err() != nil {
				err = pctx.Err()
			}
			results[i] = pingResult{id: id, rtt: rtt, err: err}
		}(i, id)
	}
	wg.Wait()
	return results
}

// applyPingResultLocked 根据 ping 结果更新健康记录
func (m *Manager) applyPingResultLocked(r pingResult, now time.Time) []emission {
	rec, ok := m.records[r.id]
	if !ok {
		rec = &types.PeerHealth{PeerID: r.id, IsHealthy: true, Quality: types.QualityGood, LastSeen: now}
		m.records[r.id] = rec
	}

	var out []emission
	if r.err == nil {
		wasHealthy := rec.IsHealthy
		rec.LatencyMs = float64(r.rtt) / float64(time.Millisecond)
		rec.LastSeen = now
		rec.PacketLoss -= lossStep
		if rec.PacketLoss < 0 {
			rec.PacketLoss = 0
		}
		rec.ConsecutiveFailures = 0
		rec.IsHealthy = true
		rec.Quality = quality.Classify(rec.LatencyMs, rec.PacketLoss)

		// 能 ping 通就不再需要排队中的重连
		if st, ok := m.recovery[r.id]; ok && !st.inProgress {
			m.clearRecoveryLocked(r.id)
		}
		if !wasHealthy {
			out = append(out, emission{events.EventTypePeerHealthy, types.PeerHealthEvent{PeerID: r.id, Health: *rec}})
		}
		return out
	}

	rec.ConsecutiveFailures++
	rec.PacketLoss += lossStep
	if rec.PacketLoss > 1 {
		rec.PacketLoss = 1
	}
	rec.Quality = quality.Classify(rec.LatencyMs, rec.PacketLoss)
	out = append(out, emission{events.EventTypePeerHealthCheckFailed, types.PeerHealthCheckFailedEvent{
		PeerID:              r.id,
		ConsecutiveFailures: rec.ConsecutiveFailures,
		Error:               r.err.Error(),
	}})

	if rec.ConsecutiveFailures >= m.cfg.MaxConsecutiveFailures {
		rec.Quality = types.QualityCritical
		if rec.IsHealthy {
			rec.IsHealthy = false
			out = append(out, emission{events.EventTypePeerUnhealthy, types.PeerHealthEvent{PeerID: r.id, Health: *rec}})
		}
		m.scheduleRecoveryLocked(r.id)
	}
	return out
}

// pruneAbandonedLocked 丢弃已放弃的 peer：已断开、不健康且没有排队或进行中的重连
//
// 包括关闭自动重连后断开的 peer 与重连次数耗尽的 peer；它们不再参与健康比例。
func (m *Manager) pruneAbandonedLocked(connected []peer.ID) {
	live := toSet(connected)
	for id, rec := range m.records {
		if _, ok := live[id]; ok || rec.IsHealthy {
			continue
		}
		if st, ok := m.recovery[id]; ok && (st.timer != nil || st.inProgress) {
			continue
		}
		delete(m.records, id)
		delete(m.recovery, id)
		if m.logger != nil {
			m.logger.Debugf("放弃 peer: %s", id)
		}
	}
}

func (m *Manager) countLocked() (total, healthy int, unhealthy []peer.ID) {
	for id, rec := range m.records {
		total++
		if rec.IsHealthy {
			healthy++
		} else {
			unhealthy = append(unhealthy, id)
		}
	}
	sort.Slice(unhealthy, func(i, j int) bool { return unhealthy[i] < unhealthy[j] })
	return total, healthy, unhealthy
}

func healthyRatio(healthy, total int) float64 {
	if total == 0 {
		return 1
	}
	return float64(healthy) / float64(total)
}

func containsType(list []emission, et event.EventType) bool {
	for _, e := range list {
		if e.eventType == et {
			return true
		}
	}
	return false
}

// ============================================================================
//                              连接状态
// ============================================================================

// handleConnectionState 传输层连接状态回调
func (m *Manager) handleConnectionState(change types.ConnectionStateChange) {
	var out []emission

	m.mu.Lock()
	if m.destroyed {
		m.mu.Unlock()
		return
	}
	// 重连过程中由自身 Disconnect / Connect 引起的通知由 RecoverPeerConnection 处理
	if st, ok := m.recovery[change.PeerID]; ok && st.inProgress {
		m.mu.Unlock()
		return
	}

	now := m.clk.Now()
	switch change.State {
	case types.ConnectionConnected:
		rec, ok := m.records[change.PeerID]
		if !ok {
			m.records[change.PeerID] = &types.PeerHealth{
				PeerID:    change.PeerID,
				LastSeen:  now,
				Quality:   types.QualityGood,
				IsHealthy: true,
			}
			break
		}
		wasHealthy := rec.IsHealthy
		rec.LastSeen = now
		rec.IsHealthy = true
		if rec.Quality == types.QualityCritical {
			rec.Quality = quality.Classify(rec.LatencyMs, rec.PacketLoss)
		}
		m.clearRecoveryLocked(change.PeerID)
		if !wasHealthy {
			out = append(out, emission{events.EventTypePeerHealthy, types.PeerHealthEvent{PeerID: change.PeerID, Health: *rec}})
		}

	case types.ConnectionDisconnected, types.ConnectionFailed:
		rec, ok := m.records[change.PeerID]
		if !ok {
			break
		}
		wasHealthy := rec.IsHealthy
		rec.IsHealthy = false
		rec.Quality = types.QualityCritical
		if wasHealthy {
			out = append(out, emission{events.EventTypePeerUnhealthy, types.PeerHealthEvent{PeerID: change.PeerID, Health: *rec}})
		}
		if m.cfg.AutoReconnect {
			if st, ok := m.recovery[change.PeerID]; !ok || st.timer == nil {
				m.scheduleRecoveryLocked(change.PeerID)
			}
		}
	}
	m.mu.Unlock()

	m.publish(out)
}

// ============================================================================
//                              查询与强制操作
// ============================================================================

// GetNetworkHealth 网络健康快照（独立副本）
func (m *Manager) GetNetworkHealth() types.NetworkHealth {
	m.mu.Lock()
	defer m.mu.Unlock()

	total, healthy, _ := m.countLocked()
	h := types.NetworkHealth{
		TotalPeers:     total,
		HealthyPeers:   healthy,
		UnhealthyPeers: total - healthy,
		HealthyRatio:   healthyRatio(healthy, total),
		Peers:          make([]types.PeerHealth, 0, total),
		UpdatedAt:      m.lastCheck,
	}
	for _, st := range m.recovery {
		if st.timer != nil || st.inProgress {
			h.PendingRecoveries++
		}
	}
	for _, rec := range m.records {
		h.Peers = append(h.Peers, *rec)
	}
	sort.Slice(h.Peers, func(i, j int) bool { return h.Peers[i].PeerID < h.Peers[j].PeerID })
	if m.partition != nil {
		p := m.partition.Clone()
		h.Partition = &p
	}
	return h
}

// GetPeerHealth 单个 peer 的健康记录（副本）
func (m *Manager) GetPeerHealth(id peer.ID) (types.PeerHealth, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return types.PeerHealth{}, false
	}
	return *rec, true
}

// ForcePeerRecovery 人工触发重连：清空已用次数与排队中的定时器后立即尝试一次
func (m *Manager) ForcePeerRecovery(ctx context.Context, id peer.ID) bool {
	m.mu.Lock()
	if m.destroyed {
		m.mu.Unlock()
		return false
	}
	if st, ok := m.recovery[id]; ok && st.inProgress {
		m.mu.Unlock()
		return false
	}
	m.clearRecoveryLocked(id)
	m.mu.Unlock()

	return m.RecoverPeerConnection(ctx, id)
}

// ForceNetworkRecovery 立即执行一次全网恢复（引导节点、主动发现、overlay 重新加入）
func (m *Manager) ForceNetworkRecovery(ctx context.Context) error {
	if !m.enter() {
		return ErrDestroyed
	}
	defer m.wg.Done()

	if m.logger != nil {
		m.logger.Info("执行强制网络恢复")
	}
	return m.recoverPartition(ctx)
}

// launch 在后台执行 fn，ctx 在 Destroy 时取消
func (m *Manager) launch(fn func(ctx context.Context)) {
	if !m.enter() {
		return
	}
	go func() {
		defer m.wg.Done()
		fn(m.ctx)
	}()
}

var _ resilience.RecoveryService = (*Manager)(nil)
