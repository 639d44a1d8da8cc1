// Package degradation 降级控制器
//
// 持有两条通信路径（点对点 / 中心化）的健康指标，按优先级评估回退策略，
// 决定节点运行模式与各功能开关。模式切换是原子的：进入动作先作用在快照上，
// 全部切换钩子成功后才提交，任何一步失败都回滚到切换前的状态。
package degradation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	benclock "github.com/benbjohnson/clock"

	resilienceconfig "github.com/weisyn/meshguard/internal/config/resilience"
	"github.com/weisyn/meshguard/internal/core/infrastructure/schedule"
	"github.com/weisyn/meshguard/pkg/constants/events"
	"github.com/weisyn/meshguard/pkg/interfaces/infrastructure/clock"
	"github.com/weisyn/meshguard/pkg/interfaces/infrastructure/event"
	"github.com/weisyn/meshguard/pkg/interfaces/infrastructure/log"
	"github.com/weisyn/meshguard/pkg/interfaces/resilience"
	"github.com/weisyn/meshguard/pkg/types"
)

var (
	// ErrInvalidMode 未知运行模式
	ErrInvalidMode = errors.New("degradation: invalid operation mode")
	// ErrUnknownFeature 未知功能
	ErrUnknownFeature = errors.New("degradation: unknown feature")
	// ErrAlreadyRunning 重复启动
	ErrAlreadyRunning = errors.New("degradation: already running")
)

// initialReason 构造时的模式原因
const initialReason = "initial"

// TransitionHook 模式切换钩子，在提交前按注册顺序执行
// next 为即将提交的快照；返回错误会使整个切换回滚。钩子内不得再调用控制器的切换或开关方法
type TransitionHook func(ctx context.Context, from, to types.OperationMode, next types.DegradationMetrics) error

// emission 待发布的事件（锁外发布）
type emission struct {
	eventType event.EventType
	payload   interface{}
}

// Controller 降级控制器
type Controller struct {
	cfg      resilienceconfig.DegradationOptions
	clk      clock.Clock
	eventBus event.EventBus // 可为 nil
	logger   log.Logger     // 可为 nil

	// transitionMu 串行化模式切换；mu 保护状态，切换钩子执行期间不持有
	transitionMu sync.Mutex
	mu           sync.RWMutex
	metrics      types.DegradationMetrics
	strategies   []Strategy
	hooks        []TransitionHook

	job *schedule.Job

	// 运行控制
	ctx     context.Context
	cancel  context.CancelFunc
	running bool
}

// NewController 创建降级控制器，初始为 P2P_ONLY，全部功能启用
//
// clk 为 nil 时使用系统时钟；eventBus / logger 可为 nil。
func NewController(
	cfg resilienceconfig.DegradationOptions,
	clk clock.Clock,
	eventBus event.EventBus,
	logger log.Logger,
) *Controller {
	if clk == nil {
		clk = benclock.New()
	}

	now := clk.Now()
	features := make(map[types.Feature]types.FeatureToggle, len(types.AllFeatures()))
	for _, f := range types.AllFeatures() {
		features[f] = types.FeatureToggle{
			Feature:     f,
			Enabled:     true,
			LastToggled: now,
			Reason:      initialReason,
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		cfg:      cfg,
		clk:      clk,
		eventBus: eventBus,
		logger:   logger,
		metrics: types.DegradationMetrics{
			CurrentMode:      types.ModeP2POnly,
			FeatureStatus:    features,
			LastModeChange:   now,
			ModeChangeReason: initialReason,
		},
		ctx:    ctx,
		cancel: cancel,
	}
	c.strategies = defaultStrategies(cfg, clk)
	c.job = schedule.NewJob("degradation.evaluate", cfg.EvaluationInterval, clk, c.evaluateTick, logger)
	return c
}

// Start 启动周期评估
func (c *Controller) Start() error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return ErrAlreadyRunning
	}
	c.running = true
	c.mu.Unlock()

	if err := c.job.Start(c.ctx); err != nil {
		return fmt.Errorf("start evaluation job: %w", err)
	}
	if c.logger != nil {
		c.logger.Infof("降级控制器已启动: interval=%s min_peers=%d max_latency=%.0fms max_failure_rate=%.2f",
			c.cfg.EvaluationInterval, c.cfg.MinPeerCount, c.cfg.MaxLatencyMs, c.cfg.MaxFailureRate)
	}
	return nil
}

// Stop 停止周期评估并等待进行中的评估结束
func (c *Controller) Stop() {
	c.cancel()
	c.job.Stop()
	if c.logger != nil {
		c.logger.Info("降级控制器已停止")
	}
}

func (c *Controller) publish(list []emission) {
	if c.eventBus == nil {
		return
	}
	for _, e := range list {
		c.eventBus.Publish(e.eventType, e.payload)
	}
}

// ============================================================================
//                              模式切换
// ============================================================================

// AddTransitionHook 注册模式切换钩子
func (c *Controller) AddTransitionHook(hook TransitionHook) {
	if hook == nil {
		return
	}
	c.mu.Lock()
	c.hooks = append(c.hooks, hook)
	c.mu.Unlock()
}

// SetOperationMode 切换运行模式
//
// 目标模式与当前相同时不做任何事。进入动作作用于快照，钩子全部成功后一次性提交，
// 并恰好发布一次 degradation.mode.changed；失败时状态保持不变，返回原始错误。
func (c *Controller) SetOperationMode(ctx context.Context, mode types.OperationMode, reason string) error {
	if !mode.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidMode, mode)
	}

	c.transitionMu.Lock()
	defer c.transitionMu.Unlock()

	c.mu.RLock()
	from := c.metrics.CurrentMode
	if from == mode {
		c.mu.RUnlock()
		return nil
	}
	next := c.metrics.Clone()
	hooks := append([]TransitionHook(nil), c.hooks...)
	c.mu.RUnlock()

	now := c.clk.Now()
	out := applyEntryAction(&next, mode, reason, now)

	for _, hook := range hooks {
		if err := hook(ctx, from, mode, next.Clone()); err != nil {
			if c.logger != nil {
				c.logger.Errorf("模式切换失败，已回滚: from=%s to=%s reason=%s err=%v", from, mode, reason, err)
			}
			return err
		}
	}

	c.mu.Lock()
	c.metrics.CurrentMode = next.CurrentMode
	c.metrics.FeatureStatus = next.FeatureStatus
	c.metrics.LastModeChange = next.LastModeChange
	c.metrics.ModeChangeReason = next.ModeChangeReason
	c.mu.Unlock()

	out = append([]emission{{events.EventTypeModeChanged, types.ModeChangedEvent{
		From: from, To: mode, Reason: reason, At: now,
	}}}, out...)
	if mode == types.ModeOffline {
		if caps := c.cfg.LocalCapabilities.Names(); len(caps) > 0 {
			out = append(out, emission{events.EventTypeLocalCapabilities, types.LocalCapabilitiesEvent{Capabilities: caps, At: now}})
		}
	}
	c.publish(out)

	if c.logger != nil {
		c.logger.Warnf("运行模式切换: %s -> %s reason=%s", from, mode, reason)
	}
	return nil
}

// applyEntryAction 在快照上执行目标模式的进入动作，返回功能开关变化事件
//
//	P2P_ONLY          全部启用，不回退
//	HYBRID            保留启用状态，全部开启中心化回退
//	CENTRALIZED_ONLY  全部停用，全部开启中心化回退
//	OFFLINE           全部停用，不回退
func applyEntryAction(m *types.DegradationMetrics, mode types.OperationMode, reason string, now time.Time) []emission {
	m.CurrentMode = mode
	m.LastModeChange = now
	m.ModeChangeReason = reason

	var out []emission
	for _, f := range types.AllFeatures() {
		ft := m.FeatureStatus[f]
		ft.Feature = f
		enabled := ft.Enabled
		switch mode {
		case types.ModeP2POnly:
			enabled, ft.FallbackEnabled = true, false
		case types.ModeHybrid:
			ft.FallbackEnabled = true
		case types.ModeCentralizedOnly:
			enabled, ft.FallbackEnabled = false, true
		case types.ModeOffline:
			enabled, ft.FallbackEnabled = false, false
		}
		if enabled != ft.Enabled {
			ft.Enabled = enabled
			ft.LastToggled = now
			ft.Reason = reason
			out = append(out, emission{events.EventTypeFeatureToggled, types.FeatureToggledEvent{
				Feature: f, Enabled: enabled, Reason: reason, At: now,
			}})
		}
		m.FeatureStatus[f] = ft
	}
	return out
}

// ============================================================================
//                              指标输入
// ============================================================================

// UpdateP2PMetrics 用诊断采集器的网络状态刷新点对点路径指标
func (c *Controller) UpdateP2PMetrics(status types.NetworkStatus) {
	c.mu.Lock()
	c.metrics.P2PHealth = types.P2PHealth{
		Connected:   status.Connected,
		PeerCount:   status.PeerCount,
		LatencyMs:   status.LatencyMs,
		FailureRate: status.FailureRate,
	}
	c.mu.Unlock()
}

// UpdateCentralizedMetrics 刷新中心化路径指标
func (c *Controller) UpdateCentralizedMetrics(health types.CentralizedHealth) {
	c.mu.Lock()
	c.metrics.CentralizedHealth = health
	c.mu.Unlock()
}

// ============================================================================
//                              查询
// ============================================================================

// GetCurrentMode 当前运行模式
func (c *Controller) GetCurrentMode() types.OperationMode {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.metrics.CurrentMode
}

// GetMetrics 状态快照（深拷贝）
func (c *Controller) GetMetrics() types.DegradationMetrics {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.metrics.Clone()
}

// GetFeatureStatus 单个功能的开关状态
func (c *Controller) GetFeatureStatus(feature types.Feature) (types.FeatureToggle, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ft, ok := c.metrics.FeatureStatus[feature]
	return ft, ok
}

// IsFeatureEnabled 功能是否启用；未知功能返回 false
func (c *Controller) IsFeatureEnabled(feature types.Feature) bool {
	ft, ok := c.GetFeatureStatus(feature)
	return ok && ft.Enabled
}

// ShouldFallbackToCentralized 功能是否应走中心化路径：当前模式允许中心化，功能已停用且允许回退
func (c *Controller) ShouldFallbackToCentralized(feature types.Feature) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	mode := c.metrics.CurrentMode
	ft, ok := c.metrics.FeatureStatus[feature]
	return ok && (mode == types.ModeHybrid || mode == types.ModeCentralizedOnly) && !ft.Enabled && ft.FallbackEnabled
}

// CanUseP2P 当前模式是否允许点对点路径
func (c *Controller) CanUseP2P() bool {
	mode := c.GetCurrentMode()
	return mode == types.ModeP2POnly || mode == types.ModeHybrid
}

// CanUseCentralized 当前模式是否允许中心化路径
func (c *Controller) CanUseCentralized() bool {
	mode := c.GetCurrentMode()
	return mode == types.ModeHybrid || mode == types.ModeCentralizedOnly
}

// IsOfflineMode 是否离线
func (c *Controller) IsOfflineMode() bool {
	return c.GetCurrentMode() == types.ModeOffline
}

// ============================================================================
//                              功能开关
// ============================================================================

// EnableFeature 启用功能；已启用时不做任何事（保留原时间戳与原因）
func (c *Controller) EnableFeature(feature types.Feature, reason string) error {
	return c.toggle(feature, true, reason)
}

// DisableFeature 停用功能；已停用时不做任何事（保留原时间戳与原因）
func (c *Controller) DisableFeature(feature types.Feature, reason string) error {
	return c.toggle(feature, false, reason)
}

func (c *Controller) toggle(feature types.Feature, enabled bool, reason string) error {
	if !feature.IsValid() {
		return fmt.Errorf("%w: %q", ErrUnknownFeature, feature)
	}

	// 与模式切换互斥，避免提交快照时覆盖手动开关
	c.transitionMu.Lock()
	defer c.transitionMu.Unlock()

	c.mu.Lock()
	ft := c.metrics.FeatureStatus[feature]
	if ft.Enabled == enabled {
		c.mu.Unlock()
		return nil
	}
	now := c.clk.Now()
	ft.Feature = feature
	ft.Enabled = enabled
	ft.LastToggled = now
	ft.Reason = reason
	c.metrics.FeatureStatus[feature] = ft
	c.mu.Unlock()

	c.publish([]emission{{events.EventTypeFeatureToggled, types.FeatureToggledEvent{
		Feature: feature, Enabled: enabled, Reason: reason, At: now,
	}}})
	if c.logger != nil {
		c.logger.Infof("功能开关变化: feature=%s enabled=%t reason=%s", feature, enabled, reason)
	}
	return nil
}

// SetFeatureFallback 设置功能的中心化回退开关
func (c *Controller) SetFeatureFallback(feature types.Feature, fallback bool) error {
	if !feature.IsValid() {
		return fmt.Errorf("%w: %q", ErrUnknownFeature, feature)
	}
	c.transitionMu.Lock()
	defer c.transitionMu.Unlock()

	c.mu.Lock()
	ft := c.metrics.FeatureStatus[feature]
	ft.Feature = feature
	ft.FallbackEnabled = fallback
	c.metrics.FeatureStatus[feature] = ft
	c.mu.Unlock()
	return nil
}

// ============================================================================
//                              策略评估
// ============================================================================

// AddStrategy 注册自定义策略，按优先级降序插入（同优先级先注册者在前）
func (c *Controller) AddStrategy(s Strategy) {
	c.mu.Lock()
	c.strategies = append(c.strategies, s)
	sort.SliceStable(c.strategies, func(i, j int) bool { return c.strategies[i].Priority > c.strategies[j].Priority })
	c.mu.Unlock()
}

// Strategies 已注册策略（按评估顺序）
func (c *Controller) Strategies() []Strategy {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]Strategy(nil), c.strategies...)
}

// Evaluate 执行一轮评估：按优先级降序找到第一个触发的策略并执行其动作
//
// 每轮最多执行一个动作。返回执行的策略名，未触发时为空串。
// 高优先级策略持续触发时，低优先级策略在此期间不会被评估到。
func (c *Controller) Evaluate(ctx context.Context) (string, error) {
	c.mu.RLock()
	snapshot := c.metrics.Clone()
	strategies := append([]Strategy(nil), c.strategies...)
	c.mu.RUnlock()

	for _, s := range strategies {
		if !s.Trigger(snapshot) {
			continue
		}
		if c.logger != nil {
			c.logger.Debugf("策略触发: name=%s priority=%d mode=%s", s.Name, s.Priority, snapshot.CurrentMode)
		}
		if err := s.Action(ctx, c); err != nil {
			return s.Name, fmt.Errorf("strategy %s: %w", s.Name, err)
		}
		return s.Name, nil
	}
	return "", nil
}

func (c *Controller) evaluateTick(ctx context.Context) {
	if _, err := c.Evaluate(ctx); err != nil && c.logger != nil {
		c.logger.Warnf("降级策略执行失败: %v", err)
	}
}

var _ resilience.DegradationService = (*Controller)(nil)
