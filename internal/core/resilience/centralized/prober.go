// Package centralized 中心化路径健康探测
//
// 周期性对配置的健康检查地址发起 HTTP GET，以滑动窗口统计失败率，
// 并把 CentralizedHealth 推送给降级控制器。未配置地址时中心化路径始终视为不可用。
package centralized

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	benclock "github.com/benbjohnson/clock"

	resilienceconfig "github.com/weisyn/meshguard/internal/config/resilience"
	"github.com/weisyn/meshguard/internal/core/infrastructure/schedule"
	"github.com/weisyn/meshguard/pkg/interfaces/infrastructure/clock"
	"github.com/weisyn/meshguard/pkg/interfaces/infrastructure/log"
	"github.com/weisyn/meshguard/pkg/types"
)

// ErrNotConfigured 未配置健康检查地址
var ErrNotConfigured = errors.New("centralized: health url not configured")

// HealthSink 接收中心化路径健康状况（降级控制器实现）
type HealthSink interface {
	UpdateCentralizedMetrics(health types.CentralizedHealth)
}

// sample 一次探测结果
type sample struct {
	ok      bool
	latency time.Duration
}

// Prober 中心化路径健康探测器
type Prober struct {
	cfg    resilienceconfig.CentralizedOptions
	client *http.Client
	sink   HealthSink
	clk    clock.Clock
	logger log.Logger // 可为 nil

	mu      sync.RWMutex
	window  []sample
	next    int
	filled  int
	health  types.CentralizedHealth
	lastErr error

	job *schedule.Job
}

// NewProber 创建探测器；client 为 nil 时使用 http.DefaultClient，clk 为 nil 时使用系统时钟
func NewProber(
	cfg resilienceconfig.CentralizedOptions,
	client *http.Client,
	sink HealthSink,
	clk clock.Clock,
	logger log.Logger,
) *Prober {
	if client == nil {
		client = http.DefaultClient
	}
	if clk == nil {
		clk = benclock.New()
	}
	size := cfg.WindowSize
	if size <= 0 {
		size = 1
	}
	p := &Prober{
		cfg:    cfg,
		client: client,
		sink:   sink,
		clk:    clk,
		logger: logger,
		window: make([]sample, size),
		health: types.CentralizedHealth{Connected: false, FailureRate: 1},
	}
	p.job = schedule.NewJob("centralized.probe", cfg.ProbeInterval, clk, p.probeTick, logger)
	return p
}

// Start 立即探测一次并启动周期探测；未配置地址时只推送不可用状态
func (p *Prober) Start(ctx context.Context) error {
	if p.cfg.HealthURL == "" {
		p.push(p.Health())
		if p.logger != nil {
			p.logger.Info("未配置中心化健康检查地址，中心化路径视为不可用")
		}
		return nil
	}
	p.job.TriggerNow(ctx)
	if err := p.job.Start(context.Background()); err != nil {
		return fmt.Errorf("start probe job: %w", err)
	}
	if p.logger != nil {
		p.logger.Infof("中心化健康探测已启动: url=%s interval=%s", p.cfg.HealthURL, p.cfg.ProbeInterval)
	}
	return nil
}

// Stop 停止周期探测
func (p *Prober) Stop() {
	p.job.Stop()
}

// ProbeNow 立即探测一次（与周期任务互斥），返回是否执行
func (p *Prober) ProbeNow(ctx context.Context) bool {
	return p.job.TriggerNow(ctx)
}

// Health 最近一次计算的健康状况
func (p *Prober) Health() types.CentralizedHealth {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.health
}

// LastError 最近一次探测的错误，成功时为 nil
func (p *Prober) LastError() error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastErr
}

func (p *Prober) probeTick(ctx context.Context) {
	if p.cfg.HealthURL == "" {
		return
	}
	latency, err := p.check(ctx)
	health := p.record(sample{ok: err == nil, latency: latency}, err)
	p.push(health)

	if err != nil && p.logger != nil {
		p.logger.Warnf("中心化健康探测失败: url=%s err=%v failure_rate=%.2f", p.cfg.HealthURL, err, health.FailureRate)
	}
}

// check 一次 GET；2xx 视为健康
func (p *Prober) check(ctx context.Context) (time.Duration, error) {
	if p.cfg.HealthURL == "" {
		return 0, ErrNotConfigured
	}
	cctx, cancel := p.clk.WithTimeout(ctx, p.cfg.ProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(cctx, http.MethodGet, p.cfg.HealthURL, nil)
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	start := p.clk.Now()
	resp, err := p.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("get %s: %w", p.cfg.HealthURL, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	latency := p.clk.Since(start)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return latency, fmt.Errorf("get %s: unexpected status %d", p.cfg.HealthURL, resp.StatusCode)
	}
	return latency, nil
}

// record 写入滑动窗口并重算健康状况
func (p *Prober) record(s sample, err error) types.CentralizedHealth {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.window[p.next] = s
	p.next = (p.next + 1) % len(p.window)
	if p.filled < len(p.window) {
		p.filled++
	}
	p.lastErr = err

	var failures, okCount int
	var latencySum time.Duration
	for i := 0; i < p.filled; i++ {
		w := p.window[i]
		if !w.ok {
			failures++
			continue
		}
		okCount++
		latencySum += w.latency
	}

	h := types.CentralizedHealth{
		Connected:   s.ok,
		FailureRate: float64(failures) / float64(p.filled),
	}
	if okCount > 0 {
		h.LatencyMs = float64(latencySum) / float64(okCount) / float64(time.Millisecond)
	}
	p.health = h
	return h
}

func (p *Prober) push(h types.CentralizedHealth) {
	if p.sink != nil {
		p.sink.UpdateCentralizedMetrics(h)
	}
}
