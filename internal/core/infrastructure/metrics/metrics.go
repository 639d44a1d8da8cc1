// Package metrics 韧性控制回路的 Prometheus 指标
//
// 使用独立的 Registry：状态类指标以 GaugeFunc 在抓取时读取各组件快照，
// 事件类指标通过订阅事件总线累加。进程内存等运行时指标由 Go/Process collector 提供。
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/weisyn/meshguard/pkg/constants/events"
	"github.com/weisyn/meshguard/pkg/interfaces/infrastructure/event"
	"github.com/weisyn/meshguard/pkg/interfaces/infrastructure/log"
	"github.com/weisyn/meshguard/pkg/interfaces/resilience"
	"github.com/weisyn/meshguard/pkg/types"
)

const namespace = "meshguard"

// Sources 指标来源；任一为 nil 时对应指标恒为 0
type Sources struct {
	Diagnostics resilience.DiagnosticsService
	Degradation resilience.DegradationService
	Recovery    resilience.RecoveryService
}

// Metrics 指标注册表
type Metrics struct {
	registry *prometheus.Registry
	src      Sources
	logger   log.Logger

	eventsTotal *prometheus.CounterVec

	mu          sync.Mutex
	subscribed  map[types.EventType]func(payload interface{})
	subscribeTo event.EventBus
}

// New 创建并注册全部指标
func New(src Sources, logger log.Logger) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		src:      src,
		logger:   logger,
		eventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Resilience events published, by event type",
		}, []string{"type"}),
		subscribed: make(map[types.EventType]func(payload interface{})),
	}
	m.registerMetrics()
	return m
}

// registerMetrics 注册 Prometheus 指标
func (m *Metrics) registerMetrics() {
	gauge := func(name, help string, fn func() float64) prometheus.GaugeFunc {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{Namespace: namespace, Name: name, Help: help}, fn)
	}

	// 诊断
	healthScore := gauge("health_score", "Composite network health score (0-100)", func() float64 {
		if m.src.Diagnostics == nil {
			return 0
		}
		return float64(m.src.Diagnostics.GetNetworkDiagnostics().Troubleshooting.HealthScore)
	})
	connectedPeers := gauge("connected_peers", "Connected peers seen by the last diagnostics sample", func() float64 {
		if m.src.Diagnostics == nil {
			return 0
		}
		return float64(m.src.Diagnostics.GetNetworkDiagnostics().Network.PeerCount)
	})
	avgLatency := gauge("average_latency_ms", "Average peer round-trip latency in milliseconds", func() float64 {
		if m.src.Diagnostics == nil {
			return 0
		}
		return m.src.Diagnostics.GetNetworkDiagnostics().Network.LatencyMs
	})
	openIssues := gauge("open_issues", "Unresolved issues in the last diagnostics sample", func() float64 {
		if m.src.Diagnostics == nil {
			return 0
		}
		n := 0
		for _, is := range m.src.Diagnostics.GetNetworkDiagnostics().Troubleshooting.Issues {
			if !is.Resolved {
				n++
			}
		}
		return float64(n)
	})

	// 降级：每个模式一条序列，当前模式为 1
	modes := []types.OperationMode{types.ModeP2POnly, types.ModeHybrid, types.ModeCentralizedOnly, types.ModeOffline}
	for _, mode := range modes {
		mode := mode
		m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "operation_mode",
			Help:        "Current operation mode (1 for the active mode)",
			ConstLabels: prometheus.Labels{"mode": string(mode)},
		}, func() float64 {
			if m.src.Degradation != nil && m.src.Degradation.GetCurrentMode() == mode {
				return 1
			}
			return 0
		}))
	}
	enabledFeatures := gauge("enabled_features", "Number of enabled features", func() float64 {
		if m.src.Degradation == nil {
			return 0
		}
		n := 0
		for _, f := range m.src.Degradation.GetMetrics().FeatureStatus {
			if f.Enabled {
				n++
			}
		}
		return float64(n)
	})

	// 恢复
	healthyRatio := gauge("healthy_peer_ratio", "Healthy tracked peers divided by tracked peers", func() float64 {
		if m.src.Recovery == nil {
			return 0
		}
		return m.src.Recovery.GetNetworkHealth().HealthyRatio
	})
	pending := gauge("pending_recoveries", "Peers with a scheduled or running recovery", func() float64 {
		if m.src.Recovery == nil {
			return 0
		}
		return float64(m.src.Recovery.GetNetworkHealth().PendingRecoveries)
	})
	partition := gauge("partition_detected", "1 while a network partition is open", func() float64 {
		if m.src.Recovery == nil {
			return 0
		}
		if p := m.src.Recovery.GetNetworkHealth().Partition; p != nil && p.Detected {
			return 1
		}
		return 0
	})

	m.registry.MustRegister(
		healthScore,
		connectedPeers,
		avgLatency,
		openIssues,
		enabledFeatures,
		healthyRatio,
		pending,
		partition,
		m.eventsTotal,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// SubscribeEvents 订阅全部韧性事件并按类型计数
func (m *Metrics) SubscribeEvents(bus event.EventBus) {
	if bus == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.subscribeTo != nil {
		return
	}
	m.subscribeTo = bus
	for _, et := range events.AllEventTypes() {
		counter := m.eventsTotal.WithLabelValues(string(et))
		handler := func(payload interface{}) { counter.Inc() }
		if err := bus.Subscribe(et, handler); err != nil {
			if m.logger != nil {
				m.logger.Warnf("订阅事件失败: type=%s err=%v", et, err)
			}
			continue
		}
		m.subscribed[et] = handler
	}
}

// UnsubscribeEvents 取消事件订阅
func (m *Metrics) UnsubscribeEvents() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.subscribeTo == nil {
		return
	}
	for et, handler := range m.subscribed {
		_ = m.subscribeTo.Unsubscribe(et, handler)
	}
	m.subscribed = make(map[types.EventType]func(payload interface{}))
	m.subscribeTo = nil
}

// Registry 底层注册表
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler /metrics 抓取端点
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
