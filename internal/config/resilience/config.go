// Package resilience 韧性控制回路配置：诊断采集、降级控制、恢复管理、中心化探测
package resilience

import (
	"errors"
	"fmt"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/weisyn/meshguard/pkg/types"
)

// DiagnosticsOptions 诊断采集器配置
type DiagnosticsOptions struct {
	SampleInterval      time.Duration `json:"sample_interval"`
	PingTimeout         time.Duration `json:"ping_timeout"`
	DiscoveryNamespace  string        `json:"discovery_namespace"`   // 排障时 FindPeers 使用的命名空间
	DiscoveryQueryLimit int           `json:"discovery_query_limit"` // 排障时 FindPeers 的上限
	MinPeerCount        int           `json:"min_peer_count"`        // 低于该值记为 peer_discovery 问题
	HighLatencyMs       float64       `json:"high_latency_ms"`       // 高于该值记为 latency 问题
}

// LocalCapabilityOptions 离线模式下启用的本地能力
type LocalCapabilityOptions struct {
	LocalStorage    bool `json:"local_storage"`
	QueuedMessaging bool `json:"queued_messaging"`
	ProfileCache    bool `json:"profile_cache"`
}

// Names 已启用能力的名称列表（固定顺序）
func (o LocalCapabilityOptions) Names() []string {
	var out []string
	if o.LocalStorage {
		out = append(out, "local_storage")
	}
	if o.QueuedMessaging {
		out = append(out, "queued_messaging")
	}
	if o.ProfileCache {
		out = append(out, "profile_cache")
	}
	return out
}

// DegradationOptions 降级控制器配置
type DegradationOptions struct {
	EvaluationInterval time.Duration          `json:"evaluation_interval"`
	MinPeerCount       int                    `json:"min_peer_count"`
	MaxLatencyMs       float64                `json:"max_latency_ms"`
	MaxFailureRate     float64                `json:"max_failure_rate"`
	EnableAutoUpgrade  bool                   `json:"enable_auto_upgrade"`
	UpgradeHoldDown    time.Duration          `json:"upgrade_hold_down"` // 距上次切换至少经过该时长才允许升级
	LocalCapabilities  LocalCapabilityOptions `json:"local_capabilities"`
}

// RecoveryOptions 恢复管理器配置
type RecoveryOptions struct {
	HealthCheckInterval      time.Duration `json:"health_check_interval"`
	PingTimeout              time.Duration `json:"ping_timeout"`
	MaxConsecutiveFailures   int           `json:"max_consecutive_failures"`
	MaxReconnectAttempts     int           `json:"max_reconnect_attempts"`
	InitialReconnectDelay    time.Duration `json:"initial_reconnect_delay"`
	MaxReconnectDelay        time.Duration `json:"max_reconnect_delay"`
	BackoffMultiplier        float64       `json:"backoff_multiplier"`
	ReconnectSettleDelay     time.Duration `json:"reconnect_settle_delay"`
	PartitionThreshold       float64       `json:"partition_threshold"`
	PartitionRecoveryRatio   float64       `json:"partition_recovery_ratio"`
	PartitionRecoveryTimeout time.Duration `json:"partition_recovery_timeout"`
	MaxUnhealthyPeers        int           `json:"max_unhealthy_peers"`
	MaxConcurrentPings       int           `json:"max_concurrent_pings"`
	AutoReconnect            bool          `json:"auto_reconnect"`
	ReplacementQueryLimit    int           `json:"replacement_query_limit"`

	// 以下由 P2P 配置填充
	BootstrapPeers     []peer.AddrInfo `json:"-"`
	DiscoveryNamespace string          `json:"discovery_namespace"`
	Topics             []string        `json:"topics"`
}

// CentralizedOptions 中心化路径探测配置
type CentralizedOptions struct {
	HealthURL     string        `json:"health_url"` // 为空时不探测，中心化路径视为不可用
	ProbeInterval time.Duration `json:"probe_interval"`
	ProbeTimeout  time.Duration `json:"probe_timeout"`
	WindowSize    int           `json:"window_size"` // 计算失败率的滑动窗口
}

// Options 韧性控制回路完整配置
type Options struct {
	Diagnostics DiagnosticsOptions `json:"diagnostics"`
	Degradation DegradationOptions `json:"degradation"`
	Recovery    RecoveryOptions    `json:"recovery"`
	Centralized CentralizedOptions `json:"centralized"`
}

// DefaultOptions 返回默认配置
func DefaultOptions() *Options {
	return &Options{
		Diagnostics: DiagnosticsOptions{
			SampleInterval:      defaultSampleInterval,
			PingTimeout:         defaultDiagPingTimeout,
			DiscoveryQueryLimit: defaultDiscoveryQueryLimit,
			MinPeerCount:        defaultDiagMinPeerCount,
			HighLatencyMs:       defaultHighLatencyMs,
		},
		Degradation: DegradationOptions{
			EvaluationInterval: defaultEvaluationInterval,
			MinPeerCount:       defaultMinPeerCount,
			MaxLatencyMs:       defaultMaxLatencyMs,
			MaxFailureRate:     defaultMaxFailureRate,
			EnableAutoUpgrade:  defaultEnableAutoUpgrade,
			UpgradeHoldDown:    defaultUpgradeHoldDown,
			LocalCapabilities: LocalCapabilityOptions{
				LocalStorage:    true,
				QueuedMessaging: true,
				ProfileCache:    true,
			},
		},
		Recovery: RecoveryOptions{
			HealthCheckInterval:      defaultHealthCheckInterval,
			PingTimeout:              defaultRecoveryPingTimeout,
			MaxConsecutiveFailures:   defaultMaxConsecutiveFailures,
			MaxReconnectAttempts:     defaultMaxReconnectAttempts,
			InitialReconnectDelay:    defaultInitialReconnectDelay,
			MaxReconnectDelay:        defaultMaxReconnectDelay,
			BackoffMultiplier:        defaultBackoffMultiplier,
			ReconnectSettleDelay:     defaultReconnectSettleDelay,
			PartitionThreshold:       defaultPartitionThreshold,
			PartitionRecoveryRatio:   defaultPartitionRecoveryRatio,
			PartitionRecoveryTimeout: defaultPartitionRecoveryTimeout,
			MaxUnhealthyPeers:        defaultMaxUnhealthyPeers,
			MaxConcurrentPings:       defaultMaxConcurrentPings,
			AutoReconnect:            defaultAutoReconnect,
			ReplacementQueryLimit:    defaultReplacementQueryLimit,
		},
		Centralized: CentralizedOptions{
			ProbeInterval: defaultCentralizedProbeInterval,
			ProbeTimeout:  defaultCentralizedProbeTimeout,
			WindowSize:    defaultCentralizedWindowSize,
		},
	}
}

// NewFromAppConfig 在默认值基础上应用用户配置
func NewFromAppConfig(appConfig *types.AppConfig) (*Options, error) {
	opts := DefaultOptions()
	if appConfig == nil {
		return opts, nil
	}

	var errs []error
	dur := func(dst *time.Duration, src *string, name string) {
		if src == nil || *src == "" {
			return
		}
		d, err := time.ParseDuration(*src)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			return
		}
		*dst = d
	}

	if u := appConfig.Diagnostics; u != nil {
		dur(&opts.Diagnostics.SampleInterval, u.SampleInterval, "diagnostics.sample_interval")
		dur(&opts.Diagnostics.PingTimeout, u.PingTimeout, "diagnostics.ping_timeout")
		if u.DiscoveryQueryLimit != nil {
			opts.Diagnostics.DiscoveryQueryLimit = *u.DiscoveryQueryLimit
		}
	}

	if u := appConfig.Degradation; u != nil {
		dur(&opts.Degradation.EvaluationInterval, u.EvaluationInterval, "degradation.evaluation_interval")
		dur(&opts.Degradation.UpgradeHoldDown, u.UpgradeHoldDown, "degradation.upgrade_hold_down")
		if u.MinPeerCount != nil {
			opts.Degradation.MinPeerCount = *u.MinPeerCount
		}
		if u.MaxLatencyMs != nil {
			opts.Degradation.MaxLatencyMs = *u.MaxLatencyMs
		}
		if u.MaxFailureRate != nil {
			opts.Degradation.MaxFailureRate = *u.MaxFailureRate
		}
		if u.EnableAutoUpgrade != nil {
			opts.Degradation.EnableAutoUpgrade = *u.EnableAutoUpgrade
		}
		if u.LocalStorage != nil {
			opts.Degradation.LocalCapabilities.LocalStorage = *u.LocalStorage
		}
		if u.QueuedMessaging != nil {
			opts.Degradation.LocalCapabilities.QueuedMessaging = *u.QueuedMessaging
		}
		if u.ProfileCache != nil {
			opts.Degradation.LocalCapabilities.ProfileCache = *u.ProfileCache
		}
	}

	if u := appConfig.Recovery; u != nil {
		r := &opts.Recovery
		dur(&r.HealthCheckInterval, u.HealthCheckInterval, "recovery.health_check_interval")
		dur(&r.PingTimeout, u.PingTimeout, "recovery.ping_timeout")
		dur(&r.InitialReconnectDelay, u.InitialReconnectDelay, "recovery.initial_reconnect_delay")
		dur(&r.MaxReconnectDelay, u.MaxReconnectDelay, "recovery.max_reconnect_delay")
		dur(&r.ReconnectSettleDelay, u.ReconnectSettleDelay, "recovery.reconnect_settle_delay")
		dur(&r.PartitionRecoveryTimeout, u.PartitionRecoveryTimeout, "recovery.partition_recovery_timeout")
		if u.MaxConsecutiveFailures != nil {
			r.MaxConsecutiveFailures = *u.MaxConsecutiveFailures
		}
		if u.MaxReconnectAttempts != nil {
			r.MaxReconnectAttempts = *u.MaxReconnectAttempts
		}
		if u.BackoffMultiplier != nil {
			r.BackoffMultiplier = *u.BackoffMultiplier
		}
		if u.PartitionThreshold != nil {
			r.PartitionThreshold = *u.PartitionThreshold
		}
		if u.PartitionRecoveryRatio != nil {
			r.PartitionRecoveryRatio = *u.PartitionRecoveryRatio
		}
		if u.MaxUnhealthyPeers != nil {
			r.MaxUnhealthyPeers = *u.MaxUnhealthyPeers
		}
		if u.MaxConcurrentPings != nil {
			r.MaxConcurrentPings = *u.MaxConcurrentPings
		}
		if u.AutoReconnect != nil {
			r.AutoReconnect = *u.AutoReconnect
		}
	}

	if u := appConfig.Centralized; u != nil {
		if u.HealthURL != nil {
			opts.Centralized.HealthURL = *u.HealthURL
		}
		dur(&opts.Centralized.ProbeInterval, u.ProbeInterval, "centralized.probe_interval")
		dur(&opts.Centralized.ProbeTimeout, u.ProbeTimeout, "centralized.probe_timeout")
		if u.WindowSize != nil {
			opts.Centralized.WindowSize = *u.WindowSize
		}
	}

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return opts, nil
}

// Validate 校验取值范围
func (o *Options) Validate() error {
	var errs []error
	positive := func(d time.Duration, name string) {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be > 0", name))
		}
	}
	ratio := func(v float64, name string) {
		if v < 0 || v > 1 {
			errs = append(errs, fmt.Errorf("%s must be within [0,1], got %v", name, v))
		}
	}

	positive(o.Diagnostics.SampleInterval, "diagnostics.sample_interval")
	positive(o.Diagnostics.PingTimeout, "diagnostics.ping_timeout")
	positive(o.Degradation.EvaluationInterval, "degradation.evaluation_interval")
	ratio(o.Degradation.MaxFailureRate, "degradation.max_failure_rate")
	if o.Degradation.MinPeerCount < 0 {
		errs = append(errs, errors.New("degradation.min_peer_count must be >= 0"))
	}

	r := o.Recovery
	positive(r.HealthCheckInterval, "recovery.health_check_interval")
	positive(r.PingTimeout, "recovery.ping_timeout")
	positive(r.InitialReconnectDelay, "recovery.initial_reconnect_delay")
	positive(r.PartitionRecoveryTimeout, "recovery.partition_recovery_timeout")
	if r.MaxReconnectDelay < r.InitialReconnectDelay {
		errs = append(errs, errors.New("recovery.max_reconnect_delay must be >= initial_reconnect_delay"))
	}
	if r.BackoffMultiplier < 1 {
		errs = append(errs, fmt.Errorf("recovery.backoff_multiplier must be >= 1, got %v", r.BackoffMultiplier))
	}
	if r.MaxConsecutiveFailures < 1 {
		errs = append(errs, errors.New("recovery.max_consecutive_failures must be >= 1"))
	}
	if r.MaxReconnectAttempts < 0 {
		errs = append(errs, errors.New("recovery.max_reconnect_attempts must be >= 0"))
	}
	if r.ReconnectSettleDelay < 0 {
		errs = append(errs, errors.New("recovery.reconnect_settle_delay must be >= 0"))
	}
	ratio(r.PartitionThreshold, "recovery.partition_threshold")
	ratio(r.PartitionRecoveryRatio, "recovery.partition_recovery_ratio")

	if o.Centralized.HealthURL != "" {
		positive(o.Centralized.ProbeInterval, "centralized.probe_interval")
		positive(o.Centralized.ProbeTimeout, "centralized.probe_timeout")
		if o.Centralized.WindowSize < 1 {
			errs = append(errs, errors.New("centralized.window_size must be >= 1"))
		}
	}

	return errors.Join(errs...)
}
