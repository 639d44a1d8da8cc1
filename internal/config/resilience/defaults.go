package resilience

import "time"

// 诊断采集器默认值
const (
	defaultSampleInterval      = 5 * time.Second
	defaultDiagPingTimeout     = 5 * time.Second
	defaultDiscoveryQueryLimit = 10
	defaultDiagMinPeerCount    = 3
	defaultHighLatencyMs       = 500.0
)

// 降级控制器默认值
const (
	defaultEvaluationInterval = 5 * time.Second
	defaultMinPeerCount       = 3
	defaultMaxLatencyMs       = 1000.0
	defaultMaxFailureRate     = 0.3
	defaultEnableAutoUpgrade  = true
	defaultUpgradeHoldDown    = 60 * time.Second
)

// 恢复管理器默认值
const (
	defaultHealthCheckInterval      = 30 * time.Second
	defaultRecoveryPingTimeout      = 5 * time.Second
	defaultMaxConsecutiveFailures   = 3
	defaultMaxReconnectAttempts     = 5
	defaultInitialReconnectDelay    = 1 * time.Second
	defaultMaxReconnectDelay        = 60 * time.Second
	defaultBackoffMultiplier        = 2.0
	defaultReconnectSettleDelay     = 1 * time.Second
	defaultPartitionThreshold       = 0.5
	defaultPartitionRecoveryRatio   = 0.8
	defaultPartitionRecoveryTimeout = 5 * time.Minute
	defaultMaxUnhealthyPeers        = 5
	defaultMaxConcurrentPings       = 8
	defaultAutoReconnect            = true
	defaultReplacementQueryLimit    = 10
)

// 中心化路径探测默认值
const (
	defaultCentralizedProbeInterval = 10 * time.Second
	defaultCentralizedProbeTimeout  = 3 * time.Second
	defaultCentralizedWindowSize    = 20
)
