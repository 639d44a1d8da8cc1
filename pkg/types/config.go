// Package types provides configuration type definitions.
package types

// AppConfig 应用程序根配置
// 只包含配置文件（JSON / YAML）解析所需的结构，字段为 nil 表示使用默认值
// 默认值和完整配置结构在 internal/config/*/defaults.go 和 internal/config/*/config.go 中定义
type AppConfig struct {
	AppName *string `json:"app_name,omitempty" yaml:"app_name,omitempty"` // 应用名称

	// 日志配置
	Log *UserLogConfig `json:"log,omitempty" yaml:"log,omitempty"`

	// 事件总线配置
	Event *UserEventConfig `json:"event,omitempty" yaml:"event,omitempty"`

	// libp2p 节点配置
	P2P *UserP2PConfig `json:"p2p,omitempty" yaml:"p2p,omitempty"`

	// 韧性控制回路配置
	Diagnostics *UserDiagnosticsConfig `json:"diagnostics,omitempty" yaml:"diagnostics,omitempty"`
	Degradation *UserDegradationConfig `json:"degradation,omitempty" yaml:"degradation,omitempty"`
	Recovery    *UserRecoveryConfig    `json:"recovery,omitempty" yaml:"recovery,omitempty"`
	Centralized *UserCentralizedConfig `json:"centralized,omitempty" yaml:"centralized,omitempty"`

	// API服务配置
	API *UserAPIConfig `json:"api,omitempty" yaml:"api,omitempty"`
}

// UserLogConfig 用户日志配置
type UserLogConfig struct {
	Level    *string `json:"level,omitempty" yaml:"level,omitempty"`         // 日志级别：debug, info, warn, error, fatal
	FilePath *string `json:"file_path,omitempty" yaml:"file_path,omitempty"` // 日志文件路径
}

// UserEventConfig 用户事件总线配置
type UserEventConfig struct {
	Enabled     *bool `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	HistorySize *int  `json:"history_size,omitempty" yaml:"history_size,omitempty"` // 每类事件保留的历史条数，0 表示关闭
}

// UserP2PConfig 用户 libp2p 配置
type UserP2PConfig struct {
	ListenAddrs    []string `json:"listen_addrs,omitempty" yaml:"listen_addrs,omitempty"`
	BootstrapPeers []string `json:"bootstrap_peers,omitempty" yaml:"bootstrap_peers,omitempty"` // multiaddr，含 /p2p/<id>
	Rendezvous     *string  `json:"rendezvous,omitempty" yaml:"rendezvous,omitempty"`           // 发现命名空间
	ProtocolPrefix *string  `json:"protocol_prefix,omitempty" yaml:"protocol_prefix,omitempty"` // DHT 协议前缀
	Topics         []string `json:"topics,omitempty" yaml:"topics,omitempty"`                   // 分区恢复时重新加入的 overlay 主题
	MinConns       *int     `json:"min_conns,omitempty" yaml:"min_conns,omitempty"`
	MaxConns       *int     `json:"max_conns,omitempty" yaml:"max_conns,omitempty"`
	StunServer     *string  `json:"stun_server,omitempty" yaml:"stun_server,omitempty"` // 例如 stun:stun.l.google.com:19302，空串关闭
	IdentityKey    *string  `json:"identity_key,omitempty" yaml:"identity_key,omitempty"` // 节点私钥文件，不存在时生成并写入
}

// UserDiagnosticsConfig 诊断采集器配置
type UserDiagnosticsConfig struct {
	SampleInterval      *string `json:"sample_interval,omitempty" yaml:"sample_interval,omitempty"` // Go duration，例如 "5s"
	PingTimeout         *string `json:"ping_timeout,omitempty" yaml:"ping_timeout,omitempty"`
	DiscoveryQueryLimit *int    `json:"discovery_query_limit,omitempty" yaml:"discovery_query_limit,omitempty"`
}

// UserDegradationConfig 降级控制器配置
type UserDegradationConfig struct {
	EvaluationInterval *string  `json:"evaluation_interval,omitempty" yaml:"evaluation_interval,omitempty"`
	MinPeerCount       *int     `json:"min_peer_count,omitempty" yaml:"min_peer_count,omitempty"`
	MaxLatencyMs       *float64 `json:"max_latency_ms,omitempty" yaml:"max_latency_ms,omitempty"`
	MaxFailureRate     *float64 `json:"max_failure_rate,omitempty" yaml:"max_failure_rate,omitempty"`
	EnableAutoUpgrade  *bool    `json:"enable_auto_upgrade,omitempty" yaml:"enable_auto_upgrade,omitempty"`
	UpgradeHoldDown    *string  `json:"upgrade_hold_down,omitempty" yaml:"upgrade_hold_down,omitempty"`
	LocalStorage       *bool    `json:"local_storage,omitempty" yaml:"local_storage,omitempty"`
	QueuedMessaging    *bool    `json:"queued_messaging,omitempty" yaml:"queued_messaging,omitempty"`
	ProfileCache       *bool    `json:"profile_cache,omitempty" yaml:"profile_cache,omitempty"`
}

// UserRecoveryConfig 恢复管理器配置
type UserRecoveryConfig struct {
	HealthCheckInterval      *string  `json:"health_check_interval,omitempty" yaml:"health_check_interval,omitempty"`
	PingTimeout              *string  `json:"ping_timeout,omitempty" yaml:"ping_timeout,omitempty"`
	MaxConsecutiveFailures   *int     `json:"max_consecutive_failures,omitempty" yaml:"max_consecutive_failures,omitempty"`
	MaxReconnectAttempts     *int     `json:"max_reconnect_attempts,omitempty" yaml:"max_reconnect_attempts,omitempty"`
	InitialReconnectDelay    *string  `json:"initial_reconnect_delay,omitempty" yaml:"initial_reconnect_delay,omitempty"`
	MaxReconnectDelay        *string  `json:"max_reconnect_delay,omitempty" yaml:"max_reconnect_delay,omitempty"`
	BackoffMultiplier        *float64 `json:"backoff_multiplier,omitempty" yaml:"backoff_multiplier,omitempty"`
	ReconnectSettleDelay     *string  `json:"reconnect_settle_delay,omitempty" yaml:"reconnect_settle_delay,omitempty"`
	PartitionThreshold       *float64 `json:"partition_threshold,omitempty" yaml:"partition_threshold,omitempty"`
	PartitionRecoveryRatio   *float64 `json:"partition_recovery_ratio,omitempty" yaml:"partition_recovery_ratio,omitempty"`
	PartitionRecoveryTimeout *string  `json:"partition_recovery_timeout,omitempty" yaml:"partition_recovery_timeout,omitempty"`
	MaxUnhealthyPeers        *int     `json:"max_unhealthy_peers,omitempty" yaml:"max_unhealthy_peers,omitempty"`
	MaxConcurrentPings       *int     `json:"max_concurrent_pings,omitempty" yaml:"max_concurrent_pings,omitempty"`
	AutoReconnect            *bool    `json:"auto_reconnect,omitempty" yaml:"auto_reconnect,omitempty"`
}

// UserCentralizedConfig 中心化路径探测配置
type UserCentralizedConfig struct {
	HealthURL     *string `json:"health_url,omitempty" yaml:"health_url,omitempty"` // 空串关闭探测
	ProbeInterval *string `json:"probe_interval,omitempty" yaml:"probe_interval,omitempty"`
	ProbeTimeout  *string `json:"probe_timeout,omitempty" yaml:"probe_timeout,omitempty"`
	WindowSize    *int    `json:"window_size,omitempty" yaml:"window_size,omitempty"`
}

// UserAPIConfig 用户API配置
type UserAPIConfig struct {
	Enabled    *bool   `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	ListenAddr *string `json:"listen_addr,omitempty" yaml:"listen_addr,omitempty"`
}
