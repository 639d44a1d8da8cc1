package api

import (
	"time"

	"github.com/weisyn/meshguard/pkg/types"
)

// APIOptions API服务配置选项
type APIOptions struct {
	HTTP HTTPConfig `json:"http"`
}

// HTTPConfig HTTP API配置
type HTTPConfig struct {
	Enabled    bool   `json:"enabled"`     // 是否启用HTTP服务
	ListenAddr string `json:"listen_addr"` // 监听地址 host:port

	// 超时配置
	ReadTimeout     time.Duration `json:"read_timeout"`
	WriteTimeout    time.Duration `json:"write_timeout"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout"`

	// 单个请求的处理超时（排障、强制恢复等长操作）
	RequestTimeout time.Duration `json:"request_timeout"`

	// 写操作（切换模式、开关功能、触发恢复）按客户端 IP 限流；WriteRateLimit <= 0 关闭
	WriteRateLimit float64 `json:"write_rate_limit"` // 每秒令牌数
	WriteBurst     int     `json:"write_burst"`
}

// Config API配置实现
type Config struct {
	options *APIOptions
}

// New 创建API配置实现
func New(userConfig *types.UserAPIConfig) *Config {
	// 1. 先创建完整的默认配置
	defaultOptions := createDefaultAPIOptions()

	// 2. 如果有用户配置，则覆盖默认配置（nil 表示未设置）
	if userConfig != nil {
		if userConfig.Enabled != nil {
			defaultOptions.HTTP.Enabled = *userConfig.Enabled
		}
		if userConfig.ListenAddr != nil && *userConfig.ListenAddr != "" {
			defaultOptions.HTTP.ListenAddr = *userConfig.ListenAddr
		}
	}

	return &Config{
		options: defaultOptions,
	}
}

// createDefaultAPIOptions 创建默认API配置
func createDefaultAPIOptions() *APIOptions {
	return &APIOptions{
		HTTP: HTTPConfig{
			Enabled:         defaultHTTPEnabled,
			ListenAddr:      defaultHTTPListenAddr,
			ReadTimeout:     defaultHTTPReadTimeout,
			WriteTimeout:    defaultHTTPWriteTimeout,
			ShutdownTimeout: defaultHTTPShutdownTimeout,
			RequestTimeout:  defaultHTTPRequestTimeout,
			WriteRateLimit:  defaultWriteRateLimit,
			WriteBurst:      defaultWriteBurst,
		},
	}
}

// GetOptions 获取完整的API配置选项
func (c *Config) GetOptions() *APIOptions {
	return c.options
}
