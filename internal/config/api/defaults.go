package api

import "time"

// API服务默认配置值
const (
	defaultHTTPEnabled = true

	// defaultHTTPListenAddr 只监听回环地址，CLI 默认连接同一地址
	defaultHTTPListenAddr = "127.0.0.1:7878"

	defaultHTTPReadTimeout     = 15 * time.Second
	defaultHTTPWriteTimeout    = 30 * time.Second
	defaultHTTPShutdownTimeout = 5 * time.Second

	// defaultHTTPRequestTimeout 排障会串行执行多个探测
	defaultHTTPRequestTimeout = 20 * time.Second

	defaultWriteRateLimit = 2.0
	defaultWriteBurst     = 5
)

// DefaultListenAddr 默认监听地址（CLI 使用）
const DefaultListenAddr = defaultHTTPListenAddr
