package event

import (
	"github.com/weisyn/meshguard/pkg/types"
)

// EventOptions 事件系统配置选项
type EventOptions struct {
	Enabled     bool `json:"enabled"`      // 是否启用事件系统
	HistorySize int  `json:"history_size"` // 每类事件保留的历史条数，0 表示不记录
}

// Config 事件配置实现
type Config struct {
	options *EventOptions
}

// New 创建事件配置实现
func New(userConfig *types.UserEventConfig) *Config {
	options := createDefaultEventOptions()

	if userConfig != nil {
		if userConfig.Enabled != nil {
			options.Enabled = *userConfig.Enabled
		}
		if userConfig.HistorySize != nil && *userConfig.HistorySize >= 0 {
			options.HistorySize = *userConfig.HistorySize
		}
	}

	return &Config{
		options: options,
	}
}

// NewFromOptions 直接使用给定选项
func NewFromOptions(options *EventOptions) *Config {
	if options == nil {
		options = createDefaultEventOptions()
	}
	return &Config{options: options}
}

// createDefaultEventOptions 创建默认事件配置
func createDefaultEventOptions() *EventOptions {
	return &EventOptions{
		Enabled:     defaultEnabled,
		HistorySize: defaultHistorySize,
	}
}

// GetOptions 获取完整的事件配置选项
func (c *Config) GetOptions() *EventOptions {
	return c.options
}

// IsEnabled 是否启用事件系统
func (c *Config) IsEnabled() bool {
	return c.options.Enabled
}

// GetHistorySize 每类事件保留的历史条数
func (c *Config) GetHistorySize() int {
	return c.options.HistorySize
}
