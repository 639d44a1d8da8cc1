package app

import (
	"time"

	"go.uber.org/fx"

	"github.com/weisyn/meshguard/pkg/interfaces/config"
	"github.com/weisyn/meshguard/pkg/types"
)

// Option 应用程序选项函数类型
type Option func(*options)

// options 应用程序选项
// 实现config.AppOptions接口
type options struct {
	// 配置文件路径（.json / .yaml）
	configFilePath string

	// 直接注入的用户配置（优先级高于configFilePath）
	appConfig *types.AppConfig

	// API支持开关 (默认启用)
	enableAPI bool

	// 启动 / 停止超时
	startTimeout time.Duration
	stopTimeout  time.Duration

	// 附加 fx 选项（测试中用于 fx.Replace / fx.Populate）
	extra []fx.Option
}

// 编译时校验options是否实现了config.AppOptions接口
var _ config.AppOptions = (*options)(nil)

// WithConfigFile 设置配置文件路径
func WithConfigFile(configPath string) Option {
	return func(o *options) {
		o.configFilePath = configPath
	}
}

// WithAppConfig 直接使用给定配置，不读取文件
func WithAppConfig(cfg *types.AppConfig) Option {
	return func(o *options) {
		o.appConfig = cfg
	}
}

// WithoutAPI 禁用API模块
func WithoutAPI() Option {
	return func(o *options) {
		o.enableAPI = false
	}
}

// WithStartTimeout 设置启动超时
func WithStartTimeout(d time.Duration) Option {
	return func(o *options) {
		o.startTimeout = d
	}
}

// WithFxOptions 追加 fx 选项
func WithFxOptions(opts ...fx.Option) Option {
	return func(o *options) {
		o.extra = append(o.extra, opts...)
	}
}

// newOptions 创建选项
func newOptions(opts ...Option) *options {
	o := &options{
		enableAPI:    true,
		startTimeout: 30 * time.Second,
		stopTimeout:  15 * time.Second,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// GetAppConfig 返回应用程序配置
func (o *options) GetAppConfig() *types.AppConfig {
	return o.appConfig
}
