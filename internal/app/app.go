// Package app 装配并运行韧性节点
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"go.uber.org/fx"

	"github.com/weisyn/meshguard/internal/config"
	cfgiface "github.com/weisyn/meshguard/pkg/interfaces/config"
	"github.com/weisyn/meshguard/pkg/types"
)

// 配置文件路径环境变量，优先级高于 --config
const EnvConfigPath = "MESHGUARD_CONFIG"

// App 对外接口
type App interface {
	// Stop 停止应用
	Stop() error

	// Wait 阻塞直到收到退出信号，然后停止应用
	Wait() error
}

// internalApp 应用的内部实现
type internalApp struct {
	bootstrap *Bootstrap
}

// Start 加载配置、装配并启动全部模块
func Start(appOptions ...Option) (App, error) {
	opts := newOptions(appOptions...)

	if opts.appConfig == nil {
		cfg, err := loadConfig(resolveConfigPath(opts.configFilePath))
		if err != nil {
			return nil, err
		}
		opts.appConfig = cfg
	}
	if err := createDataDirectories(opts.appConfig); err != nil {
		return nil, err
	}

	b := NewBootstrap(opts)
	if err := b.CreateFxApp(); err != nil {
		return nil, fmt.Errorf("创建应用失败: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), opts.startTimeout)
	defer cancel()
	if err := b.StartApp(ctx); err != nil {
		return nil, err
	}
	return &internalApp{bootstrap: b}, nil
}

// Stop 停止应用
func (a *internalApp) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), a.bootstrap.opts.stopTimeout)
	defer cancel()
	return a.bootstrap.StopApp(ctx)
}

// Wait 等待中断信号后优雅退出
func (a *internalApp) Wait() error {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(signals)

	<-signals
	return a.Stop()
}

// resolveConfigPath 环境变量优先，其次显式路径；都为空时使用默认值
func resolveConfigPath(path string) string {
	if envPath := os.Getenv(EnvConfigPath); envPath != "" {
		return envPath
	}
	return path
}

// loadConfig 加载配置；文件不存在时使用默认配置
func loadConfig(path string) (*types.AppConfig, error) {
	if path == "" {
		return &types.AppConfig{}, nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return &types.AppConfig{}, nil
	}
	cfg, err := config.LoadAppConfig(path)
	if err != nil {
		return nil, fmt.Errorf("加载配置 %s: %w", path, err)
	}
	return cfg, nil
}

// createDataDirectories 为日志文件与节点身份文件创建所在目录
func createDataDirectories(cfg *types.AppConfig) error {
	var dirs []string
	if cfg.Log != nil && cfg.Log.FilePath != nil && *cfg.Log.FilePath != "" {
		dirs = append(dirs, filepath.Dir(*cfg.Log.FilePath))
	}
	if cfg.P2P != nil && cfg.P2P.IdentityKey != nil && *cfg.P2P.IdentityKey != "" {
		dirs = append(dirs, filepath.Dir(*cfg.P2P.IdentityKey))
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("创建目录 %s 失败: %w", dir, err)
		}
	}
	return nil
}

// appOptionsModule 把选项作为 config.AppOptions 提供给配置模块
func appOptionsModule(opts *options) fx.Option {
	return fx.Provide(func() cfgiface.AppOptions { return opts })
}
