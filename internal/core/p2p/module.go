// Package p2p libp2p 适配层的依赖注入与生命周期
//
// 提供 Host、传输层适配（Transport / PeerInspector）、发现服务（Discovery / OverlayStatus）
// 与可选的 STUN 连通性探测，供韧性组件通过能力接口使用。
package p2p

import (
	"context"
	"errors"
	"fmt"
	"sync"

	lphost "github.com/libp2p/go-libp2p/core/host"
	"go.uber.org/fx"

	p2pcfg "github.com/weisyn/meshguard/internal/config/p2p"
	logimpl "github.com/weisyn/meshguard/internal/core/infrastructure/log"
	"github.com/weisyn/meshguard/internal/core/p2p/host"
	"github.com/weisyn/meshguard/internal/core/p2p/routing"
	"github.com/weisyn/meshguard/internal/core/p2p/stunprobe"
	"github.com/weisyn/meshguard/internal/core/p2p/transport"
	"github.com/weisyn/meshguard/pkg/interfaces/infrastructure/clock"
	logiface "github.com/weisyn/meshguard/pkg/interfaces/infrastructure/log"
	"github.com/weisyn/meshguard/pkg/interfaces/resilience"
)

// ModuleInput 定义 P2P 模块统一依赖
type ModuleInput struct {
	fx.In

	Config *p2pcfg.Options
	Clock  clock.Clock     `optional:"true"`
	Logger logiface.Logger `optional:"true"`
}

// ModuleOutput 定义 P2P 模块输出
type ModuleOutput struct {
	fx.Out

	Host      lphost.Host
	Transport *transport.Transport
	Routing   *routing.Service

	ResilienceTransport resilience.Transport
	Inspector           resilience.PeerInspector
	Discovery           resilience.Discovery
	Overlay             resilience.OverlayStatus
	Prober              resilience.ConnectivityProber // 未配置 STUN 时为 nil
}

// ProvideService 装配 libp2p Host 与各适配器
func ProvideService(in ModuleInput) (ModuleOutput, error) {
	logger := logimpl.NewModuleLogger(in.Logger, "p2p")

	built, err := host.Build(in.Config, logger)
	if err != nil {
		return ModuleOutput{}, fmt.Errorf("failed to build p2p host: %w", err)
	}

	tr := transport.New(built.Host, built.Bandwidth, in.Clock, logger)
	rt := routing.NewService(built.Host, in.Config, logger)

	out := ModuleOutput{
		Host:                built.Host,
		Transport:           tr,
		Routing:             rt,
		ResilienceTransport: tr,
		Inspector:           tr,
		Discovery:           rt,
		Overlay:             rt,
	}
	if in.Config.StunServer != "" {
		out.Prober = stunprobe.New(in.Config.StunServer, in.Config.StunTimeout, in.Clock)
	}
	return out, nil
}

// Module 返回 P2P 模块
func Module() fx.Option {
	return fx.Module("p2p",
		fx.Provide(ProvideService),
		fx.Invoke(hookLifecycle),
	)
}

// LifecycleInput 生命周期管理输入
type LifecycleInput struct {
	fx.In

	Lifecycle fx.Lifecycle
	Config    *p2pcfg.Options
	Host      lphost.Host
	Transport *transport.Transport
	Routing   *routing.Service
	Logger    logiface.Logger `optional:"true"`
}

// hookLifecycle 启动发现服务并连接引导节点；停止时按相反顺序关闭
func hookLifecycle(in LifecycleInput) {
	in.Lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if in.Logger != nil {
				in.Logger.Infof("P2P 启动: id=%s", in.Host.ID())
			}
			if err := in.Routing.Start(ctx); err != nil {
				return fmt.Errorf("start routing: %w", err)
			}
			connectBootstrap(ctx, in.Transport, in.Config, in.Logger)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if in.Logger != nil {
				in.Logger.Info("P2P 停止")
			}
			err := in.Routing.Stop()
			in.Transport.Close()
			return errors.Join(err, in.Host.Close())
		},
	})
}

// connectBootstrap 并发连接引导节点，失败只记录日志
func connectBootstrap(ctx context.Context, tr *transport.Transport, cfg *p2pcfg.Options, logger logiface.Logger) {
	infos := cfg.BootstrapAddrInfos()
	var wg sync.WaitGroup
	for _, info := range infos {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := tr.Connect(ctx, info); err != nil && logger != nil {
				logger.Warnf("连接引导节点失败: peer=%s err=%v", info.ID, err)
			}
		}()
	}
	wg.Wait()
}
