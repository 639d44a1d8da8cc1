// Package routing 基于 Kademlia DHT 的发现服务
//
// 实现 resilience.Discovery 与 resilience.OverlayStatus：rendezvous 命名空间下的
// 广告与查找（routing discovery），以及 gossipsub overlay 主题的加入。
package routing

import (
	"context"
	"errors"
	"fmt"
	"sync"

	ds "github.com/ipfs/go-datastore"
	dsync "github.com/ipfs/go-datastore/sync"
	dht "github.com/libp2p/go-libp2p-kad-dht"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/discovery"
	lphost "github.com/libp2p/go-libp2p/core/host"
	libpeer "github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	routdisc "github.com/libp2p/go-libp2p/p2p/discovery/routing"
	dutil "github.com/libp2p/go-libp2p/p2p/discovery/util"

	p2pcfg "github.com/weisyn/meshguard/internal/config/p2p"
	"github.com/weisyn/meshguard/pkg/interfaces/infrastructure/log"
	"github.com/weisyn/meshguard/pkg/interfaces/resilience"
)

var (
	// ErrOffline DHT 被配置关闭或尚未启动
	ErrOffline = errors.New("routing: offline")
	// ErrNotStarted overlay 尚未启动
	ErrNotStarted = errors.New("routing: not started")
)

// joinedTopic 已加入的 overlay 主题
type joinedTopic struct {
	topic *pubsub.Topic
	sub   *pubsub.Subscription
}

// Service Routing 服务实现
type Service struct {
	host   lphost.Host
	opts   *p2pcfg.Options
	logger log.Logger // 可为 nil

	mu      sync.RWMutex
	kdht    *dht.IpfsDHT
	disc    *routdisc.RoutingDiscovery
	ps      *pubsub.PubSub
	topics  map[string]*joinedTopic
	running bool

	// 运行控制
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewService 创建 Routing 服务
func NewService(h lphost.Host, opts *p2pcfg.Options, logger log.Logger) *Service {
	if opts == nil {
		opts = p2pcfg.DefaultOptions()
	}
	return &Service{
		host:   h,
		opts:   opts,
		logger: logger,
		topics: make(map[string]*joinedTopic),
	}
}

// Start 初始化 DHT 与 gossipsub，开始在命名空间下广告，并加入配置的主题
//
// DHT 被关闭时只启动 gossipsub，FindPeers 返回 ErrOffline。
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	if s.opts.EnableDHT {
		kdht, err := dht.New(s.ctx, s.host,
			dht.Mode(dhtMode(s.opts.DHTMode)),
			dht.Datastore(dsync.MutexWrap(ds.NewMapDatastore())),
			dht.ProtocolPrefix(protocol.ID(s.opts.ProtocolPrefix)),
			dht.BootstrapPeers(s.opts.BootstrapAddrInfos()...),
		)
		if err != nil {
			s.cancel()
			s.mu.Unlock()
			return fmt.Errorf("create dht: %w", err)
		}
		s.kdht = kdht
		s.disc = routdisc.NewRoutingDiscovery(kdht)
	} else if s.logger != nil {
		s.logger.Infof("p2p.routing.dht disabled by config, routing offline")
	}

	ps, err := pubsub.NewGossipSub(s.ctx, s.host)
	if err != nil {
		s.cancel()
		if s.kdht != nil {
			_ = s.kdht.Close()
			s.kdht, s.disc = nil, nil
		}
		s.mu.Unlock()
		return fmt.Errorf("create gossipsub: %w", err)
	}
	s.ps = ps
	s.running = true
	kdht, disc, runCtx := s.kdht, s.disc, s.ctx
	s.mu.Unlock()

	if kdht != nil {
		if err := kdht.Bootstrap(ctx); err != nil && s.logger != nil {
			s.logger.Warnf("p2p.routing.dht bootstrap failed: %v", err)
		}
		if ns := s.opts.DiscoveryNamespace; ns != "" {
			// 后台持续续期，直到 runCtx 结束
			dutil.Advertise(runCtx, disc, ns)
		}
	}

	if len(s.opts.Topics) > 0 {
		if err := s.Join(ctx, s.opts.Topics); err != nil && s.logger != nil {
			s.logger.Warnf("p2p.routing.join failed: %v", err)
		}
	}

	if s.logger != nil {
		s.logger.Infof("p2p.routing started dht=%t ns=%s topics=%v", kdht != nil, s.opts.DiscoveryNamespace, s.opts.Topics)
	}
	return nil
}

// Stop 关闭主题订阅与 DHT
func (s *Service) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.cancel()
	topics := s.topics
	s.topics = make(map[string]*joinedTopic)
	kdht := s.kdht
	s.kdht, s.disc, s.ps = nil, nil, nil
	s.mu.Unlock()

	var errs []error
	for name, jt := range topics {
		jt.sub.Cancel()
		if err := jt.topic.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close topic %s: %w", name, err))
		}
	}
	if kdht != nil {
		if err := kdht.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close dht: %w", err))
		}
	}
	s.wg.Wait()
	return errors.Join(errs...)
}

// FindPeers 在命名空间下查找最多 limit 个候选 peer（不含自身）
func (s *Service) FindPeers(ctx context.Context, namespace string, limit int) ([]libpeer.AddrInfo, error) {
	s.mu.RLock()
	disc := s.disc
	s.mu.RUnlock()
	if disc == nil {
		return nil, ErrOffline
	}

	var opts []discovery.Option
	if limit > 0 {
		opts = append(opts, discovery.Limit(limit))
	}
	ch, err := disc.FindPeers(ctx, namespace, opts...)
	if err != nil {
		return nil, fmt.Errorf("rendezvous find_peers: %w", err)
	}

	var out []libpeer.AddrInfo
	for {
		select {
		case info, ok := <-ch:
			if !ok {
				return out, nil
			}
			if info.ID == s.host.ID() || info.ID == "" {
				continue
			}
			out = append(out, info)
			if limit > 0 && len(out) >= limit {
				return out, nil
			}
		case <-ctx.Done():
			return out, ctx.Err()
		}
	}
}

// Join 加入 overlay 主题；已加入的主题跳过，各主题的错误合并返回
func (s *Service) Join(ctx context.Context, topics []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ps == nil {
		return ErrNotStarted
	}

	var errs []error
	for _, name := range topics {
		if _, ok := s.topics[name]; ok {
			continue
		}
		topic, err := s.ps.Join(name)
		if err != nil {
			errs = append(errs, fmt.Errorf("join %s: %w", name, err))
			continue
		}
		sub, err := topic.Subscribe()
		if err != nil {
			_ = topic.Close()
			errs = append(errs, fmt.Errorf("subscribe %s: %w", name, err))
			continue
		}
		s.topics[name] = &joinedTopic{topic: topic, sub: sub}

		s.wg.Add(1)
		go s.drain(s.ctx, sub)
	}
	return errors.Join(errs...)
}

// drain 消费订阅以维持主题成员身份
func (s *Service) drain(ctx context.Context, sub *pubsub.Subscription) {
	defer s.wg.Done()
	for {
		if _, err := sub.Next(ctx); err != nil {
			return
		}
	}
}

// JoinedTopics 已加入的主题
func (s *Service) JoinedTopics() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.topics))
	for name := range s.topics {
		out = append(out, name)
	}
	return out
}

// IsRunning 发现服务是否可用（DHT 已启动）
func (s *Service) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running && s.kdht != nil
}

// RoutingTableSize 返回当前 DHT 路由表大小（不可用时返回 0）
func (s *Service) RoutingTableSize() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.kdht == nil || s.kdht.RoutingTable() == nil {
		return 0
	}
	return s.kdht.RoutingTable().Size()
}

func dhtMode(mode string) dht.ModeOpt {
	switch mode {
	case "client":
		return dht.ModeClient
	case "server":
		return dht.ModeServer
	default:
		return dht.ModeAuto
	}
}

var (
	_ resilience.Discovery     = (*Service)(nil)
	_ resilience.OverlayStatus = (*Service)(nil)
)
