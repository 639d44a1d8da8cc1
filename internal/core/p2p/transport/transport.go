// Package transport 基于 libp2p Host 的传输层适配
//
// 实现 resilience.Transport 与 resilience.PeerInspector：连接/断开、ping 测时延、
// 连接状态通知（network.Notifiee），以及地址、协议、带宽等附加信息。
package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	benclock "github.com/benbjohnson/clock"
	lphost "github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/metrics"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/p2p/protocol/ping"

	"github.com/weisyn/meshguard/pkg/interfaces/infrastructure/clock"
	"github.com/weisyn/meshguard/pkg/interfaces/infrastructure/log"
	"github.com/weisyn/meshguard/pkg/interfaces/resilience"
	"github.com/weisyn/meshguard/pkg/types"
)

// ErrPingAborted ping 结果通道在返回结果前关闭
var ErrPingAborted = errors.New("transport: ping aborted")

// Transport libp2p 传输层适配
type Transport struct {
	host   lphost.Host
	bw     *metrics.BandwidthCounter // 可为 nil
	clk    clock.Clock
	logger log.Logger // 可为 nil

	mu       sync.RWMutex
	handlers map[uint64]resilience.ConnectionStateHandler
	nextID   uint64

	notifiee *notifiee
	once     sync.Once
}

// New 创建传输层适配并注册连接通知；bw、clk、logger 可为 nil
func New(h lphost.Host, bw *metrics.BandwidthCounter, clk clock.Clock, logger log.Logger) *Transport {
	if clk == nil {
		clk = benclock.New()
	}
	t := &Transport{
		host:     h,
		bw:       bw,
		clk:      clk,
		logger:   logger,
		handlers: make(map[uint64]resilience.ConnectionStateHandler),
	}
	t.notifiee = &notifiee{t: t}
	h.Network().Notify(t.notifiee)
	return t
}

// Close 取消连接通知注册；可重复调用
func (t *Transport) Close() {
	t.once.Do(func() {
		t.host.Network().StopNotify(t.notifiee)
	})
}

// Host 底层 libp2p Host
func (t *Transport) Host() lphost.Host {
	return t.host
}

// Connect 建立连接；失败时通知 failed
func (t *Transport) Connect(ctx context.Context, info peer.AddrInfo) error {
	if t.host.Network().Connectedness(info.ID) != network.Connected {
		t.emit(info.ID, types.ConnectionConnecting, nil)
	}
	if err := t.host.Connect(ctx, info); err != nil {
		t.emit(info.ID, types.ConnectionFailed, err)
		return fmt.Errorf("connect %s: %w", info.ID, err)
	}
	return nil
}

// Disconnect 关闭到 peer 的全部连接
func (t *Transport) Disconnect(ctx context.Context, id peer.ID) error {
	if err := t.host.Network().ClosePeer(id); err != nil {
		return fmt.Errorf("disconnect %s: %w", id, err)
	}
	return nil
}

// Ping 在现有连接上测一次往返时延，不触发拨号
func (t *Transport) Ping(ctx context.Context, id peer.ID) (time.Duration, error) {
	pctx, cancel := context.WithCancel(network.WithNoDial(ctx, "health ping"))
	defer cancel()

	select {
	case res, ok := <-ping.Ping(pctx, t.host, id):
		if !ok {
			if err := ctx.Err(); err != nil {
				return 0, err
			}
			return 0, ErrPingAborted
		}
		if res.Error != nil {
			return 0, res.Error
		}
		return res.RTT, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// ConnectedPeers 当前已连接的 peer
func (t *Transport) ConnectedPeers() []peer.ID {
	return t.host.Network().Peers()
}

// SubscribeConnectionState 订阅连接状态变化
func (t *Transport) SubscribeConnectionState(handler resilience.ConnectionStateHandler) func() {
	t.mu.Lock()
	id := t.nextID
	t.nextID++
	t.handlers[id] = handler
	t.mu.Unlock()

	return func() {
		t.mu.Lock()
		delete(t.handlers, id)
		t.mu.Unlock()
	}
}

// PeerStats 实现 resilience.PeerInspector
func (t *Transport) PeerStats(id peer.ID) (types.PeerTransportStats, bool) {
	conns := t.host.Network().ConnsToPeer(id)
	if len(conns) == 0 {
		return types.PeerTransportStats{}, false
	}

	var stats types.PeerTransportStats
	for _, c := range conns {
		stats.Addresses = append(stats.Addresses, c.RemoteMultiaddr().String())
		opened := c.Stat().Opened
		if !opened.IsZero() && (stats.ConnectedAt.IsZero() || opened.Before(stats.ConnectedAt)) {
			stats.ConnectedAt = opened
		}
	}
	if protos, err := t.host.Peerstore().GetProtocols(id); err == nil {
		for _, p := range protos {
			stats.Protocols = append(stats.Protocols, string(p))
		}
	}
	if t.bw != nil {
		s := t.bw.GetBandwidthForPeer(id)
		stats.Bandwidth = types.BandwidthStats{
			InRate:   s.RateIn,
			OutRate:  s.RateOut,
			TotalIn:  s.TotalIn,
			TotalOut: s.TotalOut,
		}
	}
	return stats, true
}

// emit 在锁外依次调用订阅者
func (t *Transport) emit(id peer.ID, state types.ConnectionState, err error) {
	change := types.ConnectionStateChange{PeerID: id, State: state, At: t.clk.Now()}
	if err != nil {
		change.Err = err.Error()
	}

	t.mu.RLock()
	handlers := make([]resilience.ConnectionStateHandler, 0, len(t.handlers))
	for _, h := range t.handlers {
		handlers = append(handlers, h)
	}
	t.mu.RUnlock()

	for _, h := range handlers {
		h(change)
	}
}

var (
	_ resilience.Transport     = (*Transport)(nil)
	_ resilience.PeerInspector = (*Transport)(nil)
)
