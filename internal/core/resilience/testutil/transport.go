// Package testutil 韧性组件测试用的假协作方：Transport / Discovery / Overlay 与事件记录器
package testutil

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/weisyn/meshguard/pkg/interfaces/resilience"
	"github.com/weisyn/meshguard/pkg/types"
)

// ErrPingFailed 假 Transport 默认的 ping 错误
var ErrPingFailed = errors.New("ping failed")

// PeerID 生成确定性的测试 peer ID
func PeerID(n int) peer.ID {
	return peer.ID(fmt.Sprintf("peer-%02d", n))
}

// PingFunc 自定义 ping 行为
type PingFunc func(ctx context.Context, id peer.ID) (time.Duration, error)

// FakeTransport 可脚本化的 Transport
//
// Connect / Disconnect 成功后同步发出对应的连接状态通知（在锁外调用 handler），
// 与 libp2p Notifiee 的行为一致。
type FakeTransport struct {
	mu         sync.Mutex
	connected  map[peer.ID]bool
	latency    map[peer.ID]time.Duration
	pingErr    map[peer.ID]error
	connectErr map[peer.ID]error
	hang       map[peer.ID]bool
	pingFn     PingFunc
	stats      map[peer.ID]types.PeerTransportStats

	pingCalls       map[peer.ID]int
	connectCalls    map[peer.ID]int
	disconnectCalls map[peer.ID]int

	handlers map[int]resilience.ConnectionStateHandler
	nextID   int
	now      func() time.Time
}

// NewFakeTransport 创建假 Transport
func NewFakeTransport() *FakeTransport {
	return &FakeTransport{
		connected:       make(map[peer.ID]bool),
		latency:         make(map[peer.ID]time.Duration),
		pingErr:         make(map[peer.ID]error),
		connectErr:      make(map[peer.ID]error),
		hang:            make(map[peer.ID]bool),
		stats:           make(map[peer.ID]types.PeerTransportStats),
		pingCalls:       make(map[peer.ID]int),
		connectCalls:    make(map[peer.ID]int),
		disconnectCalls: make(map[peer.ID]int),
		handlers:        make(map[int]resilience.ConnectionStateHandler),
		now:             time.Now,
	}
}

// SetNow 注入通知时间源（通常为 Mock 时钟的 Now）
func (f *FakeTransport) SetNow(now func() time.Time) {
	f.mu.Lock()
	f.now = now
	f.mu.Unlock()
}

// AddPeer 标记 peer 已连接（不发通知），ping 返回给定时延
func (f *FakeTransport) AddPeer(id peer.ID, latency time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected[id] = true
	f.latency[id] = latency
}

// SetLatency 设置 ping 时延
func (f *FakeTransport) SetLatency(id peer.ID, latency time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.latency[id] = latency
}

// SetPingError 设置 ping 错误，nil 清除
func (f *FakeTransport) SetPingError(id peer.ID, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.pingErr, id)
		return
	}
	f.pingErr[id] = err
}

// SetPingHang ping 永不返回，直到 ctx 结束
func (f *FakeTransport) SetPingHang(id peer.ID, hang bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hang[id] = hang
}

// SetPingFunc 完全接管 ping 行为
func (f *FakeTransport) SetPingFunc(fn PingFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pingFn = fn
}

// SetConnectError 设置 Connect 错误，nil 清除
func (f *FakeTransport) SetConnectError(id peer.ID, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.connectErr, id)
		return
	}
	f.connectErr[id] = err
}

// SetStats 设置 PeerInspector 返回的附加信息
func (f *FakeTransport) SetStats(id peer.ID, stats types.PeerTransportStats) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stats[id] = stats
}

// Connect 实现 Transport
func (f *FakeTransport) Connect(ctx context.Context, info peer.AddrInfo) error {
	f.mu.Lock()
	f.connectCalls[info.ID]++
	err := f.connectErr[info.ID]
	if err == nil {
		f.connected[info.ID] = true
	}
	f.mu.Unlock()

	if err != nil {
		f.Emit(info.ID, types.ConnectionFailed, err)
		return err
	}
	f.Emit(info.ID, types.ConnectionConnected, nil)
	return nil
}

// Disconnect 实现 Transport
func (f *FakeTransport) Disconnect(ctx context.Context, id peer.ID) error {
	f.mu.Lock()
	f.disconnectCalls[id]++
	was := f.connected[id]
	delete(f.connected, id)
	f.mu.Unlock()

	if was {
		f.Emit(id, types.ConnectionDisconnected, nil)
	}
	return nil
}

// Ping 实现 Transport，遵守 ctx 截止时间
func (f *FakeTransport) Ping(ctx context.Context, id peer.ID) (time.Duration, error) {
	f.mu.Lock()
	f.pingCalls[id]++
	fn := f.pingFn
	hang := f.hang[id]
	err := f.pingErr[id]
	lat := f.latency[id]
	f.mu.Unlock()

	if fn != nil {
		return fn(ctx, id)
	}
	if hang {
		<-ctx.Done()
		return 0, ctx.Err()
	}
	if err != nil {
		return 0, err
	}
	return lat, nil
}

// ConnectedPeers 实现 Transport，按 ID 排序
func (f *FakeTransport) ConnectedPeers() []peer.ID {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]peer.ID, 0, len(f.connected))
	for id := range f.connected {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// SubscribeConnectionState 实现 Transport
func (f *FakeTransport) SubscribeConnectionState(handler resilience.ConnectionStateHandler) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextID
	f.nextID++
	f.handlers[id] = handler
	return func() {
		f.mu.Lock()
		delete(f.handlers, id)
		f.mu.Unlock()
	}
}

// PeerStats 实现 PeerInspector
func (f *FakeTransport) PeerStats(id peer.ID) (types.PeerTransportStats, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.stats[id]
	return s, ok
}

// Emit 向全部订阅者发出连接状态通知
func (f *FakeTransport) Emit(id peer.ID, state types.ConnectionState, err error) {
	f.mu.Lock()
	change := types.ConnectionStateChange{PeerID: id, State: state, At: f.now()}
	if err != nil {
		change.Err = err.Error()
	}
	handlers := make([]resilience.ConnectionStateHandler, 0, len(f.handlers))
	for _, h := range f.handlers {
		handlers = append(handlers, h)
	}
	f.mu.Unlock()

	for _, h := range handlers {
		h(change)
	}
}

// Drop 模拟远端断开：移除连接并发出 disconnected 通知
func (f *FakeTransport) Drop(id peer.ID) {
	f.mu.Lock()
	delete(f.connected, id)
	f.mu.Unlock()
	f.Emit(id, types.ConnectionDisconnected, nil)
}

// HandlerCount 当前订阅者数量
func (f *FakeTransport) HandlerCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.handlers)
}

// PingCalls ping 调用次数
func (f *FakeTransport) PingCalls(id peer.ID) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pingCalls[id]
}

// ConnectCalls Connect 调用次数
func (f *FakeTransport) ConnectCalls(id peer.ID) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connectCalls[id]
}

// DisconnectCalls Disconnect 调用次数
func (f *FakeTransport) DisconnectCalls(id peer.ID) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.disconnectCalls[id]
}

// IsConnected 当前是否连接
func (f *FakeTransport) IsConnected(id peer.ID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected[id]
}

var (
	_ resilience.Transport     = (*FakeTransport)(nil)
	_ resilience.PeerInspector = (*FakeTransport)(nil)
)
