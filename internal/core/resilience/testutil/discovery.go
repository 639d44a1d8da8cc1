package testutil

import (
	"context"
	"sync"

	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/weisyn/meshguard/pkg/interfaces/resilience"
	"github.com/weisyn/meshguard/pkg/types"
)

// FakeDiscovery 可脚本化的 Discovery
type FakeDiscovery struct {
	mu         sync.Mutex
	candidates []peer.AddrInfo
	findErr    error
	joinErr    error
	findCalls  int
	joined     [][]string
	namespaces []string
}

// NewFakeDiscovery 创建假 Discovery，FindPeers 返回给定候选
func NewFakeDiscovery(candidates ...peer.ID) *FakeDiscovery {
	d := &FakeDiscovery{}
	d.SetCandidates(candidates...)
	return d
}

// SetCandidates 设置候选 peer
func (d *FakeDiscovery) SetCandidates(ids ...peer.ID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.candidates = d.candidates[:0]
	for _, id := range ids {
		d.candidates = append(d.candidates, peer.AddrInfo{ID: id})
	}
}

// SetFindError 设置 FindPeers 错误
func (d *FakeDiscovery) SetFindError(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.findErr = err
}

// SetJoinError 设置 Join 错误
func (d *FakeDiscovery) SetJoinError(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.joinErr = err
}

// FindPeers 实现 Discovery
func (d *FakeDiscovery) FindPeers(ctx context.Context, namespace string, limit int) ([]peer.AddrInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.findCalls++
	d.namespaces = append(d.namespaces, namespace)
	if d.findErr != nil {
		return nil, d.findErr
	}
	out := append([]peer.AddrInfo(nil), d.candidates...)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Join 实现 Discovery
func (d *FakeDiscovery) Join(ctx context.Context, topics []string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.joined = append(d.joined, append([]string(nil), topics...))
	return d.joinErr
}

// FindCalls FindPeers 调用次数
func (d *FakeDiscovery) FindCalls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.findCalls
}

// JoinCalls Join 调用记录
func (d *FakeDiscovery) JoinCalls() [][]string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([][]string(nil), d.joined...)
}

// FakeOverlay 可设置的 OverlayStatus
type FakeOverlay struct {
	mu      sync.Mutex
	running bool
	size    int
}

// NewFakeOverlay 创建假 OverlayStatus
func NewFakeOverlay(running bool, size int) *FakeOverlay {
	return &FakeOverlay{running: running, size: size}
}

// Set 更新状态
func (o *FakeOverlay) Set(running bool, size int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.running = running
	o.size = size
}

// IsRunning 实现 OverlayStatus
func (o *FakeOverlay) IsRunning() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.running
}

// RoutingTableSize 实现 OverlayStatus
func (o *FakeOverlay) RoutingTableSize() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.size
}

// FakeProber 固定结果的 ConnectivityProber
type FakeProber struct {
	Result types.ConnectivityProbeResult
	Err    error
}

// Probe 实现 ConnectivityProber
func (p *FakeProber) Probe(ctx context.Context) (types.ConnectivityProbeResult, error) {
	return p.Result, p.Err
}

var (
	_ resilience.Discovery          = (*FakeDiscovery)(nil)
	_ resilience.OverlayStatus      = (*FakeOverlay)(nil)
	_ resilience.ConnectivityProber = (*FakeProber)(nil)
)
