// Package stunprobe 基于 STUN Binding 请求的基础外网连通性探测
package stunprobe

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	benclock "github.com/benbjohnson/clock"
	"github.com/pion/stun/v3"

	"github.com/weisyn/meshguard/pkg/interfaces/infrastructure/clock"
	"github.com/weisyn/meshguard/pkg/interfaces/resilience"
	"github.com/weisyn/meshguard/pkg/types"
)

// ErrNoServer 未配置 STUN 服务器
var ErrNoServer = errors.New("stunprobe: no STUN server configured")

// Prober STUN 探测器
type Prober struct {
	server  string
	timeout time.Duration
	clk     clock.Clock
}

// New 创建探测器；server 形如 stun:host:port 或 host:port
func New(server string, timeout time.Duration, clk clock.Clock) *Prober {
	if clk == nil {
		clk = benclock.New()
	}
	return &Prober{server: strings.TrimSpace(server), timeout: timeout, clk: clk}
}

// Probe 发送一次 Binding 请求
//
// 服务器不可达（拨号失败、超时、错误响应）返回 Reachable=false 而非错误；
// 只有配置错误或 ctx 被取消时返回错误。
func (p *Prober) Probe(ctx context.Context) (types.ConnectivityProbeResult, error) {
	res := types.ConnectivityProbeResult{Server: p.server}
	if p.server == "" {
		return res, ErrNoServer
	}
	if err := ctx.Err(); err != nil {
		return res, err
	}

	uriStr := p.server
	if !strings.HasPrefix(uriStr, "stun:") {
		uriStr = "stun:" + uriStr
	}
	uri, err := stun.ParseURI(uriStr)
	if err != nil {
		return res, fmt.Errorf("parse STUN uri %q: %w", p.server, err)
	}

	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	start := p.clk.Now()
	addr, err := p.bind(ctx, uri)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return res, err
		}
		return res, nil
	}
	res.Reachable = true
	res.PublicAddress = addr
	res.RTT = p.clk.Since(start)
	return res, nil
}

func (p *Prober) bind(ctx context.Context, uri *stun.URI) (string, error) {
	client, err := stun.DialURI(uri, &stun.DialConfig{})
	if err != nil {
		return "", err
	}
	defer client.Close()

	msg := stun.MustBuild(stun.TransactionID, stun.BindingRequest)
	result := make(chan stun.XORMappedAddress, 1)
	fail := make(chan error, 1)

	go func() {
		var addr stun.XORMappedAddress
		err := client.Do(msg, func(ev stun.Event) {
			if ev.Error != nil {
				fail <- ev.Error
				return
			}
			if err := addr.GetFrom(ev.Message); err != nil {
				fail <- err
				return
			}
			result <- addr
		})
		if err != nil {
			fail <- err
		}
	}()

	select {
	case addr := <-result:
		return addr.String(), nil
	case err := <-fail:
		return "", err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

var _ resilience.ConnectivityProber = (*Prober)(nil)
