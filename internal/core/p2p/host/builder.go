// Package host 根据 P2P 配置构建 libp2p Host
package host

import (
	"fmt"

	libp2p "github.com/libp2p/go-libp2p"
	lphost "github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/metrics"

	p2pcfg "github.com/weisyn/meshguard/internal/config/p2p"
	"github.com/weisyn/meshguard/pkg/interfaces/infrastructure/log"
)

// Built 构建结果：Host 与其带宽计数器
type Built struct {
	Host      lphost.Host
	Bandwidth *metrics.BandwidthCounter
}

// Build 根据 P2P 配置构建 libp2p Host
func Build(opts *p2pcfg.Options, logger log.Logger) (*Built, error) {
	if opts == nil {
		opts = p2pcfg.DefaultOptions()
	}

	bw := metrics.NewBandwidthCounter()
	libp2pOpts, err := buildOptions(opts, bw)
	if err != nil {
		return nil, err
	}

	h, err := libp2p.New(libp2pOpts...)
	if err != nil {
		return nil, fmt.Errorf("create libp2p host: %w", err)
	}

	if logger != nil {
		logger.Infof("libp2p host 已创建: id=%s addrs=%v", h.ID(), h.Addrs())
	}
	return &Built{Host: h, Bandwidth: bw}, nil
}
