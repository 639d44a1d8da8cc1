package p2p

import (
	"fmt"
	"strings"
	"time"

	libpeer "github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"

	"github.com/weisyn/meshguard/pkg/types"
)

// Options P2P 配置选项
type Options struct {
	// 监听地址
	ListenAddrs []string

	// 引导节点（带 /p2p/<id> 的 multiaddr），分区恢复时优先重连
	BootstrapPeers []string

	// DHT 配置
	EnableDHT      bool
	DHTMode        string // "auto" / "server" / "client"
	ProtocolPrefix string

	// Rendezvous 命名空间（FindPeers / Advertise）
	DiscoveryNamespace string

	// overlay 主题（分区恢复时 Join）
	Topics []string

	// 连接管理
	LowWater    int
	HighWater   int
	GracePeriod time.Duration

	// STUN 基础连通性探测，空串关闭
	StunServer  string
	StunTimeout time.Duration

	// 节点身份私钥文件，空串使用临时身份
	IdentityKeyPath string
}

// NewFromAppConfig 由用户配置生成 P2P 选项
func NewFromAppConfig(appConfig *types.AppConfig) (*Options, error) {
	opts := DefaultOptions()
	if appConfig == nil || appConfig.P2P == nil {
		return opts, nil
	}
	u := appConfig.P2P

	if len(u.ListenAddrs) > 0 {
		opts.ListenAddrs = append([]string(nil), u.ListenAddrs...)
	}
	if len(u.BootstrapPeers) > 0 {
		valid, invalid := validateBootstrapPeers(u.BootstrapPeers)
		if len(invalid) > 0 {
			return nil, fmt.Errorf("invalid bootstrap peers: %s", strings.Join(invalid, ", "))
		}
		opts.BootstrapPeers = valid
	}
	if u.Rendezvous != nil && *u.Rendezvous != "" {
		opts.DiscoveryNamespace = *u.Rendezvous
	}
	if u.ProtocolPrefix != nil && *u.ProtocolPrefix != "" {
		opts.ProtocolPrefix = *u.ProtocolPrefix
	}
	if len(u.Topics) > 0 {
		opts.Topics = append([]string(nil), u.Topics...)
	}
	if u.MinConns != nil {
		opts.LowWater = *u.MinConns
	}
	if u.MaxConns != nil {
		opts.HighWater = *u.MaxConns
	}
	if u.StunServer != nil {
		opts.StunServer = *u.StunServer
	}
	if u.IdentityKey != nil {
		opts.IdentityKeyPath = *u.IdentityKey
	}

	if opts.HighWater < opts.LowWater {
		return nil, fmt.Errorf("max_conns (%d) must be >= min_conns (%d)", opts.HighWater, opts.LowWater)
	}
	return opts, nil
}

// BootstrapAddrInfos 解析引导节点
func (o *Options) BootstrapAddrInfos() []libpeer.AddrInfo {
	out := make([]libpeer.AddrInfo, 0, len(o.BootstrapPeers))
	for _, s := range o.BootstrapPeers {
		info, err := libpeer.AddrInfoFromString(s)
		if err != nil {
			continue
		}
		out = append(out, *info)
	}
	return out
}

// GetBootstrapPeers 引导节点原始字符串
func (o *Options) GetBootstrapPeers() []string {
	if o == nil {
		return nil
	}
	return o.BootstrapPeers
}

func validateBootstrapPeers(peers []string) (valid []string, invalid []string) {
	for _, p := range peers {
		m, err := ma.NewMultiaddr(p)
		if err != nil {
			invalid = append(invalid, p)
			continue
		}
		if _, err := libpeer.AddrInfoFromP2pAddr(m); err != nil {
			invalid = append(invalid, p)
			continue
		}
		valid = append(valid, p)
	}
	return valid, invalid
}
