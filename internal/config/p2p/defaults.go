package p2p

import "time"

// DefaultOptions 返回默认 P2P 配置
func DefaultOptions() *Options {
	return &Options{
		ListenAddrs:        []string{"/ip4/0.0.0.0/tcp/28783", "/ip4/0.0.0.0/udp/28783/quic-v1"},
		BootstrapPeers:     []string{},
		EnableDHT:          true,
		DHTMode:            "auto",
		ProtocolPrefix:     "/meshguard",
		DiscoveryNamespace: "meshguard/peers",
		Topics:             []string{"meshguard/presence"},
		LowWater:           8,
		HighWater:          64,
		GracePeriod:        30 * time.Second,
		StunServer:         "",
		StunTimeout:        3 * time.Second,
	}
}
