package host

import (
	"crypto/rand"
	"fmt"
	"os"
	"path/filepath"
	"time"

	libp2p "github.com/libp2p/go-libp2p"
	libp2pcrypto "github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/metrics"
	"github.com/libp2p/go-libp2p/p2p/net/connmgr"

	p2pcfg "github.com/weisyn/meshguard/internal/config/p2p"
)

const (
	defaultLowWater    = 8
	defaultHighWater   = 64
	defaultGracePeriod = 30 * time.Second
)

// buildOptions 组装 libp2p 选项
func buildOptions(cfg *p2pcfg.Options, bw *metrics.BandwidthCounter) ([]libp2p.Option, error) {
	var opts []libp2p.Option

	if len(cfg.ListenAddrs) > 0 {
		opts = append(opts, libp2p.ListenAddrStrings(cfg.ListenAddrs...))
	} else {
		opts = append(opts, libp2p.NoListenAddrs)
	}

	identity, err := withIdentityOptions(cfg)
	if err != nil {
		return nil, err
	}
	opts = append(opts, identity...)

	cm, err := withConnectionManagerOptions(cfg)
	if err != nil {
		return nil, err
	}
	opts = append(opts, cm...)

	// 带宽统计供 PeerInspector 使用
	opts = append(opts, libp2p.BandwidthReporter(bw))
	return opts, nil
}

// ============= 身份选项 =============

func withIdentityOptions(cfg *p2pcfg.Options) ([]libp2p.Option, error) {
	if cfg.IdentityKeyPath == "" {
		// 未配置身份，使用 libp2p 默认临时身份
		return nil, nil
	}
	privKey, err := loadOrCreateIdentityKey(cfg.IdentityKeyPath)
	if err != nil {
		return nil, err
	}
	return []libp2p.Option{libp2p.Identity(privKey)}, nil
}

// loadOrCreateIdentityKey 从文件加载身份密钥，文件不存在时生成 Ed25519 密钥并保存
func loadOrCreateIdentityKey(keyPath string) (libp2pcrypto.PrivKey, error) {
	absPath, err := filepath.Abs(keyPath)
	if err != nil {
		return nil, fmt.Errorf("resolve key file path: %w", err)
	}

	keyBytes, err := os.ReadFile(absPath)
	if err == nil {
		privKey, err := libp2pcrypto.UnmarshalPrivateKey(keyBytes)
		if err != nil {
			return nil, fmt.Errorf("unmarshal private key: %w", err)
		}
		return privKey, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read identity key file: %w", err)
	}

	privKey, _, err := libp2pcrypto.GenerateEd25519Key(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate identity key: %w", err)
	}
	keyBytes, err = libp2pcrypto.MarshalPrivateKey(privKey)
	if err != nil {
		return nil, fmt.Errorf("marshal private key: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
		return nil, fmt.Errorf("create key directory: %w", err)
	}
	// 仅所有者可读写
	if err := os.WriteFile(absPath, keyBytes, 0o600); err != nil {
		return nil, fmt.Errorf("save identity key file: %w", err)
	}
	return privKey, nil
}

// ============= 连接管理选项 =============

func withConnectionManagerOptions(cfg *p2pcfg.Options) ([]libp2p.Option, error) {
	lowWater := cfg.LowWater
	if lowWater <= 0 {
		lowWater = defaultLowWater
	}
	highWater := cfg.HighWater
	if highWater <= 0 {
		highWater = defaultHighWater
	}
	gracePeriod := cfg.GracePeriod
	if gracePeriod <= 0 {
		gracePeriod = defaultGracePeriod
	}

	cm, err := connmgr.NewConnManager(lowWater, highWater, connmgr.WithGracePeriod(gracePeriod))
	if err != nil {
		return nil, fmt.Errorf("create connection manager: %w", err)
	}
	return []libp2p.Option{libp2p.ConnectionManager(cm)}, nil
}
