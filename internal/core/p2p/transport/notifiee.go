package transport

import (
	"github.com/libp2p/go-libp2p/core/network"
	ma "github.com/multiformats/go-multiaddr"

	"github.com/weisyn/meshguard/pkg/types"
)

// notifiee 实现 network.Notifiee，把 peer 级别的连接变化转发给订阅者
//
// libp2p 按连接回调；同一 peer 有多条连接时只在第一条建立、最后一条关闭时通知。
type notifiee struct {
	t *Transport
}

// Listen 监听地址变化（不处理）
func (n *notifiee) Listen(network.Network, ma.Multiaddr) {}

// ListenClose 监听地址关闭（不处理）
func (n *notifiee) ListenClose(network.Network, ma.Multiaddr) {}

// Connected 处理连接建立
func (n *notifiee) Connected(net network.Network, conn network.Conn) {
	id := conn.RemotePeer()
	if len(net.ConnsToPeer(id)) > 1 {
		return
	}
	if n.t.logger != nil {
		n.t.logger.Debugf("节点连接事件: %s, 方向=%s", id, conn.Stat().Direction)
	}
	n.t.emit(id, types.ConnectionConnected, nil)
}

// Disconnected 处理连接关闭
func (n *notifiee) Disconnected(net network.Network, conn network.Conn) {
	id := conn.RemotePeer()
	if net.Connectedness(id) == network.Connected {
		return
	}
	if n.t.logger != nil {
		n.t.logger.Debugf("节点断连事件: %s, 方向=%s", id, conn.Stat().Direction)
	}
	n.t.emit(id, types.ConnectionDisconnected, nil)
}
