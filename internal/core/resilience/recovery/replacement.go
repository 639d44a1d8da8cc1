package recovery

import (
	"context"
	"sort"

	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/weisyn/meshguard/pkg/constants/events"
	"github.com/weisyn/meshguard/pkg/types"
)

// replaceUnhealthy 不健康 peer 超过 MaxUnhealthyPeers 时，丢弃最差的超出部分并通过发现补齐
func (m *Manager) replaceUnhealthy(ctx context.Context) {
	m.mu.Lock()
	var candidates []types.PeerHealth
	for id, rec := range m.records {
		if rec.IsHealthy {
			continue
		}
		if st, ok := m.recovery[id]; ok && st.inProgress {
			continue
		}
		candidates = append(candidates, *rec)
	}
	excess := len(candidates) - m.cfg.MaxUnhealthyPeers
	if excess <= 0 || m.destroyed {
		m.mu.Unlock()
		return
	}

	sort.Slice(candidates, func(i, j int) bool { return worse(candidates[i], candidates[j]) })
	removed := make([]peer.ID, 0, excess)
	for _, rec := range candidates[:excess] {
		delete(m.records, rec.PeerID)
		m.clearRecoveryLocked(rec.PeerID)
		removed = append(removed, rec.PeerID)
	}
	m.mu.Unlock()

	if m.logger != nil {
		m.logger.Warnf("不健康 peer 过多，执行替换: unhealthy=%d max=%d remove=%d",
			len(candidates), m.cfg.MaxUnhealthyPeers, len(removed))
	}

	for _, id := range removed {
		if err := m.transport.Disconnect(ctx, id); err != nil && m.logger != nil {
			m.logger.Debugf("断开被替换 peer 失败: peer=%s err=%v", id, err)
		}
	}

	added := m.backfill(ctx, len(removed), removed)

	m.publish([]emission{{events.EventTypePeerReplaced, types.PeerReplacedEvent{Removed: removed, Added: added}}})
}

// backfill 通过发现服务连接最多 want 个新 peer，跳过刚被移除和已连接的 peer
func (m *Manager) backfill(ctx context.Context, want int, exclude []peer.ID) []peer.ID {
	if m.discovery == nil || want <= 0 {
		return nil
	}

	limit := m.cfg.ReplacementQueryLimit
	if limit < want {
		limit = want
	}
	candidates, err := m.discovery.FindPeers(ctx, m.cfg.DiscoveryNamespace, limit)
	if err != nil {
		if m.logger != nil {
			m.logger.Warnf("替换 peer 发现失败: %v", err)
		}
		return nil
	}

	skip := toSet(m.transport.ConnectedPeers())
	for _, id := range exclude {
		skip[id] = struct{}{}
	}

	var added []peer.ID
	for _, info := range candidates {
		if len(added) >= want {
			break
		}
		if _, ok := skip[info.ID]; ok {
			continue
		}
		if err := m.transport.Connect(ctx, info); err != nil {
			if m.logger != nil {
				m.logger.Debugf("连接替换候选失败: peer=%s err=%v", info.ID, err)
			}
			continue
		}
		skip[info.ID] = struct{}{}
		added = append(added, info.ID)
	}
	return added
}

// worse 排序：连续失败多者优先，其次丢包高者，再次最久未见者
func worse(a, b types.PeerHealth) bool {
	if a.ConsecutiveFailures != b.ConsecutiveFailures {
		return a.ConsecutiveFailures > b.ConsecutiveFailures
	}
	if a.PacketLoss != b.PacketLoss {
		return a.PacketLoss > b.PacketLoss
	}
	if !a.LastSeen.Equal(b.LastSeen) {
		return a.LastSeen.Before(b.LastSeen)
	}
	return a.PeerID < b.PeerID
}
