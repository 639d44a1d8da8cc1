package recovery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/weisyn/meshguard/pkg/constants/events"
	"github.com/weisyn/meshguard/pkg/types"
)

// evaluatePartitionLocked 根据本轮健康比例打开或关闭分区记录
//
// 打开：healthyRatio < 1 − PartitionThreshold 且 total > 2；
// 关闭：healthyRatio > PartitionRecoveryRatio，设置 RecoveredAt 后丢弃记录。
func (m *Manager) evaluatePartitionLocked(ratio float64, total int, unhealthy []peer.ID, now time.Time) []emission {
	if m.partition == nil {
		if total <= 2 || ratio >= 1-m.cfg.PartitionThreshold {
			return nil
		}
		p := &types.NetworkPartition{
			ID:            uuid.New().String(),
			Detected:      true,
			PartitionSize: len(unhealthy),
			IsolatedPeers: append([]peer.ID(nil), unhealthy...),
			DetectedAt:    now,
		}
		m.partition = p
		id := p.ID
		m.partitionTimer = m.clk.AfterFunc(m.cfg.PartitionRecoveryTimeout, func() { m.onPartitionTimeout(id) })

		if m.logger != nil {
			m.logger.Warnf("检测到网络分区: id=%s isolated=%d total=%d ratio=%.2f", p.ID, len(unhealthy), total, ratio)
		}
		return []emission{{events.EventTypeNetworkPartitionDetected, types.NetworkPartitionEvent{Partition: p.Clone()}}}
	}

	if ratio <= m.cfg.PartitionRecoveryRatio {
		// 仍处于分区中，更新孤立集合
		m.partition.IsolatedPeers = append(m.partition.IsolatedPeers[:0], unhealthy...)
		m.partition.PartitionSize = len(unhealthy)
		return nil
	}

	p := m.partition
	recoveredAt := now
	if recoveredAt.Before(p.DetectedAt) {
		recoveredAt = p.DetectedAt
	}
	p.RecoveredAt = &recoveredAt
	m.partition = nil
	if m.partitionTimer != nil {
		m.partitionTimer.Stop()
		m.partitionTimer = nil
	}

	if m.logger != nil {
		m.logger.Infof("网络分区已恢复: id=%s duration=%s ratio=%.2f", p.ID, recoveredAt.Sub(p.DetectedAt), ratio)
	}
	return []emission{{events.EventTypeNetworkPartitionRecovered, types.NetworkPartitionEvent{Partition: p.Clone()}}}
}

// onPartitionTimeout 分区恢复超时：只上报，不升级处理
func (m *Manager) onPartitionTimeout(id string) {
	m.mu.Lock()
	if m.destroyed || m.partition == nil || m.partition.ID != id {
		m.mu.Unlock()
		return
	}
	m.partitionTimer = nil
	p := m.partition.Clone()
	m.mu.Unlock()

	if m.logger != nil {
		m.logger.Warnf("网络分区恢复超时: id=%s detected_at=%s", p.ID, p.DetectedAt.Format(time.RFC3339))
	}
	m.publish([]emission{{events.EventTypeNetworkPartitionRecoveryTimeout, types.NetworkPartitionEvent{Partition: p}}})
}

// recoverPartition 三个互补动作：重连引导节点、主动发现新 peer、重新加入 overlay
// 各动作独立执行，错误合并返回
func (m *Manager) recoverPartition(ctx context.Context) error {
	var errs []error

	// (a) 引导节点
	for _, info := range m.cfg.BootstrapPeers {
		if err := m.transport.Connect(ctx, info); err != nil {
			errs = append(errs, fmt.Errorf("bootstrap %s: %w", info.ID, err))
		}
	}

	if m.discovery == nil {
		return errors.Join(errs...)
	}

	// (b) 主动发现
	limit := m.cfg.ReplacementQueryLimit * 2
	candidates, err := m.discovery.FindPeers(ctx, m.cfg.DiscoveryNamespace, limit)
	if err != nil {
		errs = append(errs, fmt.Errorf("find peers: %w", err))
	}
	connected := toSet(m.transport.ConnectedPeers())
	for _, info := range candidates {
		if _, ok := connected[info.ID]; ok {
			continue
		}
		if err := m.transport.Connect(ctx, info); err != nil {
			if m.logger != nil {
				m.logger.Debugf("分区恢复连接候选失败: peer=%s err=%v", info.ID, err)
			}
			continue
		}
		connected[info.ID] = struct{}{}
	}

	// (c) 重新加入 overlay
	if len(m.cfg.Topics) > 0 {
		if err := m.discovery.Join(ctx, m.cfg.Topics); err != nil {
			errs = append(errs, fmt.Errorf("join topics: %w", err))
		}
	}

	return errors.Join(errs...)
}

func toSet(ids []peer.ID) map[peer.ID]struct{} {
	out := make(map[peer.ID]struct{}, len(ids))
	for _, id := range ids {
		out[id] = struct{}{}
	}
	return out
}
