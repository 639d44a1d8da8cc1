package recovery

import (
	"context"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/weisyn/meshguard/pkg/constants/events"
	"github.com/weisyn/meshguard/pkg/types"
)

// scheduleRecoveryLocked 按当前已用次数安排下一次重连
// 每个 peer 最多一个排队中的定时器，重新调度会先停掉旧的；次数耗尽或正在重连时不调度
func (m *Manager) scheduleRecoveryLocked(id peer.ID) {
	if m.destroyed {
		return
	}
	st, ok := m.recovery[id]
	if !ok {
		st = &recoveryState{}
		m.recovery[id] = st
	}
	if st.inProgress || st.attempts >= m.cfg.MaxReconnectAttempts {
		return
	}
	m.armTimerLocked(id, st, m.backoff.Delay(st.attempts))
}

// armTimerLocked 替换 peer 的重连定时器
func (m *Manager) armTimerLocked(id peer.ID, st *recoveryState, delay time.Duration) {
	if st.timer != nil {
		st.timer.Stop()
	}
	st.gen++
	gen := st.gen
	st.timer = m.clk.AfterFunc(delay, func() { m.onRecoveryTimer(id, gen) })

	if m.logger != nil {
		m.logger.Debugf("已安排重连: peer=%s attempt=%d delay=%s", id, st.attempts+1, delay)
	}
}

// clearRecoveryLocked 清除重连状态与定时器
func (m *Manager) clearRecoveryLocked(id peer.ID) {
	st, ok := m.recovery[id]
	if !ok {
		return
	}
	if st.timer != nil {
		st.timer.Stop()
	}
	delete(m.recovery, id)
}

// onRecoveryTimer 定时器回调；过期（已被重新调度或清除）的回调直接丢弃
func (m *Manager) onRecoveryTimer(id peer.ID, gen uint64) {
	m.mu.Lock()
	st, ok := m.recovery[id]
	if m.destroyed || !ok || st.gen != gen || st.timer == nil {
		m.mu.Unlock()
		return
	}
	st.timer = nil
	m.wg.Add(1)
	m.mu.Unlock()
	defer m.wg.Done()

	m.RecoverPeerConnection(m.ctx, id)
}

// RecoverPeerConnection 对 peer 执行一次重连：断开旧连接，等待稳定间隔，再重新连接
//
// 返回 true 表示重连成功。次数耗尽时发出 peer.recovery.failed 并返回 false，不再安排定时器。
func (m *Manager) RecoverPeerConnection(ctx context.Context, id peer.ID) bool {
	m.mu.Lock()
	if m.destroyed {
		m.mu.Unlock()
		return false
	}
	st, ok := m.recovery[id]
	if !ok {
		st = &recoveryState{}
		m.recovery[id] = st
	}
	if st.inProgress {
		m.mu.Unlock()
		return false
	}
	if st.attempts >= m.cfg.MaxReconnectAttempts {
		if st.timer != nil {
			st.timer.Stop()
			st.timer = nil
		}
		attempts := st.attempts
		m.mu.Unlock()

		m.publish([]emission{{events.EventTypePeerRecoveryFailed, types.PeerRecoveryFailedEvent{PeerID: id, Attempts: attempts}}})
		if m.logger != nil {
			m.logger.Warnf("重连次数已耗尽: peer=%s attempts=%d", id, attempts)
		}
		return false
	}
	if st.timer != nil {
		st.timer.Stop()
		st.timer = nil
	}
	st.attempts++
	st.inProgress = true
	attempt := st.attempts
	m.mu.Unlock()

	if m.logger != nil {
		m.logger.Infof("开始重连: peer=%s attempt=%d/%d", id, attempt, m.cfg.MaxReconnectAttempts)
	}

	err := m.reconnect(ctx, id)

	var out []emission
	m.mu.Lock()
	st.inProgress = false
	// 重连期间已被销毁或被替换流程放弃
	if cur, ok := m.recovery[id]; m.destroyed || !ok || cur != st {
		m.mu.Unlock()
		return err == nil
	}

	if err == nil {
		delete(m.recovery, id)
		now := m.clk.Now()
		rec, ok := m.records[id]
		if !ok {
			rec = &types.PeerHealth{PeerID: id, Quality: types.QualityGood}
			m.records[id] = rec
		}
		wasHealthy := rec.IsHealthy
		rec.IsHealthy = true
		rec.LastSeen = now
		if rec.Quality == types.QualityCritical {
			rec.Quality = types.QualityPoor
		}
		out = append(out, emission{events.EventTypePeerRecovered, types.PeerRecoveredEvent{PeerID: id, Attempts: attempt}})
		if !wasHealthy {
			out = append(out, emission{events.EventTypePeerHealthy, types.PeerHealthEvent{PeerID: id, Health: *rec}})
		}
		m.mu.Unlock()

		m.publish(out)
		if m.logger != nil {
			m.logger.Infof("重连成功: peer=%s attempts=%d", id, attempt)
		}
		return true
	}

	failed := types.PeerRecoveryAttemptFailedEvent{PeerID: id, Attempt: attempt, Error: err.Error()}
	if attempt < m.cfg.MaxReconnectAttempts {
		failed.NextDelay = m.backoff.Delay(attempt)
		m.armTimerLocked(id, st, failed.NextDelay)
		out = append(out, emission{events.EventTypePeerRecoveryAttemptFailed, failed})
	} else {
		out = append(out,
			emission{events.EventTypePeerRecoveryAttemptFailed, failed},
			emission{events.EventTypePeerRecoveryFailed, types.PeerRecoveryFailedEvent{PeerID: id, Attempts: attempt}},
		)
	}
	m.mu.Unlock()

	m.publish(out)
	if m.logger != nil {
		m.logger.Warnf("重连失败: peer=%s attempt=%d next=%s err=%v", id, attempt, failed.NextDelay, err)
	}
	return false
}

// reconnect 断开、等待稳定间隔、重新连接
func (m *Manager) reconnect(ctx context.Context, id peer.ID) error {
	if err := m.transport.Disconnect(ctx, id); err != nil && m.logger != nil {
		m.logger.Debugf("断开旧连接失败（忽略）: peer=%s err=%v", id, err)
	}
	if err := m.sleep(ctx, m.cfg.ReconnectSettleDelay); err != nil {
		return err
	}
	return m.transport.Connect(ctx, peer.AddrInfo{ID: id})
}

// sleep 在注入的时钟上等待 d，ctx 取消时提前返回
func (m *Manager) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	sctx, cancel := m.clk.WithTimeout(ctx, d)
	defer cancel()
	<-sctx.Done()
	return ctx.Err()
}
