package recovery

import (
	"math"
	"time"
)

// Backoff 指数退避：
// - 第 attempt 次（从 0 开始）的等待时间为 base × factor^attempt；
// - 结果不超过 max；
// - 无抖动，同一配置下序列确定，便于用 Mock 时钟复现。
type Backoff struct {
	base   time.Duration
	max    time.Duration
	factor float64
}

// NewBackoff 创建退避实例，非法参数回落到默认值
func NewBackoff(base, max time.Duration, factor float64) Backoff {
	if base <= 0 {
		base = time.Second
	}
	if max <= 0 || max < base {
		max = 60 * time.Second
	}
	if factor < 1.0 {
		factor = 2.0
	}
	return Backoff{base: base, max: max, factor: factor}
}

// Delay 第 attempt 次重连前的等待时间
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := float64(b.base) * math.Pow(b.factor, float64(attempt))
	// 溢出或超过上限时直接取上限
	if math.IsInf(d, 0) || math.IsNaN(d) || d >= float64(b.max) {
		return b.max
	}
	return time.Duration(d)
}

// Max 退避上限
func (b Backoff) Max() time.Duration { return b.max }
