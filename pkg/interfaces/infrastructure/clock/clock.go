// Package clock provides the injectable time source used by every scheduled job.
package clock

import (
	"context"
	"time"

	benclock "github.com/benbjohnson/clock"
)

// Timer 与 Ticker 直接复用 benbjohnson/clock 的类型，真实时钟与 Mock 时钟共用
type (
	Timer  = benclock.Timer
	Ticker = benclock.Ticker
)

// Clock 提供统一的时间源接口（基础设施层接口）
//
// 所有周期任务、超时与退避定时器都必须通过 Clock 创建，
// 以便测试中用 Mock 时钟确定性地推进时间。
type Clock interface {
	// Now 获取当前时间
	Now() time.Time

	// Since 计算从指定时间到现在的持续时间
	Since(t time.Time) time.Duration

	// AfterFunc 在 d 之后于独立 goroutine 中执行 f
	AfterFunc(d time.Duration, f func()) *Timer

	// Ticker 创建周期触发器
	Ticker(d time.Duration) *Ticker

	// WithTimeout 创建受本时钟驱动的超时上下文
	WithTimeout(parent context.Context, t time.Duration) (context.Context, context.CancelFunc)
}
