// Package schedule 周期任务调度
//
// Job 按固定间隔在注入的时钟上执行任务函数，保证同一时刻只有一次执行在进行：
// 上一次执行未完成时到期的触发直接跳过并计数。
package schedule

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/weisyn/meshguard/pkg/interfaces/infrastructure/clock"
	"github.com/weisyn/meshguard/pkg/interfaces/infrastructure/log"
)

// Func 任务函数；ctx 在 Stop 时取消
type Func func(ctx context.Context)

// Job 周期任务
type Job struct {
	name     string
	interval time.Duration
	clk      clock.Clock
	fn       Func
	logger   log.Logger

	inFlight atomic.Bool
	skipped  atomic.Uint64
	runs     atomic.Uint64

	// 运行控制
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	running   bool
	runningMu sync.Mutex
}

// NewJob 创建周期任务；logger 可为 nil
func NewJob(name string, interval time.Duration, clk clock.Clock, fn Func, logger log.Logger) *Job {
	return &Job{
		name:     name,
		interval: interval,
		clk:      clk,
		fn:       fn,
		logger:   logger,
	}
}

// Start 启动调度循环
func (j *Job) Start(parent context.Context) error {
	j.runningMu.Lock()
	defer j.runningMu.Unlock()

	if j.running {
		return fmt.Errorf("job %s already running", j.name)
	}
	if j.interval <= 0 {
		return fmt.Errorf("job %s: interval must be > 0", j.name)
	}

	j.ctx, j.cancel = context.WithCancel(parent)
	j.running = true

	j.wg.Add(1)
	go j.loop(j.ctx)

	if j.logger != nil {
		j.logger.Debugf("周期任务已启动: job=%s interval=%s", j.name, j.interval)
	}
	return nil
}

// Stop 停止调度并等待进行中的执行结束
func (j *Job) Stop() {
	j.runningMu.Lock()
	if !j.running {
		j.runningMu.Unlock()
		return
	}
	j.running = false
	j.cancel()
	j.runningMu.Unlock()

	j.wg.Wait()

	if j.logger != nil {
		j.logger.Debugf("周期任务已停止: job=%s runs=%d skipped=%d", j.name, j.runs.Load(), j.skipped.Load())
	}
}

// IsRunning 是否在调度中
func (j *Job) IsRunning() bool {
	j.runningMu.Lock()
	defer j.runningMu.Unlock()
	return j.running
}

// TriggerNow 立即执行一次（同步）；已有执行在进行时跳过并返回 false
func (j *Job) TriggerNow(ctx context.Context) bool {
	return j.run(ctx)
}

// Skipped 因重叠而跳过的次数
func (j *Job) Skipped() uint64 { return j.skipped.Load() }

// Runs 已完成的执行次数
func (j *Job) Runs() uint64 { return j.runs.Load() }

func (j *Job) loop(ctx context.Context) {
	defer j.wg.Done()

	ticker := j.clk.Ticker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// 在独立 goroutine 中执行，保证重叠的触发能被观测并跳过
			if j.inFlight.Load() {
				j.skipped.Add(1)
				if j.logger != nil {
					j.logger.Debugf("上一轮尚未完成，跳过本轮: job=%s", j.name)
				}
				continue
			}
			j.wg.Add(1)
			go func() {
				defer j.wg.Done()
				j.run(ctx)
			}()
		}
	}
}

func (j *Job) run(ctx context.Context) bool {
	if !j.inFlight.CompareAndSwap(false, true) {
		j.skipped.Add(1)
		return false
	}
	defer j.inFlight.Store(false)

	defer func() {
		if r := recover(); r != nil && j.logger != nil {
			j.logger.Errorf("周期任务 panic: job=%s err=%v", j.name, r)
		}
	}()

	j.fn(ctx)
	j.runs.Add(1)
	return true
}
