package schedule

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	benclock "github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJob_RunsOnEachTick(t *testing.T) {
	mock := benclock.NewMock()
	var count atomic.Int32

	job := NewJob("tick", time.Second, mock, func(ctx context.Context) { count.Add(1) }, nil)
	require.NoError(t, job.Start(context.Background()))
	defer job.Stop()

	// 等待 ticker 注册到 mock 时钟
	time.Sleep(20 * time.Millisecond)

	for i := 1; i <= 3; i++ {
		mock.Add(time.Second)
		want := int32(i)
		assert.Eventually(t, func() bool { return count.Load() == want }, time.Second, 5*time.Millisecond)
	}
}

func TestJob_SkipsOverlappingRuns(t *testing.T) {
	mock := benclock.NewMock()
	release := make(chan struct{})
	var started atomic.Int32

	job := NewJob("slow", time.Second, mock, func(ctx context.Context) {
		started.Add(1)
		select {
		case <-release:
		case <-ctx.Done():
		}
	}, nil)
	require.NoError(t, job.Start(context.Background()))

	time.Sleep(20 * time.Millisecond)
	mock.Add(time.Second)
	assert.Eventually(t, func() bool { return started.Load() == 1 }, time.Second, 5*time.Millisecond)

	// 第一轮未完成时再触发
	assert.False(t, job.TriggerNow(context.Background()))
	assert.GreaterOrEqual(t, job.Skipped(), uint64(1))

	close(release)
	assert.Eventually(t, func() bool { return job.Runs() == 1 }, time.Second, 5*time.Millisecond)

	job.Stop()
	assert.False(t, job.IsRunning())
	assert.Equal(t, int32(1), started.Load())
}

func TestJob_StartTwice(t *testing.T) {
	job := NewJob("dup", time.Second, benclock.NewMock(), func(context.Context) {}, nil)
	require.NoError(t, job.Start(context.Background()))
	defer job.Stop()
	assert.Error(t, job.Start(context.Background()))
}

func TestJob_InvalidInterval(t *testing.T) {
	job := NewJob("zero", 0, benclock.NewMock(), func(context.Context) {}, nil)
	assert.Error(t, job.Start(context.Background()))
}

func TestJob_TriggerNowRecoversPanic(t *testing.T) {
	job := NewJob("panic", time.Second, benclock.NewMock(), func(context.Context) { panic("boom") }, nil)
	assert.NotPanics(t, func() { job.TriggerNow(context.Background()) })
}
