package clock

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMockClock_DrivesTimersAndTimeouts(t *testing.T) {
	mock := NewMockClock()

	var fired atomic.Bool
	mock.AfterFunc(time.Second, func() { fired.Store(true) })

	ctx, cancel := mock.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	mock.Add(time.Second)
	assert.Eventually(t, fired.Load, time.Second, 5*time.Millisecond)
	assert.NoError(t, ctx.Err())

	mock.Add(time.Second)
	assert.Eventually(t, func() bool { return ctx.Err() != nil }, time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, ctx.Err(), context.DeadlineExceeded)
}

func TestSystemClock_Monotonic(t *testing.T) {
	c := NewSystemClock()
	start := c.Now()
	assert.GreaterOrEqual(t, c.Since(start), time.Duration(0))
}
