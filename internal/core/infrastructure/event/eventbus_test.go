package event

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	eventconfig "github.com/weisyn/meshguard/internal/config/event"
	"github.com/weisyn/meshguard/pkg/constants/events"
	"github.com/weisyn/meshguard/pkg/interfaces/infrastructure/event"
)

func TestEventBus(t *testing.T) {
	eventBus := New(eventconfig.New(nil))

	// 同步订阅
	var receivedData string
	handler := func(data string) {
		receivedData = data
	}
	require.NoError(t, eventBus.Subscribe(event.EventType("test-event"), handler))
	eventBus.Publish(event.EventType("test-event"), "hello world")
	assert.Equal(t, "hello world", receivedData)

	// 异步订阅
	var mu sync.Mutex
	var asyncData string
	asyncHandler := func(data string) {
		time.Sleep(10 * time.Millisecond)
		mu.Lock()
		asyncData = data
		mu.Unlock()
	}
	require.NoError(t, eventBus.SubscribeAsync(event.EventType("async-event"), asyncHandler, false))
	eventBus.Publish(event.EventType("async-event"), "async data")
	eventBus.WaitAsync()
	mu.Lock()
	assert.Equal(t, "async data", asyncData)
	mu.Unlock()

	// 取消订阅后不再接收
	require.NoError(t, eventBus.Unsubscribe(event.EventType("test-event"), handler))
	receivedData = ""
	eventBus.Publish(event.EventType("test-event"), "should not receive")
	assert.Empty(t, receivedData)
}

func TestEventBus_Disabled(t *testing.T) {
	eventBus := New(eventconfig.NewFromOptions(&eventconfig.EventOptions{Enabled: false}))

	called := false
	require.NoError(t, eventBus.Subscribe(event.EventType("x"), func() { called = true }))
	eventBus.Publish(event.EventType("x"))

	assert.False(t, called)
	assert.False(t, eventBus.HasCallback(event.EventType("x")))
}

func TestEventBus_History(t *testing.T) {
	eventBus := New(eventconfig.New(nil))
	et := event.EventType("history-event")

	// 未开启时不记录
	eventBus.Publish(et, 0)
	assert.Nil(t, eventBus.GetEventHistory(et))

	require.Error(t, eventBus.EnableEventHistory(et, 0))
	require.NoError(t, eventBus.EnableEventHistory(et, 3))
	for i := 1; i <= 5; i++ {
		eventBus.Publish(et, i)
	}
	assert.Equal(t, []interface{}{3, 4, 5}, eventBus.GetEventHistory(et))

	// 多参数保存为切片
	eventBus.Publish(et, "a", "b")
	h := eventBus.GetEventHistory(et)
	require.Len(t, h, 3)
	assert.Equal(t, []interface{}{"a", "b"}, h[2])

	// 缩小上限时截断
	require.NoError(t, eventBus.EnableEventHistory(et, 1))
	assert.Len(t, eventBus.GetEventHistory(et), 1)

	require.NoError(t, eventBus.DisableEventHistory(et))
	assert.Nil(t, eventBus.GetEventHistory(et))
}

func TestCreateEventServices_EnablesResilienceHistory(t *testing.T) {
	out, err := CreateEventServices(ServiceInput{})
	require.NoError(t, err)

	out.EventBus.Publish(events.EventTypeModeChanged, "payload")
	assert.Equal(t, []interface{}{"payload"}, out.EventBus.GetEventHistory(events.EventTypeModeChanged))
}
