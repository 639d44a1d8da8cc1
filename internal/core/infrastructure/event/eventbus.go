// 基于asaskevich/EventBus的事件总线实现
// 在底层总线之上增加：启用开关、按事件类型的有界历史记录

package event

import (
	"fmt"
	"sync"

	evbus "github.com/asaskevich/EventBus"

	eventconfig "github.com/weisyn/meshguard/internal/config/event"
	"github.com/weisyn/meshguard/pkg/interfaces/infrastructure/event"
)

// EventBus 是基于asaskevich/EventBus的实现
type EventBus struct {
	bus    evbus.Bus           // 底层事件总线
	config *eventconfig.Config // 配置

	// 历史记录：只记录显式开启的事件类型
	historyMu    sync.RWMutex
	historyLimit map[event.EventType]int
	eventHistory map[event.EventType][]interface{}
}

// New 创建事件总线实例
// 所有事件总线实例必须通过此函数创建，确保配置被正确应用
func New(config *eventconfig.Config) *EventBus {
	if config == nil {
		config = eventconfig.NewFromOptions(nil)
	}
	return &EventBus{
		bus:          evbus.New(),
		config:       config,
		historyLimit: make(map[event.EventType]int),
		eventHistory: make(map[event.EventType][]interface{}),
	}
}

// Subscribe 实现订阅
func (eb *EventBus) Subscribe(eventType event.EventType, handler interface{}) error {
	if !eb.config.IsEnabled() {
		return nil // 如果事件系统未启用，静默成功
	}
	return eb.bus.Subscribe(string(eventType), handler)
}

// SubscribeAsync 实现异步订阅
func (eb *EventBus) SubscribeAsync(eventType event.EventType, handler interface{}, transactional bool) error {
	if !eb.config.IsEnabled() {
		return nil
	}
	return eb.bus.SubscribeAsync(string(eventType), handler, transactional)
}

// SubscribeOnce 实现一次性订阅
func (eb *EventBus) SubscribeOnce(eventType event.EventType, handler interface{}) error {
	if !eb.config.IsEnabled() {
		return nil
	}
	return eb.bus.SubscribeOnce(string(eventType), handler)
}

// Publish 实现发布
func (eb *EventBus) Publish(eventType event.EventType, args ...interface{}) {
	if !eb.config.IsEnabled() {
		return
	}

	eb.saveEventToHistory(eventType, args)
	eb.bus.Publish(string(eventType), args...)
}

// saveEventToHistory 记录事件负载；单参数直接保存，多参数保存切片副本
func (eb *EventBus) saveEventToHistory(eventType event.EventType, args []interface{}) {
	eb.historyMu.Lock()
	defer eb.historyMu.Unlock()

	limit, ok := eb.historyLimit[eventType]
	if !ok || limit <= 0 {
		return
	}

	var entry interface{}
	switch len(args) {
	case 0:
		entry = nil
	case 1:
		entry = args[0]
	default:
		entry = append([]interface{}(nil), args...)
	}

	h := append(eb.eventHistory[eventType], entry)
	if len(h) > limit {
		h = h[len(h)-limit:]
	}
	eb.eventHistory[eventType] = h
}

// GetEventHistory 获取指定类型的事件历史
func (eb *EventBus) GetEventHistory(eventType event.EventType) []interface{} {
	eb.historyMu.RLock()
	defer eb.historyMu.RUnlock()

	h := eb.eventHistory[eventType]
	if len(h) == 0 {
		return nil
	}
	return append([]interface{}(nil), h...)
}

// EnableEventHistory 启用事件历史记录
func (eb *EventBus) EnableEventHistory(eventType event.EventType, maxSize int) error {
	if maxSize <= 0 {
		return fmt.Errorf("history size must be > 0, got %d", maxSize)
	}

	eb.historyMu.Lock()
	defer eb.historyMu.Unlock()

	eb.historyLimit[eventType] = maxSize
	if h := eb.eventHistory[eventType]; len(h) > maxSize {
		eb.eventHistory[eventType] = h[len(h)-maxSize:]
	}
	return nil
}

// DisableEventHistory 禁用事件历史记录
func (eb *EventBus) DisableEventHistory(eventType event.EventType) error {
	eb.historyMu.Lock()
	defer eb.historyMu.Unlock()

	delete(eb.historyLimit, eventType)
	delete(eb.eventHistory, eventType)
	return nil
}

// Unsubscribe 取消订阅
func (eb *EventBus) Unsubscribe(eventType event.EventType, handler interface{}) error {
	if !eb.config.IsEnabled() {
		return nil
	}
	return eb.bus.Unsubscribe(string(eventType), handler)
}

// WaitAsync 等待异步处理完成
func (eb *EventBus) WaitAsync() {
	if !eb.config.IsEnabled() {
		return
	}
	eb.bus.WaitAsync()
}

// HasCallback 检查是否有回调
func (eb *EventBus) HasCallback(eventType event.EventType) bool {
	if !eb.config.IsEnabled() {
		return false
	}
	return eb.bus.HasCallback(string(eventType))
}

var _ event.EventBus = (*EventBus)(nil)
