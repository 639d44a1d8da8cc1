// Package event 定义进程内事件总线接口
//
// 组件之间只通过显式事件名（pkg/constants/events）与类型化负载（pkg/types/event.go）
// 通信，不直接调用彼此内部状态。
package event

import (
	"github.com/weisyn/meshguard/pkg/types"
)

// EventType 事件类型
type EventType = types.EventType

// EventBus 事件总线接口
//
// handler 必须是函数，参数列表与 Publish 的 args 一一对应。
// 同步 handler 在发布者的调用栈中执行，不得在其中再次 Publish 或 Subscribe。
type EventBus interface {
	// Subscribe 同步订阅
	Subscribe(eventType EventType, handler interface{}) error
	// SubscribeAsync 异步订阅，transactional 为 true 时同一 handler 串行执行
	SubscribeAsync(eventType EventType, handler interface{}, transactional bool) error
	// SubscribeOnce 一次性订阅
	SubscribeOnce(eventType EventType, handler interface{}) error
	// Publish 发布事件
	Publish(eventType EventType, args ...interface{})
	// Unsubscribe 取消订阅（handler 必须与订阅时为同一个函数值）
	Unsubscribe(eventType EventType, handler interface{}) error
	// WaitAsync 等待所有异步 handler 执行完毕
	WaitAsync()
	// HasCallback 是否存在订阅者
	HasCallback(eventType EventType) bool

	// EnableEventHistory 为指定事件类型开启历史记录，保留最近 maxSize 条
	EnableEventHistory(eventType EventType, maxSize int) error
	// DisableEventHistory 关闭历史记录并清空
	DisableEventHistory(eventType EventType) error
	// GetEventHistory 获取历史事件负载（按发布顺序）
	GetEventHistory(eventType EventType) []interface{}
}
