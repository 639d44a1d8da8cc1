package testutil

import (
	"sync"

	eventconfig "github.com/weisyn/meshguard/internal/config/event"
	infraevent "github.com/weisyn/meshguard/internal/core/infrastructure/event"
	"github.com/weisyn/meshguard/pkg/constants/events"
	"github.com/weisyn/meshguard/pkg/interfaces/infrastructure/event"
	"github.com/weisyn/meshguard/pkg/types"
)

// Record 一条被记录的事件
type Record struct {
	Type    types.EventType
	Payload interface{}
}

// Recorder 订阅全部韧性事件并按顺序记录
type Recorder struct {
	mu      sync.Mutex
	records []Record
}

// NewBus 创建启用的事件总线
func NewBus() event.EventBus {
	return infraevent.New(eventconfig.New(nil))
}

// NewRecorder 在 bus 上订阅 events.AllEventTypes()
func NewRecorder(bus event.EventBus) *Recorder {
	r := &Recorder{}
	for _, et := range events.AllEventTypes() {
		et := et
		_ = bus.Subscribe(et, func(payload interface{}) {
			r.mu.Lock()
			r.records = append(r.records, Record{Type: et, Payload: payload})
			r.mu.Unlock()
		})
	}
	return r
}

// Count 指定类型的事件数量
func (r *Recorder) Count(et types.EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, rec := range r.records {
		if rec.Type == et {
			n++
		}
	}
	return n
}

// Payloads 指定类型的事件负载
func (r *Recorder) Payloads(et types.EventType) []interface{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []interface{}
	for _, rec := range r.records {
		if rec.Type == et {
			out = append(out, rec.Payload)
		}
	}
	return out
}

// Last 指定类型的最后一个负载
func (r *Recorder) Last(et types.EventType) (interface{}, bool) {
	p := r.Payloads(et)
	if len(p) == 0 {
		return nil, false
	}
	return p[len(p)-1], true
}

// Records 全部记录的副本
func (r *Recorder) Records() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Record(nil), r.records...)
}

// Reset 清空记录
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.records = nil
	r.mu.Unlock()
}
