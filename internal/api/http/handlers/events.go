package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	apitypes "github.com/weisyn/meshguard/internal/api/types"
	"github.com/weisyn/meshguard/pkg/constants/events"
	eventiface "github.com/weisyn/meshguard/pkg/interfaces/infrastructure/event"
)

// EventHandlers 韧性事件历史查询
type EventHandlers struct {
	bus eventiface.EventBus
}

// EventTypeSummary 事件类型与当前保留条数
type EventTypeSummary struct {
	Type  string `json:"type"`
	Count int    `json:"count"`
}

// EventHistory 单一事件类型的历史（按发布顺序，最新在后）
type EventHistory struct {
	Type   string        `json:"type"`
	Events []interface{} `json:"events"`
}

// NewEventHandlers 创建事件历史处理器；bus 为 nil 时路由返回 503
func NewEventHandlers(bus eventiface.EventBus) *EventHandlers {
	return &EventHandlers{bus: bus}
}

// RegisterRoutes 注册 /resilience/events 路由
func (h *EventHandlers) RegisterRoutes(r *gin.RouterGroup) {
	g := r.Group("/resilience/events")
	{
		g.GET("", h.ListEventTypes)
		g.GET("/:type", h.GetEventHistory)
	}
}

// ListEventTypes GET /api/v1/resilience/events
func (h *EventHandlers) ListEventTypes(c *gin.Context) {
	if h.bus == nil {
		unavailable(c, "event")
		return
	}
	all := events.AllEventTypes()
	out := make([]EventTypeSummary, 0, len(all))
	for _, et := range all {
		out = append(out, EventTypeSummary{Type: string(et), Count: len(h.bus.GetEventHistory(et))})
	}
	ok(c, out)
}

// GetEventHistory GET /api/v1/resilience/events/:type?limit=N
func (h *EventHandlers) GetEventHistory(c *gin.Context) {
	if h.bus == nil {
		unavailable(c, "event")
		return
	}

	et := events.EventType(c.Param("type"))
	if !isKnownEventType(et) {
		fail(c, apitypes.CodeResUnknownEventType, "未知的事件类型",
			errors.New("unknown event type: "+string(et)), http.StatusNotFound,
			map[string]interface{}{"event_type": string(et)})
		return
	}

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			fail(c, apitypes.CodeCommonValidationError, "limit 必须是非负整数", err,
				http.StatusBadRequest, map[string]interface{}{"limit": raw})
			return
		}
		limit = n
	}

	history := h.bus.GetEventHistory(et)
	if limit > 0 && len(history) > limit {
		history = history[len(history)-limit:]
	}
	if history == nil {
		history = []interface{}{}
	}
	ok(c, EventHistory{Type: string(et), Events: history})
}

func isKnownEventType(et events.EventType) bool {
	for _, known := range events.AllEventTypes() {
		if known == et {
			return true
		}
	}
	return false
}
