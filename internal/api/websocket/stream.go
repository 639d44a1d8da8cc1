// Package websocket 韧性事件的 WebSocket 实时推送
//
// 每个事件类型只在事件总线上订阅一次，再按各连接的类型过滤分发；
// 总线回调在发布者调用栈中执行，因此分发只做非阻塞入队，写连接由每个连接自己的 goroutine 完成。
package websocket

import (
	"errors"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	apitypes "github.com/weisyn/meshguard/internal/api/types"
	"github.com/weisyn/meshguard/pkg/constants/events"
	eventiface "github.com/weisyn/meshguard/pkg/interfaces/infrastructure/event"
	logiface "github.com/weisyn/meshguard/pkg/interfaces/infrastructure/log"
)

// FrameSubscribed 连接建立后的第一帧，Payload 为生效的事件类型列表
const FrameSubscribed = "stream.subscribed"

const (
	defaultBuffer = 64
	writeWait     = 10 * time.Second
	pongWait      = 60 * time.Second
	pingPeriod    = pongWait * 9 / 10
)

// Frame 推送给客户端的一帧
type Frame struct {
	Seq     uint64      `json:"seq"`
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
	Dropped uint64      `json:"dropped,omitempty"` // 此前因缓冲区满被丢弃的帧数
}

// client 单个 WebSocket 连接
type client struct {
	types   map[events.EventType]struct{}
	send    chan Frame
	dropped atomic.Uint64
}

// Server 事件流服务
type Server struct {
	bus      eventiface.EventBus
	logger   logiface.Logger
	upgrader websocket.Upgrader
	buffer   int

	mu      sync.RWMutex
	clients map[*client]struct{}
	seq     atomic.Uint64

	handlers map[events.EventType]func(interface{})
	closed   bool
	quit     chan struct{}
}

// NewServer 创建事件流服务并订阅全部韧性事件；bus 为 nil 时路由返回 503
func NewServer(bus eventiface.EventBus, logger logiface.Logger) *Server {
	s := &Server{
		bus:    bus,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		buffer:   defaultBuffer,
		clients:  make(map[*client]struct{}),
		handlers: make(map[events.EventType]func(interface{})),
		quit:     make(chan struct{}),
	}
	if bus == nil {
		return s
	}
	for _, et := range events.AllEventTypes() {
		et := et
		handler := func(payload interface{}) { s.dispatch(et, payload) }
		if err := bus.Subscribe(et, handler); err != nil {
			if logger != nil {
				logger.Warnf("订阅事件失败: type=%s err=%v", et, err)
			}
			continue
		}
		s.handlers[et] = handler
	}
	return s
}

// Close 取消总线订阅并以 1001 关闭全部连接
func (s *Server) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	handlers := s.handlers
	s.handlers = nil
	close(s.quit)
	s.mu.Unlock()

	for et, h := range handlers {
		_ = s.bus.Unsubscribe(et, h)
	}
}

// Clients 当前连接数
func (s *Server) Clients() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// RegisterRoutes 注册 /resilience/events/stream
func (s *Server) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/resilience/events/stream", s.HandleStream)
}

// HandleStream GET /api/v1/resilience/events/stream?types=a,b
//
// types 省略时推送全部事件类型；未知类型在升级前以 404 拒绝。
func (s *Server) HandleStream(c *gin.Context) {
	if s.bus == nil {
		problem(c, apitypes.CodeCommonServiceUnavailable, "组件未启用: event", nil,
			http.StatusServiceUnavailable, map[string]interface{}{"component": "event"})
		return
	}
	selected, err := parseTypes(c.Query("types"))
	if err != nil {
		problem(c, apitypes.CodeResUnknownEventType, "未知的事件类型", err,
			http.StatusNotFound, map[string]interface{}{"types": c.Query("types")})
		return
	}

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade 已写入 4xx 响应
		if s.logger != nil {
			s.logger.Warnf("WebSocket 升级失败: %v", err)
		}
		return
	}

	cl := &client{types: make(map[events.EventType]struct{}, len(selected)), send: make(chan Frame, s.buffer)}
	names := make([]string, 0, len(selected))
	for _, et := range selected {
		cl.types[et] = struct{}{}
		names = append(names, string(et))
	}

	cl.send <- Frame{Type: FrameSubscribed, Payload: names}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.closeConn(conn, websocket.CloseGoingAway, "server closing")
		return
	}
	s.clients[cl] = struct{}{}
	s.mu.Unlock()

	if s.logger != nil {
		s.logger.Infof("事件流连接建立: remote=%s types=%d", conn.RemoteAddr(), len(names))
	}

	done := make(chan struct{})
	go s.readLoop(conn, done)
	s.writeLoop(conn, cl, done)

	s.mu.Lock()
	delete(s.clients, cl)
	s.mu.Unlock()
	_ = conn.Close()

	if s.logger != nil {
		s.logger.Infof("事件流连接关闭: remote=%s dropped=%d", conn.RemoteAddr(), cl.dropped.Load())
	}
}

// dispatch 总线回调：按类型过滤后非阻塞入队，缓冲区满时计数丢弃
func (s *Server) dispatch(et events.EventType, payload interface{}) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.clients) == 0 {
		return
	}
	seq := s.seq.Add(1)
	for cl := range s.clients {
		if _, ok := cl.types[et]; !ok {
			continue
		}
		select {
		case cl.send <- Frame{Seq: seq, Type: string(et), Payload: payload}:
		default:
			cl.dropped.Add(1)
		}
	}
}

// readLoop 只处理控制帧；客户端断开或读超时时关闭 done
func (s *Server) readLoop(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) && s.logger != nil {
				s.logger.Debugf("事件流连接异常关闭: %v", err)
			}
			return
		}
	}
}

func (s *Server) writeLoop(conn *websocket.Conn, cl *client, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	var reported uint64
	for {
		select {
		case <-done:
			return
		case <-s.quit:
			s.closeConn(conn, websocket.CloseGoingAway, "server closing")
			return
		case f := <-cl.send:
			if d := cl.dropped.Load(); d > reported {
				f.Dropped = d - reported
				reported = d
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(f); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) closeConn(conn *websocket.Conn, code int, text string) {
	msg := websocket.FormatCloseMessage(code, text)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	_ = conn.Close()
}

// parseTypes 解析逗号分隔的事件类型；空串表示全部
func parseTypes(raw string) ([]events.EventType, error) {
	all := events.AllEventTypes()
	if strings.TrimSpace(raw) == "" {
		return all, nil
	}
	known := make(map[events.EventType]struct{}, len(all))
	for _, et := range all {
		known[et] = struct{}{}
	}
	var out []events.EventType
	seen := make(map[events.EventType]struct{})
	for _, part := range strings.Split(raw, ",") {
		et := events.EventType(strings.TrimSpace(part))
		if et == "" {
			continue
		}
		if _, ok := known[et]; !ok {
			return nil, errors.New("unknown event type: " + string(et))
		}
		if _, dup := seen[et]; dup {
			continue
		}
		seen[et] = struct{}{}
		out = append(out, et)
	}
	if len(out) == 0 {
		return all, nil
	}
	return out, nil
}

func problem(c *gin.Context, code, userMessage string, err error, status int, details map[string]interface{}) {
	detail := ""
	if err != nil {
		detail = err.Error()
	}
	_ = c.Error(apitypes.NewProblemDetails(code, apitypes.LayerResilienceService, userMessage, detail, status, details))
	c.Abort()
}
