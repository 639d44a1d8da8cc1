package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/weisyn/meshguard/internal/api/types"
	logiface "github.com/weisyn/meshguard/pkg/interfaces/infrastructure/log"
)

// limiterIdleTTL 客户端限流器闲置超过该时长后回收
const limiterIdleTTL = 10 * time.Minute

// RateLimit 写操作限流中间件
//
// 只限制改变节点状态的请求（非 GET/HEAD/OPTIONS），按客户端 IP 各自一个令牌桶；
// 读请求与健康检查不受影响。
type RateLimit struct {
	logger logiface.Logger
	limit  rate.Limit
	burst  int
	now    func() time.Time

	mu       sync.Mutex
	limiters map[string]*clientLimiter
	lastGC   time.Time
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimit 创建限流中间件；perSecond <= 0 时返回 nil（不限流）
func NewRateLimit(perSecond float64, burst int, logger logiface.Logger) *RateLimit {
	if perSecond <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	return &RateLimit{
		logger:   logger,
		limit:    rate.Limit(perSecond),
		burst:    burst,
		now:      time.Now,
		limiters: make(map[string]*clientLimiter),
	}
}

// Middleware 返回Gin中间件；nil 接收者直接放行
func (m *RateLimit) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil || !isWriteOperation(c.Request.Method) {
			c.Next()
			return
		}

		clientID := c.ClientIP()
		if !m.allow(clientID) {
			if m.logger != nil {
				m.logger.Warnf("写操作限流: client=%s path=%s", clientID, c.Request.URL.Path)
			}
			c.Header("Retry-After", "1")
			problem := types.NewProblemDetails(
				types.CodeCommonRateLimited,
				types.LayerAPI,
				"请求过于频繁，请稍后重试",
				"write rate limit exceeded",
				http.StatusTooManyRequests,
				nil,
			)
			_ = c.Error(problem)
			c.Abort()
			return
		}
		c.Next()
	}
}

func (m *RateLimit) allow(clientID string) bool {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	if now.Sub(m.lastGC) > limiterIdleTTL {
		for id, cl := range m.limiters {
			if now.Sub(cl.lastSeen) > limiterIdleTTL {
				delete(m.limiters, id)
			}
		}
		m.lastGC = now
	}

	cl, ok := m.limiters[clientID]
	if !ok {
		cl = &clientLimiter{limiter: rate.NewLimiter(m.limit, m.burst)}
		m.limiters[clientID] = cl
	}
	cl.lastSeen = now
	return cl.limiter.AllowN(now, 1)
}

func isWriteOperation(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return false
	default:
		return true
	}
}
