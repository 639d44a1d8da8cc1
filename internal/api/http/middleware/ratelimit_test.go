package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLimitedRouter(rl *RateLimit) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID(), ErrorHandler(nil), rl.Middleware())
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.POST("/x", func(c *gin.Context) { c.Status(http.StatusOK) })
	return r
}

func serve(r http.Handler, method, remote string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, "/x", nil)
	req.RemoteAddr = remote
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRateLimit_WritesOnly(t *testing.T) {
	rl := NewRateLimit(1, 2, nil)
	require.NotNil(t, rl)
	now := time.Unix(1000, 0)
	rl.now = func() time.Time { return now }
	r := newLimitedRouter(rl)

	assert.Equal(t, http.StatusOK, serve(r, http.MethodPost, "10.0.0.1:1").Code)
	assert.Equal(t, http.StatusOK, serve(r, http.MethodPost, "10.0.0.1:1").Code)

	w := serve(r, http.MethodPost, "10.0.0.1:1")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))
	assert.Contains(t, w.Body.String(), "COMMON_RATE_LIMITED")

	// 读请求与其他客户端不受影响
	assert.Equal(t, http.StatusOK, serve(r, http.MethodGet, "10.0.0.1:1").Code)
	assert.Equal(t, http.StatusOK, serve(r, http.MethodPost, "10.0.0.2:1").Code)

	// 令牌按速率补充
	now = now.Add(time.Second)
	assert.Equal(t, http.StatusOK, serve(r, http.MethodPost, "10.0.0.1:1").Code)
}

func TestRateLimit_Disabled(t *testing.T) {
	rl := NewRateLimit(0, 5, nil)
	assert.Nil(t, rl)

	r := newLimitedRouter(rl)
	for i := 0; i < 20; i++ {
		assert.Equal(t, http.StatusOK, serve(r, http.MethodPost, "10.0.0.1:1").Code)
	}
}

func TestRateLimit_EvictsIdleClients(t *testing.T) {
	rl := NewRateLimit(1, 1, nil)
	now := time.Unix(1000, 0)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.allow("a"))
	now = now.Add(limiterIdleTTL + time.Second)
	assert.True(t, rl.allow("b"))

	rl.mu.Lock()
	defer rl.mu.Unlock()
	assert.NotContains(t, rl.limiters, "a")
	assert.Contains(t, rl.limiters, "b")
}
