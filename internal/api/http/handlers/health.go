package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	httptypes "github.com/weisyn/meshguard/internal/api/http/types"
	"github.com/weisyn/meshguard/internal/app/version"
	"github.com/weisyn/meshguard/pkg/interfaces/resilience"
)

// 健康分档位
const (
	healthyScore  = 70
	degradedScore = 40
)

// HealthHandler 进程健康检查端点处理器
//
// 提供三层健康检查端点：
//   - /health: 汇总健康（诊断分数 + 运行模式）
//   - /health/live: 存活检查（进程是否响应）
//   - /health/ready: 就绪检查（非 OFFLINE 模式）
type HealthHandler struct {
	startTime   time.Time
	diagnostics resilience.DiagnosticsService
	degradation resilience.DegradationService
}

// NewHealthHandler 创建健康检查处理器；服务可为 nil
func NewHealthHandler(diag resilience.DiagnosticsService, deg resilience.DegradationService) *HealthHandler {
	return &HealthHandler{
		startTime:   time.Now(),
		diagnostics: diag,
		degradation: deg,
	}
}

// RegisterRoutes 注册健康检查路由
func (h *HealthHandler) RegisterRoutes(r gin.IRoutes) {
	r.GET("/health", h.GetHealth)
	r.GET("/health/live", h.GetLiveness)
	r.GET("/health/ready", h.GetReadiness)
}

// GetHealth 汇总健康报告
func (h *HealthHandler) GetHealth(c *gin.Context) {
	resp := httptypes.HealthResponse{
		Status:    "healthy",
		Score:     100,
		Version:   version.GetVersion(),
		Uptime:    time.Since(h.startTime).Truncate(time.Second).String(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if h.diagnostics != nil {
		resp.Score = h.diagnostics.GetNetworkDiagnostics().Troubleshooting.HealthScore
		resp.Status = statusForScore(resp.Score)
	}
	if h.degradation != nil {
		resp.Mode = h.degradation.GetCurrentMode().String()
	}
	c.JSON(http.StatusOK, resp)
}

// GetLiveness 存活检查
func (h *HealthHandler) GetLiveness(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

// GetReadiness 就绪检查；OFFLINE 模式返回 503
func (h *HealthHandler) GetReadiness(c *gin.Context) {
	if h.degradation != nil && h.degradation.IsOfflineMode() {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "not_ready",
			"mode":   h.degradation.GetCurrentMode(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func statusForScore(score int) string {
	switch {
	case score >= healthyScore:
		return "healthy"
	case score >= degradedScore:
		return "degraded"
	default:
		return "unhealthy"
	}
}
