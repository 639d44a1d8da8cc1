package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/libp2p/go-libp2p/core/peer"

	httptypes "github.com/weisyn/meshguard/internal/api/http/types"
	apitypes "github.com/weisyn/meshguard/internal/api/types"
	"github.com/weisyn/meshguard/internal/core/resilience/recovery"
	logiface "github.com/weisyn/meshguard/pkg/interfaces/infrastructure/log"
	"github.com/weisyn/meshguard/pkg/interfaces/resilience"
	"github.com/weisyn/meshguard/pkg/types"
)

// ResilienceHandlers 韧性组件 HTTP 接口
//
// 路径前缀：/api/v1/resilience
//   - GET  /diagnostics                 当前网络诊断快照
//   - POST /troubleshoot                执行一次完整排障
//   - GET  /mode, PUT /mode             查询 / 手动设置运行模式
//   - GET  /features[/:feature]         功能开关状态
//   - POST /features/:feature/enable    启用功能
//   - POST /features/:feature/disable   停用功能
//   - GET  /network/health              网络健康与分区状态
//   - POST /network/recover             强制全网恢复
//   - GET  /peers/:id/health            单个对等节点健康
//   - POST /peers/:id/recover           强制恢复单个对等节点
//
// 任一服务未注入时，对应路由返回 503。
type ResilienceHandlers struct {
	diagnostics resilience.DiagnosticsService
	degradation resilience.DegradationService
	recovery    resilience.RecoveryService
	timeout     time.Duration
	logger      logiface.Logger
}

// NewResilienceHandlers 创建处理器；timeout 限制排障与强制恢复等长操作
func NewResilienceHandlers(
	diag resilience.DiagnosticsService,
	deg resilience.DegradationService,
	rec resilience.RecoveryService,
	timeout time.Duration,
	logger logiface.Logger,
) *ResilienceHandlers {
	return &ResilienceHandlers{
		diagnostics: diag,
		degradation: deg,
		recovery:    rec,
		timeout:     timeout,
		logger:      logger,
	}
}

// RegisterRoutes 注册路由
func (h *ResilienceHandlers) RegisterRoutes(r *gin.RouterGroup) {
	g := r.Group("/resilience")
	{
		g.GET("/diagnostics", h.GetDiagnostics)
		g.POST("/troubleshoot", h.Troubleshoot)

		g.GET("/mode", h.GetMode)
		g.PUT("/mode", h.SetMode)

		g.GET("/features", h.ListFeatures)
		g.GET("/features/:feature", h.GetFeature)
		g.POST("/features/:feature/enable", h.EnableFeature)
		g.POST("/features/:feature/disable", h.DisableFeature)

		g.GET("/network/health", h.GetNetworkHealth)
		g.POST("/network/recover", h.RecoverNetwork)
		g.GET("/peers/:id/health", h.GetPeerHealth)
		g.POST("/peers/:id/recover", h.RecoverPeer)
	}
}

// ==================== 诊断 ====================

// GetDiagnostics GET /api/v1/resilience/diagnostics
func (h *ResilienceHandlers) GetDiagnostics(c *gin.Context) {
	if h.diagnostics == nil {
		unavailable(c, "diagnostics")
		return
	}
	ok(c, h.diagnostics.GetNetworkDiagnostics())
}

// Troubleshoot POST /api/v1/resilience/troubleshoot
func (h *ResilienceHandlers) Troubleshoot(c *gin.Context) {
	if h.diagnostics == nil {
		unavailable(c, "diagnostics")
		return
	}
	ctx, cancel := h.requestContext(c)
	defer cancel()

	report, err := h.diagnostics.RunNetworkTroubleshooting(ctx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			fail(c, apitypes.CodeCommonTimeout, "排障超时", err, http.StatusGatewayTimeout, nil)
			return
		}
		fail(c, apitypes.CodeCommonInternalError, "排障执行失败", err, http.StatusInternalServerError, nil)
		return
	}
	ok(c, report)
}

// ==================== 运行模式 ====================

// modeView GET /mode 的响应体
type modeView struct {
	Mode             types.OperationMode     `json:"mode"`
	LastModeChange   time.Time               `json:"last_mode_change"`
	ModeChangeReason string                  `json:"mode_change_reason"`
	P2PHealth        types.P2PHealth         `json:"p2p_health"`
	Centralized      types.CentralizedHealth `json:"centralized_health"`
	Offline          bool                    `json:"offline"`
	CanUseCentral    bool                    `json:"can_use_centralized"`
	AvailableModes   []types.OperationMode   `json:"available_modes"`
}

// GetMode GET /api/v1/resilience/mode
func (h *ResilienceHandlers) GetMode(c *gin.Context) {
	if h.degradation == nil {
		unavailable(c, "degradation")
		return
	}
	ok(c, h.modeView())
}

// SetMode PUT /api/v1/resilience/mode
func (h *ResilienceHandlers) SetMode(c *gin.Context) {
	if h.degradation == nil {
		unavailable(c, "degradation")
		return
	}
	var req httptypes.SetModeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, apitypes.CodeCommonValidationError, "请求体无效，需要 {\"mode\": \"...\"}", err, http.StatusBadRequest, nil)
		return
	}
	mode, err := types.ParseOperationMode(req.Mode)
	if err != nil {
		fail(c, apitypes.CodeResInvalidMode, "未知的运行模式", err, http.StatusBadRequest,
			map[string]interface{}{"available_modes": types.AllOperationModes()})
		return
	}
	reason := req.Reason
	if reason == "" {
		reason = "manual override via API"
	}

	ctx, cancel := h.requestContext(c)
	defer cancel()
	if err := h.degradation.SetOperationMode(ctx, mode, reason); err != nil {
		fail(c, apitypes.CodeResTransitionFailed, "模式切换失败，已回滚", err, http.StatusConflict,
			map[string]interface{}{"requested": mode, "current": h.degradation.GetCurrentMode()})
		return
	}
	if h.logger != nil {
		h.logger.Warnf("运行模式经 API 手动设置: mode=%s reason=%s remote=%s", mode, reason, c.ClientIP())
	}
	ok(c, h.modeView())
}

func (h *ResilienceHandlers) modeView() modeView {
	m := h.degradation.GetMetrics()
	return modeView{
		Mode:             m.CurrentMode,
		LastModeChange:   m.LastModeChange,
		ModeChangeReason: m.ModeChangeReason,
		P2PHealth:        m.P2PHealth,
		Centralized:      m.CentralizedHealth,
		Offline:          h.degradation.IsOfflineMode(),
		CanUseCentral:    h.degradation.CanUseCentralized(),
		AvailableModes:   types.AllOperationModes(),
	}
}

// ==================== 功能开关 ====================

// ListFeatures GET /api/v1/resilience/features（按固定顺序）
func (h *ResilienceHandlers) ListFeatures(c *gin.Context) {
	if h.degradation == nil {
		unavailable(c, "degradation")
		return
	}
	list := make([]types.FeatureToggle, 0, len(types.AllFeatures()))
	for _, f := range types.AllFeatures() {
		if ft, found := h.degradation.GetFeatureStatus(f); found {
			list = append(list, ft)
		}
	}
	ok(c, list)
}

// GetFeature GET /api/v1/resilience/features/:feature
func (h *ResilienceHandlers) GetFeature(c *gin.Context) {
	if h.degradation == nil {
		unavailable(c, "degradation")
		return
	}
	feature, valid := featureParam(c)
	if !valid {
		return
	}
	ft, found := h.degradation.GetFeatureStatus(feature)
	if !found {
		unknownFeature(c, feature)
		return
	}
	ok(c, ft)
}

// EnableFeature POST /api/v1/resilience/features/:feature/enable
func (h *ResilienceHandlers) EnableFeature(c *gin.Context) {
	h.toggleFeature(c, true)
}

// DisableFeature POST /api/v1/resilience/features/:feature/disable
func (h *ResilienceHandlers) DisableFeature(c *gin.Context) {
	h.toggleFeature(c, false)
}

func (h *ResilienceHandlers) toggleFeature(c *gin.Context, enable bool) {
	if h.degradation == nil {
		unavailable(c, "degradation")
		return
	}
	feature, valid := featureParam(c)
	if !valid {
		return
	}
	// 请求体可选
	var req httptypes.FeatureChangeRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, apitypes.CodeCommonValidationError, "请求体无效", err, http.StatusBadRequest, nil)
			return
		}
	}
	if req.Reason == "" {
		req.Reason = "manual toggle via API"
	}

	var err error
	if enable {
		err = h.degradation.EnableFeature(feature, req.Reason)
	} else {
		err = h.degradation.DisableFeature(feature, req.Reason)
	}
	if err != nil {
		fail(c, apitypes.CodeCommonInternalError, "功能开关更新失败", err, http.StatusInternalServerError, nil)
		return
	}
	ft, _ := h.degradation.GetFeatureStatus(feature)
	ok(c, ft)
}

func featureParam(c *gin.Context) (types.Feature, bool) {
	feature := types.Feature(c.Param("feature"))
	if !feature.IsValid() {
		unknownFeature(c, feature)
		return "", false
	}
	return feature, true
}

func unknownFeature(c *gin.Context, feature types.Feature) {
	fail(c, apitypes.CodeResUnknownFeature, "未知的功能标识", errors.New("unknown feature "+string(feature)),
		http.StatusNotFound, map[string]interface{}{"available_features": types.AllFeatures()})
}

// ==================== 恢复 ====================

// GetNetworkHealth GET /api/v1/resilience/network/health
func (h *ResilienceHandlers) GetNetworkHealth(c *gin.Context) {
	if h.recovery == nil {
		unavailable(c, "recovery")
		return
	}
	ok(c, h.recovery.GetNetworkHealth())
}

// RecoverNetwork POST /api/v1/resilience/network/recover
func (h *ResilienceHandlers) RecoverNetwork(c *gin.Context) {
	if h.recovery == nil {
		unavailable(c, "recovery")
		return
	}
	ctx, cancel := h.requestContext(c)
	defer cancel()

	if err := h.recovery.ForceNetworkRecovery(ctx); err != nil {
		switch {
		case errors.Is(err, recovery.ErrDestroyed):
			fail(c, apitypes.CodeResComponentDestroyed, "恢复管理器已停止", err, http.StatusServiceUnavailable, nil)
		case errors.Is(err, context.DeadlineExceeded):
			fail(c, apitypes.CodeCommonTimeout, "网络恢复超时", err, http.StatusGatewayTimeout, nil)
		default:
			fail(c, apitypes.CodeResRecoveryFailed, "网络恢复未完全成功", err, http.StatusBadGateway, nil)
		}
		return
	}
	ok(c, httptypes.RecoverResponse{Target: "network", Triggered: true})
}

// GetPeerHealth GET /api/v1/resilience/peers/:id/health
func (h *ResilienceHandlers) GetPeerHealth(c *gin.Context) {
	if h.recovery == nil {
		unavailable(c, "recovery")
		return
	}
	id, valid := peerParam(c)
	if !valid {
		return
	}
	ph, found := h.recovery.GetPeerHealth(id)
	if !found {
		fail(c, apitypes.CodeResPeerNotTracked, "该节点未被跟踪", errors.New("peer not tracked: "+id.String()),
			http.StatusNotFound, nil)
		return
	}
	ok(c, ph)
}

// RecoverPeer POST /api/v1/resilience/peers/:id/recover
//
// 返回 200 与 triggered=false 表示恢复未成功（重连失败或已有恢复在进行）。
func (h *ResilienceHandlers) RecoverPeer(c *gin.Context) {
	if h.recovery == nil {
		unavailable(c, "recovery")
		return
	}
	id, valid := peerParam(c)
	if !valid {
		return
	}
	ctx, cancel := h.requestContext(c)
	defer cancel()

	triggered := h.recovery.ForcePeerRecovery(ctx, id)
	ok(c, httptypes.RecoverResponse{Target: id.String(), Triggered: triggered})
}

func peerParam(c *gin.Context) (peer.ID, bool) {
	id, err := peer.Decode(c.Param("id"))
	if err != nil {
		fail(c, apitypes.CodeResInvalidPeerID, "无效的节点ID", err, http.StatusBadRequest, nil)
		return "", false
	}
	return id, true
}

// ==================== 公共 ====================

func (h *ResilienceHandlers) requestContext(c *gin.Context) (context.Context, context.CancelFunc) {
	if h.timeout <= 0 {
		return context.WithCancel(c.Request.Context())
	}
	return context.WithTimeout(c.Request.Context(), h.timeout)
}
