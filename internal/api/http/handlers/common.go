// Package handlers provides HTTP API handlers for the resilience services.
package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/weisyn/meshguard/internal/api/http/middleware"
	httptypes "github.com/weisyn/meshguard/internal/api/http/types"
	apitypes "github.com/weisyn/meshguard/internal/api/types"
)

// ok 写入统一成功响应
func ok(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, httptypes.NewSuccessResponse(data).
		WithRequestID(middleware.GetRequestID(c)).
		WithTimestamp(time.Now().UTC().Format(time.RFC3339)))
}

// fail 登记 Problem Details 错误，由 ErrorHandler 中间件统一输出
func fail(c *gin.Context, code, userMessage string, err error, status int, details map[string]interface{}) {
	detail := ""
	if err != nil {
		detail = err.Error()
	}
	_ = c.Error(apitypes.NewProblemDetails(code, apitypes.LayerResilienceService, userMessage, detail, status, details))
	c.Abort()
}

func unavailable(c *gin.Context, component string) {
	fail(c, apitypes.CodeCommonServiceUnavailable, "组件未启用: "+component, nil,
		http.StatusServiceUnavailable, map[string]interface{}{"component": component})
}
