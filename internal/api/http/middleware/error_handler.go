package middleware

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	apitypes "github.com/weisyn/meshguard/internal/api/types"
	logiface "github.com/weisyn/meshguard/pkg/interfaces/infrastructure/log"
)

// ErrorHandler 将 handler 通过 c.Error 登记的错误统一写为 Problem Details
func ErrorHandler(logger logiface.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}
		err := c.Errors.Last().Err

		problem, ok := apitypes.IsProblemDetails(err)
		if !ok {
			if logger != nil {
				logger.Errorf("handler 返回非 ProblemDetails 错误: path=%s err=%v", c.Request.URL.Path, err)
			}
			problem = apitypes.NewProblemDetails(
				apitypes.CodeCommonInternalError,
				apitypes.LayerAPI,
				"服务器内部错误，请稍后重试",
				fmt.Sprintf("internal error: %v", err),
				http.StatusInternalServerError,
				nil,
			)
		}
		problem.Instance = c.Request.URL.Path
		if id := GetRequestID(c); id != "" {
			problem.TraceID = id
		}

		if logger != nil && problem.Status >= http.StatusInternalServerError {
			logger.Errorf("HTTP error: code=%s trace=%s path=%s err=%v",
				problem.Code, problem.TraceID, c.Request.URL.Path, err)
		}
		problem.WriteJSON(c.Writer)
		c.Abort()
	}
}

// Recovery 捕获 handler panic 并返回 500 Problem Details
func Recovery(logger logiface.Logger) gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		if logger != nil {
			logger.Errorf("HTTP handler panic: path=%s panic=%v", c.Request.URL.Path, recovered)
		}
		problem := apitypes.NewProblemDetails(
			apitypes.CodeCommonInternalError,
			apitypes.LayerAPI,
			"服务器内部错误，请稍后重试",
			fmt.Sprintf("panic: %v", recovered),
			http.StatusInternalServerError,
			nil,
		)
		problem.Instance = c.Request.URL.Path
		problem.WriteJSON(c.Writer)
		c.Abort()
	})
}
