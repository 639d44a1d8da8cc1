package middleware

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	logiface "github.com/weisyn/meshguard/pkg/interfaces/infrastructure/log"
)

// Logger 请求日志中间件
type Logger struct {
	logger logiface.Logger
	quiet  map[string]struct{} // 成功时降为 Debug 的路径（/metrics 等高频抓取）
}

// NewLogger 创建日志中间件
func NewLogger(logger logiface.Logger, quietPaths ...string) *Logger {
	quiet := make(map[string]struct{}, len(quietPaths))
	for _, p := range quietPaths {
		quiet[p] = struct{}{}
	}
	return &Logger{logger: logger, quiet: quiet}
}

// Middleware 返回Gin中间件
func (m *Logger) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		if m.logger == nil {
			return
		}
		status := c.Writer.Status()
		latency := time.Since(start)
		_, quiet := m.quiet[path]

		if zl := m.logger.GetZapLogger(); zl != nil {
			fields := []zap.Field{
				zap.String("request_id", GetRequestID(c)),
				zap.String("method", c.Request.Method),
				zap.String("path", path),
				zap.String("query", query),
				zap.Int("status", status),
				zap.Duration("latency", latency),
				zap.String("client_ip", c.ClientIP()),
			}
			if len(c.Errors) > 0 {
				fields = append(fields, zap.String("errors", c.Errors.String()))
			}
			switch {
			case status >= 500:
				zl.Error("HTTP request", fields...)
			case status >= 400:
				zl.Warn("HTTP request", fields...)
			case quiet:
				zl.Debug("HTTP request", fields...)
			default:
				zl.Info("HTTP request", fields...)
			}
			return
		}

		msg := fmt.Sprintf("HTTP request | id=%s method=%s path=%s?%s status=%d latency=%s ip=%s",
			GetRequestID(c), c.Request.Method, path, query, status, latency, c.ClientIP())
		switch {
		case status >= 500:
			m.logger.Error(msg)
		case status >= 400:
			m.logger.Warn(msg)
		case quiet:
			m.logger.Debug(msg)
		default:
			m.logger.Info(msg)
		}
	}
}
