// Package api 对外 API 的依赖注入入口
package api

import (
	"go.uber.org/fx"

	"github.com/weisyn/meshguard/internal/api/http"
)

// Module 返回API模块
//
// 目前只有 HTTP（gin）一种传输；显式 Invoke 保证服务器被构造并挂上生命周期。
func Module() fx.Option {
	return fx.Module("api",
		http.Module(),
		fx.Invoke(func(*http.Server) {}),
	)
}
