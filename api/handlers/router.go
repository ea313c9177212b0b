package handlers

import (
	"net/http"

	"github.com/BaSui01/agentcircle/agent/runtime"
	"go.uber.org/zap"
)

// RouteRegistrar 能把自身路由挂到 ServeMux 上的处理器
type RouteRegistrar interface {
	RegisterRoutes(mux *http.ServeMux)
}

// NewRouter 创建挂载全部 operator API 路由的 ServeMux，extra 为可选的附加处理器
func NewRouter(rt *runtime.Runtime, health *HealthHandler, logger *zap.Logger, extra ...RouteRegistrar) *http.ServeMux {
	if health == nil {
		health = NewHealthHandler(logger)
	}
	mux := http.NewServeMux()
	for _, r := range []RouteRegistrar{
		health,
		NewAgentHandler(rt, logger),
		NewConversationHandler(rt, logger),
		NewOrchestratorHandler(rt, logger),
		NewSessionHandler(rt, logger),
		NewLibraryHandler(rt, logger),
	} {
		r.RegisterRoutes(mux)
	}
	for _, r := range extra {
		r.RegisterRoutes(mux)
	}
	return mux
}
