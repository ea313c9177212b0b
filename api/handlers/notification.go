package handlers

import (
	"net/http"

	"github.com/BaSui01/agentcircle/types"
)

// NotificationSource 提供最近的操作员通知
type NotificationSource interface {
	Items() []types.Notification
}

// NotificationHandler 操作员通知列表
type NotificationHandler struct {
	source NotificationSource
}

// NewNotificationHandler 创建处理器
func NewNotificationHandler(source NotificationSource) *NotificationHandler {
	return &NotificationHandler{source: source}
}

// RegisterRoutes 注册通知路由
func (h *NotificationHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/notifications", h.HandleList)
}

// HandleList 返回最近的通知，最新的在后
func (h *NotificationHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	items := h.source.Items()
	if limit := queryInt(r, "limit", 0); limit > 0 && len(items) > limit {
		items = items[len(items)-limit:]
	}
	WriteSuccess(w, items)
}
