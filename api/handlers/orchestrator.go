package handlers

import (
	"net/http"

	"github.com/BaSui01/agentcircle/agent/runtime"
	"go.uber.org/zap"
)

// OrchestratorHandler 暴露回合编排器的控制面
type OrchestratorHandler struct {
	rt     *runtime.Runtime
	logger *zap.Logger
}

// ContinuousRequest 开关连续模式
type ContinuousRequest struct {
	On bool `json:"on"`
}

// NewOrchestratorHandler 创建编排器处理器
func NewOrchestratorHandler(rt *runtime.Runtime, logger *zap.Logger) *OrchestratorHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OrchestratorHandler{rt: rt, logger: logger.With(zap.String("handler", "orchestrator"))}
}

// RegisterRoutes 注册编排器路由
func (h *OrchestratorHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/orchestrator", h.HandleStatus)
	mux.HandleFunc("POST /api/v1/orchestrator/play", h.HandlePlay)
	mux.HandleFunc("POST /api/v1/orchestrator/auto", h.HandleAuto)
	mux.HandleFunc("POST /api/v1/orchestrator/continuous", h.HandleContinuous)
	mux.HandleFunc("POST /api/v1/orchestrator/force/{agent}", h.HandleForce)
}

// HandleStatus 返回编排器快照
func (h *OrchestratorHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	WriteSuccess(w, h.rt.Orchestrator().Status())
}

// HandlePlay 切换播放/暂停
func (h *OrchestratorHandler) HandlePlay(w http.ResponseWriter, r *http.Request) {
	h.reply(w, h.rt.Orchestrator().TogglePlayPause())
}

// HandleAuto 切换自动/手动模式
func (h *OrchestratorHandler) HandleAuto(w http.ResponseWriter, r *http.Request) {
	h.reply(w, h.rt.Orchestrator().ToggleAutoMode())
}

// HandleContinuous 显式开关连续模式
func (h *OrchestratorHandler) HandleContinuous(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, h.logger) {
		return
	}
	var req ContinuousRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	h.reply(w, h.rt.Orchestrator().SetContinuous(req.On))
}

// HandleForce 让指定智能体立即发言
func (h *OrchestratorHandler) HandleForce(w http.ResponseWriter, r *http.Request) {
	agentID := r.PathValue("agent")
	if err := h.rt.Orchestrator().ForceTurn(agentID); err != nil {
		WriteError(w, err, h.logger)
		return
	}
	h.logger.Info("forced turn", zap.String("agent_id", agentID))
	WriteSuccess(w, h.rt.Orchestrator().Status())
}

func (h *OrchestratorHandler) reply(w http.ResponseWriter, err error) {
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, h.rt.Orchestrator().Status())
}
