package handlers

import (
	"net/http"

	"github.com/BaSui01/agentcircle/agent/runtime"
	"github.com/BaSui01/agentcircle/agent/scheduler"
	"github.com/BaSui01/agentcircle/types"
	"go.uber.org/zap"
)

// =============================================================================
// 🗓️ Templates & Sessions Handler
// =============================================================================

// SessionHandler 管理讨论模板与定时会话
type SessionHandler struct {
	rt     *runtime.Runtime
	logger *zap.Logger
}

// CreateTemplateRequest 新建模板
type CreateTemplateRequest struct {
	Title      string `json:"title"`
	Prompt     string `json:"prompt"`
	ProposedBy string `json:"proposed_by,omitempty"`
}

// CreateSessionRequest 新建会话；StartNow 为 true 时立即开始
type CreateSessionRequest struct {
	scheduler.ScheduleRequest
	StartNow bool `json:"start_now,omitempty"`
}

// SessionOverview 某会话的全部定时会话及运行状态
type SessionOverview struct {
	Sessions         []types.ScheduledSession `json:"sessions"`
	Active           *types.ScheduledSession  `json:"active,omitempty"`
	RemainingSeconds int                      `json:"remaining_seconds"`
}

// NewSessionHandler 创建处理器
func NewSessionHandler(rt *runtime.Runtime, logger *zap.Logger) *SessionHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionHandler{rt: rt, logger: logger.With(zap.String("handler", "session"))}
}

// RegisterRoutes 注册模板与会话路由
func (h *SessionHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/templates", h.HandleListTemplates)
	mux.HandleFunc("POST /api/v1/templates", h.HandleCreateTemplate)
	mux.HandleFunc("DELETE /api/v1/templates/{id}", h.HandleDeleteTemplate)

	mux.HandleFunc("GET /api/v1/conversations/{id}/sessions", h.HandleListSessions)
	mux.HandleFunc("POST /api/v1/conversations/{id}/sessions", h.HandleCreateSession)
	mux.HandleFunc("POST /api/v1/conversations/{id}/sessions/stop", h.HandleStopSession)
	mux.HandleFunc("POST /api/v1/conversations/{id}/sessions/{sid}/start", h.HandleStartSession)
	mux.HandleFunc("POST /api/v1/conversations/{id}/sessions/{sid}/cancel", h.HandleCancelSession)
}

// HandleListTemplates 列出模板
func (h *SessionHandler) HandleListTemplates(w http.ResponseWriter, r *http.Request) {
	list, err := h.rt.Deps().Templates.List(r.Context())
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, list)
}

// HandleCreateTemplate 新建模板
func (h *SessionHandler) HandleCreateTemplate(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, h.logger) {
		return
	}
	var req CreateTemplateRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	proposedBy := req.ProposedBy
	if proposedBy == "" {
		proposedBy = types.SenderUser
	}
	t, err := h.rt.Deps().Templates.Add(r.Context(), req.Title, req.Prompt, proposedBy)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteCreated(w, t)
}

// HandleDeleteTemplate 删除模板
func (h *SessionHandler) HandleDeleteTemplate(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.rt.Deps().Templates.Remove(r.Context(), id); err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, map[string]string{"id": id})
}

// HandleListSessions 列出会话的定时会话
func (h *SessionHandler) HandleListSessions(w http.ResponseWriter, r *http.Request) {
	s, ok := h.scheduler(w, r)
	if !ok {
		return
	}
	overview := SessionOverview{Sessions: s.Sessions()}
	if overview.Sessions == nil {
		overview.Sessions = []types.ScheduledSession{}
	}
	if active, ok := s.ActiveSession(); ok {
		overview.Active = &active
		overview.RemainingSeconds = int(s.Remaining().Seconds())
	}
	WriteSuccess(w, overview)
}

// HandleCreateSession 安排或立即开始一个会话
func (h *SessionHandler) HandleCreateSession(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, h.logger) {
		return
	}
	var req CreateSessionRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	s, ok := h.scheduler(w, r)
	if !ok {
		return
	}

	var (
		sess types.ScheduledSession
		err  error
	)
	if req.StartNow {
		sess, err = s.StartSessionNow(r.Context(), req.ScheduleRequest)
	} else {
		sess, err = s.ScheduleSession(r.Context(), req.ScheduleRequest)
	}
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteCreated(w, sess)
}

// HandleStartSession 手动开始一个已安排的会话
func (h *SessionHandler) HandleStartSession(w http.ResponseWriter, r *http.Request) {
	s, ok := h.scheduler(w, r)
	if !ok {
		return
	}
	sid := r.PathValue("sid")
	if err := s.StartSession(r.Context(), sid); err != nil {
		WriteError(w, err, h.logger)
		return
	}
	sess, _ := s.Session(sid)
	WriteSuccess(w, sess)
}

// HandleCancelSession 取消一个已安排的会话
func (h *SessionHandler) HandleCancelSession(w http.ResponseWriter, r *http.Request) {
	s, ok := h.scheduler(w, r)
	if !ok {
		return
	}
	sess, err := s.CancelSession(r.Context(), r.PathValue("sid"))
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, sess)
}

// HandleStopSession 提前结束运行中的会话
func (h *SessionHandler) HandleStopSession(w http.ResponseWriter, r *http.Request) {
	s, ok := h.scheduler(w, r)
	if !ok {
		return
	}
	active, _ := s.ActiveSession()
	if err := s.StopSession(r.Context()); err != nil {
		WriteError(w, err, h.logger)
		return
	}
	sess, _ := s.Session(active.ID)
	WriteSuccess(w, sess)
}

func (h *SessionHandler) scheduler(w http.ResponseWriter, r *http.Request) (*scheduler.Scheduler, bool) {
	s, err := h.rt.Scheduler(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteError(w, err, h.logger)
		return nil, false
	}
	return s, true
}
