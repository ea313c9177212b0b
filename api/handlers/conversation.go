package handlers

import (
	"net/http"

	"github.com/BaSui01/agentcircle/agent/runtime"
	"github.com/BaSui01/agentcircle/types"
	"go.uber.org/zap"
)

// defaultMessageLimit GET messages 默认返回条数
const defaultMessageLimit = 100

// =============================================================================
// 💬 Conversation Handler
// =============================================================================

// ConversationHandler 会话与消息接口
type ConversationHandler struct {
	rt     *runtime.Runtime
	logger *zap.Logger
}

// CreateConversationRequest 创建会话请求
type CreateConversationRequest struct {
	ID           string   `json:"id,omitempty"`
	Title        string   `json:"title,omitempty"`
	Participants []string `json:"participants"`
}

// AddParticipantRequest 添加参与者请求
type AddParticipantRequest struct {
	AgentID string `json:"agent_id"`
}

// PostMessageRequest 用户发言请求
type PostMessageRequest struct {
	Text       string            `json:"text"`
	Attachment *types.Attachment `json:"attachment,omitempty"`
}

// ConversationInfo 会话列表项
type ConversationInfo struct {
	types.Conversation
	Active bool `json:"active"`
}

// NewConversationHandler 创建会话处理器
func NewConversationHandler(rt *runtime.Runtime, logger *zap.Logger) *ConversationHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConversationHandler{rt: rt, logger: logger.With(zap.String("handler", "conversation"))}
}

// RegisterRoutes 注册会话路由
func (h *ConversationHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/conversations", h.HandleList)
	mux.HandleFunc("POST /api/v1/conversations", h.HandleCreate)
	mux.HandleFunc("POST /api/v1/conversations/{id}/participants", h.HandleAddParticipant)
	mux.HandleFunc("POST /api/v1/conversations/{id}/bind", h.HandleBind)
	mux.HandleFunc("GET /api/v1/conversations/{id}/messages", h.HandleListMessages)
	mux.HandleFunc("POST /api/v1/conversations/{id}/messages", h.HandlePostMessage)
}

// HandleList 列出全部会话
func (h *ConversationHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	convs := h.rt.Deps().Store.List()
	out := make([]ConversationInfo, 0, len(convs))
	for _, c := range convs {
		out = append(out, ConversationInfo{Conversation: c, Active: h.rt.IsActive(c.ID)})
	}
	WriteSuccess(w, out)
}

// HandleCreate 创建会话
func (h *ConversationHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, h.logger) {
		return
	}
	var req CreateConversationRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	conv, err := h.rt.CreateConversation(r.Context(), req.ID, req.Title, req.Participants)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteCreated(w, ConversationInfo{Conversation: conv})
}

// HandleAddParticipant 把智能体加入会话
func (h *ConversationHandler) HandleAddParticipant(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, h.logger) {
		return
	}
	var req AddParticipantRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	id := r.PathValue("id")
	if err := h.rt.AddParticipant(r.Context(), id, req.AgentID); err != nil {
		WriteError(w, err, h.logger)
		return
	}
	conv, _ := h.rt.Deps().Store.Get(id)
	WriteSuccess(w, ConversationInfo{Conversation: conv, Active: h.rt.IsActive(id)})
}

// HandleBind 切换编排器当前绑定的会话
func (h *ConversationHandler) HandleBind(w http.ResponseWriter, r *http.Request) {
	if err := h.rt.SwitchConversation(r.Context(), r.PathValue("id")); err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, h.rt.Orchestrator().Status())
}

// HandleListMessages 返回会话记录（最近 limit 条）
func (h *ConversationHandler) HandleListMessages(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, ok := h.rt.Deps().Store.Get(id); !ok {
		WriteErrorMessage(w, types.ErrNotFound, "conversation not found", h.logger)
		return
	}
	msgs := h.rt.Deps().Store.Messages(id, queryInt(r, "limit", defaultMessageLimit))
	if msgs == nil {
		msgs = []types.Message{}
	}
	WriteSuccess(w, msgs)
}

// HandlePostMessage 追加一条用户消息
func (h *ConversationHandler) HandlePostMessage(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, h.logger) {
		return
	}
	var req PostMessageRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	msg, err := h.rt.PostUserMessage(r.Context(), r.PathValue("id"), req.Text, req.Attachment)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteCreated(w, msg)
}
