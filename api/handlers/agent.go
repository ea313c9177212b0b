package handlers

import (
	"net/http"
	"strings"

	"github.com/BaSui01/agentcircle/agent/runtime"
	"github.com/BaSui01/agentcircle/agent/tools"
	"github.com/BaSui01/agentcircle/types"
	"go.uber.org/zap"
)

// =============================================================================
// Agent Management Handler
// =============================================================================

// AgentHandler 管理智能体及其收件箱
type AgentHandler struct {
	rt     *runtime.Runtime
	logger *zap.Logger
}

// CreateAgentRequest 注册智能体请求
type CreateAgentRequest struct {
	ID           string           `json:"id"`
	Name         string           `json:"name"`
	Backend      string           `json:"backend"`
	Persona      string           `json:"persona,omitempty"`
	Capabilities []types.ToolName `json:"capabilities,omitempty"`
	Allow        []string         `json:"allow,omitempty"`
	Deny         []string         `json:"deny,omitempty"`
}

// UpdateAgentRequest 修改人设或后端
type UpdateAgentRequest struct {
	Persona string `json:"persona"`
	Backend string `json:"backend,omitempty"`
}

// AgentInfo API 返回的智能体信息
type AgentInfo struct {
	types.Agent
	Tools []types.ToolName `json:"tools"`
}

// NewAgentHandler creates an agent handler
func NewAgentHandler(rt *runtime.Runtime, logger *zap.Logger) *AgentHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AgentHandler{rt: rt, logger: logger.With(zap.String("handler", "agent"))}
}

// RegisterRoutes registers agent and mailbox routes
func (h *AgentHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/agents", h.HandleListAgents)
	mux.HandleFunc("POST /api/v1/agents", h.HandleCreateAgent)
	mux.HandleFunc("GET /api/v1/agents/{id}", h.HandleGetAgent)
	mux.HandleFunc("PATCH /api/v1/agents/{id}", h.HandleUpdateAgent)
	mux.HandleFunc("GET /api/v1/mailbox/{agent}", h.HandleMailbox)
}

// =============================================================================
// HTTP Handlers
// =============================================================================

// HandleListAgents lists all registered agents
func (h *AgentHandler) HandleListAgents(w http.ResponseWriter, r *http.Request) {
	agents := h.rt.Deps().Registry.List()
	out := make([]AgentInfo, 0, len(agents))
	for _, a := range agents {
		out = append(out, h.info(a))
	}
	WriteSuccess(w, out)
}

// HandleGetAgent returns one agent
func (h *AgentHandler) HandleGetAgent(w http.ResponseWriter, r *http.Request) {
	a, ok := h.rt.Deps().Registry.Agent(r.PathValue("id"))
	if !ok {
		WriteErrorMessage(w, types.ErrNotFound, "agent not found", h.logger)
		return
	}
	WriteSuccess(w, h.info(a))
}

// HandleCreateAgent registers an agent and its tool rules
func (h *AgentHandler) HandleCreateAgent(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, h.logger) {
		return
	}
	var req CreateAgentRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	a, err := h.rt.RegisterAgent(r.Context(), types.Agent{
		ID:           strings.TrimSpace(req.ID),
		Name:         strings.TrimSpace(req.Name),
		Backend:      req.Backend,
		Persona:      req.Persona,
		Capabilities: req.Capabilities,
	})
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	if len(req.Allow) > 0 || len(req.Deny) > 0 {
		if err := h.rt.Deps().Policy.SetRules(tools.AgentRules{
			AgentID: a.ID,
			Allowed: req.Allow,
			Denied:  req.Deny,
		}); err != nil {
			WriteError(w, err, h.logger)
			return
		}
	}

	h.logger.Info("agent registered", zap.String("agent_id", a.ID), zap.String("backend", a.Backend))
	WriteCreated(w, h.info(a))
}

// HandleUpdateAgent changes an agent's persona or backend
func (h *AgentHandler) HandleUpdateAgent(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, h.logger) {
		return
	}
	var req UpdateAgentRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	a, err := h.rt.Deps().Registry.Update(r.Context(), r.PathValue("id"), req.Persona, req.Backend)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, h.info(a))
}

// HandleMailbox lists an agent's inbox
func (h *AgentHandler) HandleMailbox(w http.ResponseWriter, r *http.Request) {
	mail, err := h.rt.Mail(r.Context(), r.PathValue("agent"))
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	if mail == nil {
		mail = []types.Mail{}
	}
	WriteSuccess(w, mail)
}

func (h *AgentHandler) info(a types.Agent) AgentInfo {
	policy := h.rt.Deps().Policy
	allowed := make([]types.ToolName, 0, len(types.AllTools))
	for _, t := range types.AllTools {
		if ok, _ := policy.CanUse(a.ID, t); ok {
			allowed = append(allowed, t)
		}
	}
	return AgentInfo{Agent: a, Tools: allowed}
}
