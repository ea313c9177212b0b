package conversation

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/BaSui01/agentcircle/agent/persistence"
	"github.com/BaSui01/agentcircle/types"
	"go.uber.org/zap"
)

const agentsKey = "agents"

// Registry holds the configured agents in registration order.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]types.Agent
	order  []string
	kv     persistence.KV
	now    func() time.Time
	logger *zap.Logger
}

// NewRegistry creates a registry persisted in kv. A nil kv keeps agents in
// memory only. Unreadable stored data is logged and ignored.
func NewRegistry(ctx context.Context, kv persistence.KV, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{
		agents: make(map[string]types.Agent),
		kv:     kv,
		now:    time.Now,
		logger: logger.With(zap.String("component", "agent_registry")),
	}
	if kv == nil {
		return r
	}
	var stored []types.Agent
	if _, err := persistence.LoadJSON(ctx, kv, agentsKey, &stored); err != nil {
		r.logger.Warn("stored agents unreadable, starting empty", zap.Error(err))
		return r
	}
	for _, a := range stored {
		if a.Validate() != nil {
			continue
		}
		if _, dup := r.agents[a.ID]; dup {
			continue
		}
		r.agents[a.ID] = a
		r.order = append(r.order, a.ID)
	}
	return r
}

// Register adds a new agent.
func (r *Registry) Register(ctx context.Context, a types.Agent) (types.Agent, error) {
	if err := a.Validate(); err != nil {
		return types.Agent{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.agents[a.ID]; ok {
		return types.Agent{}, types.Errorf(types.ErrAlreadyExists, "agent %s already exists", a.ID)
	}
	if _, clash := r.byNameLocked(a.Name); clash {
		return types.Agent{}, types.Errorf(types.ErrAlreadyExists, "agent name %q already in use", a.Name)
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = r.now()
	}
	a.Capabilities = append([]types.ToolName(nil), a.Capabilities...)
	r.agents[a.ID] = a
	r.order = append(r.order, a.ID)
	r.logger.Info("agent registered", zap.String("agent_id", a.ID), zap.String("backend", a.Backend))
	return a, r.persistLocked(ctx)
}

// Update changes the persona and backend of an existing agent. Identity and
// capabilities are immutable.
func (r *Registry) Update(ctx context.Context, id, persona, backend string) (types.Agent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.agents[id]
	if !ok {
		return types.Agent{}, types.Errorf(types.ErrNotFound, "agent %s not found", id)
	}
	a.Persona = persona
	if backend != "" {
		a.Backend = backend
	}
	r.agents[id] = a
	return a, r.persistLocked(ctx)
}

// Agent returns the agent with id.
func (r *Registry) Agent(id string) (types.Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[id]
	return a, ok
}

// AgentByName resolves a display name case-insensitively.
func (r *Registry) AgentByName(name string) (types.Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byNameLocked(name)
}

func (r *Registry) byNameLocked(name string) (types.Agent, bool) {
	name = strings.TrimSpace(name)
	for _, id := range r.order {
		if a := r.agents[id]; strings.EqualFold(a.Name, name) {
			return a, true
		}
	}
	return types.Agent{}, false
}

// List returns every agent in registration order.
func (r *Registry) List() []types.Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]types.Agent, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.agents[id])
	}
	return out
}

// IDs returns every agent id in registration order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

func (r *Registry) persistLocked(ctx context.Context) error {
	if r.kv == nil {
		return nil
	}
	list := make([]types.Agent, 0, len(r.order))
	for _, id := range r.order {
		list = append(list, r.agents[id])
	}
	if err := persistence.SaveJSON(ctx, r.kv, agentsKey, list); err != nil {
		r.logger.Error("failed to persist agents", zap.Error(err))
		return types.NewError(types.ErrInternalError, "failed to persist agents").WithCause(err)
	}
	return nil
}
