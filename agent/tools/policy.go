package tools

import (
	"fmt"
	"strings"
	"sync"

	"github.com/BaSui01/agentcircle/types"
	"go.uber.org/zap"
)

// Directory resolves agents by id or display name.
type Directory interface {
	Agent(id string) (types.Agent, bool)
	AgentByName(name string) (types.Agent, bool)
}

// AgentRules holds explicit per-agent allow and deny lists. Entries are tool
// names or patterns with a leading or trailing '*'.
type AgentRules struct {
	AgentID string   `json:"agent_id" yaml:"agent_id"`
	Allowed []string `json:"allowed,omitempty" yaml:"allowed"`
	Denied  []string `json:"denied,omitempty" yaml:"denied"`
}

// Policy answers whether an agent may invoke a tool.
//
// Order of evaluation: explicit deny, explicit allow, the agent's capability
// flags (when it declares any), then the default allow set.
type Policy struct {
	mu        sync.RWMutex
	rules     map[string]*AgentRules
	defaults  map[types.ToolName]bool
	directory Directory
	logger    *zap.Logger
}

// NewPolicy creates a policy. A nil defaults slice allows every tool.
func NewPolicy(directory Directory, defaults []types.ToolName, logger *zap.Logger) *Policy {
	if logger == nil {
		logger = zap.NewNop()
	}
	if defaults == nil {
		defaults = types.AllTools
	}
	p := &Policy{
		rules:     make(map[string]*AgentRules),
		defaults:  make(map[types.ToolName]bool, len(defaults)),
		directory: directory,
		logger:    logger.With(zap.String("component", "tool_policy")),
	}
	for _, t := range defaults {
		p.defaults[t] = true
	}
	return p
}

// SetRules replaces the explicit rules of one agent.
func (p *Policy) SetRules(rules AgentRules) error {
	if rules.AgentID == "" {
		return types.NewError(types.ErrInvalidRequest, "agent id is required")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	cp := rules
	cp.Allowed = append([]string(nil), rules.Allowed...)
	cp.Denied = append([]string(nil), rules.Denied...)
	p.rules[rules.AgentID] = &cp
	return nil
}

// Set records a single allow or deny entry, removing it from the opposite list.
func (p *Policy) Set(agentID string, tool types.ToolName, allowed bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	r, ok := p.rules[agentID]
	if !ok {
		r = &AgentRules{AgentID: agentID}
		p.rules[agentID] = r
	}
	name := string(tool)
	r.Allowed = without(r.Allowed, name)
	r.Denied = without(r.Denied, name)
	if allowed {
		r.Allowed = append(r.Allowed, name)
	} else {
		r.Denied = append(r.Denied, name)
	}
}

// Rules returns a copy of an agent's explicit rules.
func (p *Policy) Rules(agentID string) (AgentRules, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	r, ok := p.rules[agentID]
	if !ok {
		return AgentRules{}, false
	}
	cp := *r
	cp.Allowed = append([]string(nil), r.Allowed...)
	cp.Denied = append([]string(nil), r.Denied...)
	return cp, true
}

// CanUse reports whether agentID may invoke tool, with a reason on denial.
func (p *Policy) CanUse(agentID string, tool types.ToolName) (bool, string) {
	p.mu.RLock()
	r, ok := p.rules[agentID]
	if ok {
		for _, pattern := range r.Denied {
			if matchPattern(pattern, string(tool)) {
				p.mu.RUnlock()
				return false, fmt.Sprintf("%s is denied for %s", tool, agentID)
			}
		}
		for _, pattern := range r.Allowed {
			if matchPattern(pattern, string(tool)) {
				p.mu.RUnlock()
				return true, ""
			}
		}
	}
	p.mu.RUnlock()

	if p.directory != nil {
		if a, found := p.directory.Agent(agentID); found && len(a.Capabilities) > 0 {
			if a.HasCapability(tool) {
				return true, ""
			}
			return false, fmt.Sprintf("%s lacks the %s capability", a.Name, tool)
		}
	}

	if p.defaults[tool] {
		return true, ""
	}
	return false, fmt.Sprintf("%s is not enabled", tool)
}

func matchPattern(pattern, value string) bool {
	switch {
	case pattern == "*" || pattern == value:
		return true
	case strings.HasSuffix(pattern, "*"):
		return strings.HasPrefix(value, strings.TrimSuffix(pattern, "*"))
	case strings.HasPrefix(pattern, "*"):
		return strings.HasSuffix(value, strings.TrimPrefix(pattern, "*"))
	}
	return false
}

func without(list []string, s string) []string {
	out := list[:0]
	for _, v := range list {
		if v != s {
			out = append(out, v)
		}
	}
	return out
}
