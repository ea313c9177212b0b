package types

import (
	"strings"
	"time"
)

// ToolName identifies a side-effecting tool an agent can request through markup.
type ToolName string

const (
	ToolCandleTest      ToolName = "candle_test"
	ToolSiblingMessage  ToolName = "sibling_message"
	ToolLibrarySave     ToolName = "library_save"
	ToolShareMemory     ToolName = "share_memory"
	ToolContactOperator ToolName = "contact_operator"
)

// AllTools lists every known tool in processing order.
var AllTools = []ToolName{
	ToolCandleTest,
	ToolSiblingMessage,
	ToolLibrarySave,
	ToolShareMemory,
	ToolContactOperator,
}

// Agent is a configured persona bound to one completion backend.
type Agent struct {
	ID           string     `json:"id" yaml:"id"`
	Name         string     `json:"name" yaml:"name"`
	Backend      string     `json:"backend" yaml:"backend"` // opaque "provider:model"
	Capabilities []ToolName `json:"capabilities,omitempty" yaml:"capabilities"`
	Persona      string     `json:"persona,omitempty" yaml:"persona"`
	CreatedAt    time.Time  `json:"created_at" yaml:"-"`
}

// HasCapability reports whether the agent's capability flags include tool.
func (a Agent) HasCapability(tool ToolName) bool {
	for _, c := range a.Capabilities {
		if c == tool || c == "*" {
			return true
		}
	}
	return false
}

// Provider returns the provider part of the backend reference.
func (a Agent) Provider() string {
	provider, _, _ := strings.Cut(a.Backend, ":")
	return provider
}

// Model returns the model part of the backend reference, or the whole
// reference when it carries no provider prefix.
func (a Agent) Model() string {
	provider, model, ok := strings.Cut(a.Backend, ":")
	if !ok {
		return provider
	}
	return model
}

// Validate checks the agent definition.
func (a Agent) Validate() error {
	if strings.TrimSpace(a.ID) == "" {
		return NewError(ErrInvalidRequest, "agent id is required")
	}
	if strings.TrimSpace(a.Name) == "" {
		return NewError(ErrInvalidRequest, "agent name is required")
	}
	if a.ID == SenderUser || a.ID == SenderSystem {
		return Errorf(ErrInvalidRequest, "agent id %q is reserved", a.ID)
	}
	return nil
}
