// Package invoker calls the completion backend an agent is bound to.
package invoker

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/BaSui01/agentcircle/types"
)

// Request is everything a backend needs for one agent turn.
type Request struct {
	Agent types.Agent
	// System is the rendered system prompt, see PromptBuilder.
	System     string
	History    []types.Message
	Prompt string
	// Attachment is the newest file the user sent; its content follows Prompt.
	Attachment *types.Attachment
	Memory     types.RetrievedSet
	// Names maps sender ids to display names for rendering history.
	Names map[string]string
}

// SenderName returns the display name of a history sender.
func (r Request) SenderName(sender string) string {
	if n, ok := r.Names[sender]; ok && n != "" {
		return n
	}
	return sender
}

// Invoker completes one agent turn. Errors are returned verbatim; callers
// must not retry.
type Invoker interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// InvokerFunc adapts a function to Invoker.
type InvokerFunc func(ctx context.Context, req Request) (string, error)

func (f InvokerFunc) Complete(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

// Router dispatches to an Invoker by the provider prefix of the agent's
// backend reference.
type Router struct {
	mu       sync.RWMutex
	backends map[string]Invoker
	fallback string
}

// NewRouter creates an empty router.
func NewRouter() *Router {
	return &Router{backends: make(map[string]Invoker)}
}

// Register adds or replaces the invoker for provider.
func (r *Router) Register(provider string, inv Invoker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backends[strings.ToLower(provider)] = inv
}

// SetFallback names the provider used for agents whose provider is unknown.
func (r *Router) SetFallback(provider string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	provider = strings.ToLower(provider)
	if _, ok := r.backends[provider]; !ok {
		return fmt.Errorf("provider %q not registered", provider)
	}
	r.fallback = provider
	return nil
}

// Providers returns the registered provider names, sorted.
func (r *Router) Providers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.backends))
	for name := range r.backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Router) Complete(ctx context.Context, req Request) (string, error) {
	provider := strings.ToLower(req.Agent.Provider())
	r.mu.RLock()
	inv, ok := r.backends[provider]
	if !ok && r.fallback != "" {
		inv, ok = r.backends[r.fallback]
	}
	r.mu.RUnlock()
	if !ok {
		return "", types.Errorf(types.ErrProviderNotSet, "no backend for provider %q", provider).WithProvider(provider)
	}
	return inv.Complete(ctx, req)
}
