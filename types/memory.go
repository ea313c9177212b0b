package types

import (
	"strings"
	"time"
)

// Scope names the owner partition of a memory document.
type Scope string

const (
	scopePrivatePrefix = "private:"
	scopeSharedPrefix  = "shared:"
)

// PrivateScope returns the scope owned by one agent.
func PrivateScope(agentID string) Scope {
	return Scope(scopePrivatePrefix + agentID)
}

// SharedScope returns the scope owned by one conversation.
func SharedScope(conversationID string) Scope {
	return Scope(scopeSharedPrefix + conversationID)
}

// IsPrivate reports whether the scope belongs to an agent.
func (s Scope) IsPrivate() bool {
	return strings.HasPrefix(string(s), scopePrivatePrefix)
}

// IsShared reports whether the scope belongs to a conversation.
func (s Scope) IsShared() bool {
	return strings.HasPrefix(string(s), scopeSharedPrefix)
}

// Owner returns the agent or conversation id encoded in the scope.
func (s Scope) Owner() string {
	switch {
	case s.IsPrivate():
		return strings.TrimPrefix(string(s), scopePrivatePrefix)
	case s.IsShared():
		return strings.TrimPrefix(string(s), scopeSharedPrefix)
	default:
		return string(s)
	}
}

// Valid reports whether the scope has a known prefix and a non-empty owner.
func (s Scope) Valid() bool {
	return (s.IsPrivate() || s.IsShared()) && s.Owner() != ""
}

// MemoryDocument is a text with its embedding, owned by a scope.
// Only Utility changes after creation.
type MemoryDocument struct {
	ID        string    `json:"id"`
	Scope     Scope     `json:"scope"`
	Text      string    `json:"text"`
	Embedding []float64 `json:"embedding"`
	Utility   float64   `json:"utility"`
	CreatedAt time.Time `json:"created_at"`
}

// ScoredDocument pairs a document with its similarity to a query.
type ScoredDocument struct {
	Document   MemoryDocument `json:"document"`
	Similarity float64        `json:"similarity"`
}

// RetrievedSet is the memory context handed to a completion call.
type RetrievedSet []ScoredDocument

// Texts returns the document texts in rank order.
func (r RetrievedSet) Texts() []string {
	out := make([]string, 0, len(r))
	for _, d := range r {
		out = append(out, d.Document.Text)
	}
	return out
}
