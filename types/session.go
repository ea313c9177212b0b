package types

import (
	"strings"
	"time"
)

// Template is a reusable discussion prompt.
type Template struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	Prompt     string    `json:"prompt"`
	ProposedBy string    `json:"proposed_by"`
	CreatedAt  time.Time `json:"created_at"`
}

// SessionStatus is the lifecycle state of a scheduled session.
type SessionStatus string

const (
	SessionScheduled SessionStatus = "scheduled"
	SessionRunning   SessionStatus = "running"
	SessionCompleted SessionStatus = "completed"
	SessionCancelled SessionStatus = "cancelled"
)

// sessionTransitions lists the only legal status moves.
var sessionTransitions = map[SessionStatus][]SessionStatus{
	SessionScheduled: {SessionRunning, SessionCancelled},
	SessionRunning:   {SessionCompleted},
}

// CanTransition reports whether from -> to is a legal status move.
func CanTransition(from, to SessionStatus) bool {
	for _, s := range sessionTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// ScheduledSession is a timed group conversation.
type ScheduledSession struct {
	ID              string        `json:"id"`
	ConversationID  string        `json:"conversation_id"`
	TemplateID      string        `json:"template_id,omitempty"`
	CustomPrompt    string        `json:"custom_prompt,omitempty"`
	ScheduledAt     time.Time     `json:"scheduled_at"`
	DurationMinutes int           `json:"duration_minutes"`
	Status          SessionStatus `json:"status"`
	StartedAt       *time.Time    `json:"started_at,omitempty"`
	CompletedAt     *time.Time    `json:"completed_at,omitempty"`
}

// Validate checks that exactly one prompt source is set and the duration is positive.
func (s ScheduledSession) Validate() error {
	hasTemplate := strings.TrimSpace(s.TemplateID) != ""
	hasCustom := strings.TrimSpace(s.CustomPrompt) != ""
	if hasTemplate == hasCustom {
		return NewError(ErrInvalidRequest, "exactly one of template_id or custom_prompt is required")
	}
	if s.DurationMinutes <= 0 {
		return NewError(ErrInvalidRequest, "duration_minutes must be positive")
	}
	return nil
}

// Transition moves the session to status to, stamping timestamps.
func (s *ScheduledSession) Transition(to SessionStatus, at time.Time) error {
	if !CanTransition(s.Status, to) {
		return Errorf(ErrInvalidTransition, "session %s: %s -> %s", s.ID, s.Status, to)
	}
	s.Status = to
	switch to {
	case SessionRunning:
		s.StartedAt = &at
	case SessionCompleted, SessionCancelled:
		s.CompletedAt = &at
	}
	return nil
}

// Duration returns the configured run length.
func (s ScheduledSession) Duration() time.Duration {
	return time.Duration(s.DurationMinutes) * time.Minute
}
