package types

import "time"

// Mail is a message delivered to one agent's inbox by another agent.
type Mail struct {
	ID             string    `json:"id"`
	From           string    `json:"from"`
	To             string    `json:"to"`
	ConversationID string    `json:"conversation_id,omitempty"`
	Body           string    `json:"body"`
	CreatedAt      time.Time `json:"created_at"`
	Read           bool      `json:"read"`
}

// LibraryDocument is a titled text shared durably with every agent.
type LibraryDocument struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	AuthorID  string    `json:"author_id"`
	Embedding []float64 `json:"-"`
	CreatedAt time.Time `json:"created_at"`
}

// Notification is an out-of-band message to the human operator.
type Notification struct {
	From           string    `json:"from"`
	ConversationID string    `json:"conversation_id,omitempty"`
	Body           string    `json:"body"`
	Urgent         bool      `json:"urgent"`
	CreatedAt      time.Time `json:"created_at"`
}
