package types

import "time"

// Reserved message senders.
const (
	SenderUser   = "user"
	SenderSystem = "system"
)

// Attachment is an optional file carried with a message.
type Attachment struct {
	Name     string `json:"name"`
	MimeType string `json:"mime_type,omitempty"`
	Content  string `json:"content,omitempty"`
}

// Message is an append-only transcript entry.
type Message struct {
	ID         string      `json:"id"`
	Sender     string      `json:"sender"` // user | system | agent id
	Text       string      `json:"text"`
	Attachment *Attachment `json:"attachment,omitempty"`
	Timestamp  time.Time   `json:"timestamp"`
	Utility    *float64    `json:"utility,omitempty"`
}

// FromUser reports whether the message was authored by the human user.
func (m Message) FromUser() bool {
	return m.Sender == SenderUser
}

// FromAgent reports whether the message was authored by an agent.
func (m Message) FromAgent() bool {
	return m.Sender != SenderUser && m.Sender != SenderSystem && m.Sender != ""
}
