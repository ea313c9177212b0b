package types

import "time"

// CommonRoomID identifies the conversation that auto-includes every agent.
const CommonRoomID = "common"

// Conversation is an ordered group of participating agents.
type Conversation struct {
	ID           string               `json:"id"`
	Title        string               `json:"title,omitempty"`
	Participants []string             `json:"participants"`
	JoinedAt     map[string]time.Time `json:"joined_at"`
	CreatedAt    time.Time            `json:"created_at"`
	UpdatedAt    time.Time            `json:"updated_at"`
}

// IsCommonRoom reports whether this is the distinguished common room.
func (c Conversation) IsCommonRoom() bool {
	return c.ID == CommonRoomID
}

// IndexOf returns the participant position of agentID, or -1.
func (c Conversation) IndexOf(agentID string) int {
	for i, p := range c.Participants {
		if p == agentID {
			return i
		}
	}
	return -1
}

// Clone returns a deep copy.
func (c Conversation) Clone() Conversation {
	out := c
	out.Participants = append([]string(nil), c.Participants...)
	out.JoinedAt = make(map[string]time.Time, len(c.JoinedAt))
	for k, v := range c.JoinedAt {
		out.JoinedAt[k] = v
	}
	return out
}
