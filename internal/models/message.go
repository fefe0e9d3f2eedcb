package models

import "time"

// Message represents an individual communication entry within a conversation. Only Role and Content
// travel to the inference endpoint; the remaining fields are filled by the persistence layer.
type Message struct {
	ID             string    `json:"id,omitempty"`
	ConversationID string    `json:"conversationId,omitempty"`
	UserID         string    `json:"userId,omitempty"`
	Role           Role      `json:"role"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Role represents the role of a message participant.
type Role string

const (
	// RoleUser represents a message typed by the user.
	RoleUser Role = "user"
	// RoleAssistant represents a message generated by the inference endpoint.
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is one of the roles a conversation may contain.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// ApplyDelta returns a copy of messages whose trailing assistant message holds content. When the
// list does not end with an assistant message, a new one is appended instead, so a stream never
// produces more than one trailing assistant message. The input slice is left untouched.
func ApplyDelta(messages []Message, content string) []Message {
	out := make([]Message, len(messages), len(messages)+1)
	copy(out, messages)

	if n := len(out); n > 0 && out[n-1].Role == RoleAssistant {
		out[n-1].Content = content
		return out
	}

	return append(out, Message{
		Role:    RoleAssistant,
		Content: content,
	})
}
