package models

import "time"

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Valid reports whether the role may appear in a stored conversation.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// Message is one turn of a conversation. Token counts are only set on
// assistant turns whose provider reported usage.
type Message struct {
	ID             int64         `json:"id"`
	ConversationID int64         `json:"conversation_id"`
	Role           Role          `json:"role"`
	Content        string        `json:"content"`
	InputTokens    *int          `json:"input_tokens"`
	OutputTokens   *int          `json:"output_tokens"`
	Cost           *float64      `json:"cost"`
	Attachments    []*Attachment `json:"attachments,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
}
