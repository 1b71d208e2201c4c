package models

import "time"

// UntitledTitle marks a conversation whose title has not been derived yet.
const UntitledTitle = "Untitled"

// Conversation groups an ordered sequence of messages bound to one model.
type Conversation struct {
	ID           int64      `json:"id"`
	UserID       int64      `json:"user_id"`
	Title        string     `json:"title"`
	Model        string     `json:"model"`
	SystemPrompt *string    `json:"system_prompt"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	Messages     []*Message `json:"messages,omitempty"`
}

// ConversationSummary is the sidebar projection of a conversation.
type ConversationSummary struct {
	ID        int64     `json:"id"`
	Title     string    `json:"title"`
	Model     string    `json:"model"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SystemPromptTemplate is a named prompt; a nil UserID means it is shared.
type SystemPromptTemplate struct {
	ID        int64     `json:"id"`
	UserID    *int64    `json:"user_id"`
	Name      string    `json:"name"`
	Prompt    string    `json:"prompt"`
	CreatedAt time.Time `json:"created_at"`
}
