package models

import "time"

type User struct {
	ID                  int64     `json:"id"`
	Username            string    `json:"username"`
	PasswordHash        string    `json:"-"`
	DefaultSystemPrompt *string   `json:"default_system_prompt"`
	CreatedAt           time.Time `json:"created_at"`
}

// ProviderKey is the masked view of a stored provider API key.
type ProviderKey struct {
	Provider  string    `json:"provider"`
	Masked    string    `json:"masked"`
	CreatedAt time.Time `json:"created_at"`
}
