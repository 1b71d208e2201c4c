package chat

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"llmchat/internal/models"
)

const (
	MaxSystemPromptLen = 5000
	TitleMaxLen        = 50
)

// ErrValidation marks request errors that are the caller's fault.
var ErrValidation = errors.New("validation failed")

// ValidationError names the offending field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// InputMessage is one turn as submitted by the client.
type InputMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// StreamInput is a chat request after transport decoding.
type StreamInput struct {
	OwnerID           int64
	Messages          []InputMessage
	ConversationID    *int64
	Model             string
	SystemPrompt      *string
	AttachmentTempIDs []string
	WebSearch         bool
}

// Validate checks the input and fills the default model.
func Validate(in *StreamInput, defaultModel string) error {
	if in.OwnerID <= 0 {
		return errors.New("owner is required")
	}
	if len(in.Messages) == 0 {
		return &ValidationError{Field: "messages", Message: "at least one message is required"}
	}
	for i, m := range in.Messages {
		if !models.Role(m.Role).Valid() {
			return &ValidationError{Field: fmt.Sprintf("messages.%d.role", i), Message: "must be user or assistant"}
		}
		if m.Content == "" {
			return &ValidationError{Field: fmt.Sprintf("messages.%d.content", i), Message: "is required"}
		}
	}
	if in.ConversationID != nil && *in.ConversationID <= 0 {
		return &ValidationError{Field: "conversation_id", Message: "must be a positive integer"}
	}
	if in.SystemPrompt != nil {
		if utf8.RuneCountInString(*in.SystemPrompt) > MaxSystemPromptLen {
			return &ValidationError{Field: "system_prompt", Message: fmt.Sprintf("may not be greater than %d characters", MaxSystemPromptLen)}
		}
		if strings.TrimSpace(*in.SystemPrompt) == "" {
			in.SystemPrompt = nil
		}
	}
	if strings.TrimSpace(in.Model) == "" {
		in.Model = defaultModel
	}
	return nil
}

// MakeTitle derives a conversation title from its first user message.
func MakeTitle(content string) string {
	if utf8.RuneCountInString(content) <= TitleMaxLen {
		return content
	}
	runes := []rune(content)
	return strings.TrimRight(string(runes[:TitleMaxLen]), " \t\r\n") + "..."
}
