package events

import (
	"context"

	"llmchat/internal/logging"
)

// ListInvalidator drops a user's cached conversation list.
type ListInvalidator interface {
	Invalidate(ctx context.Context, userID int64)
}

// FileRemover deletes attachment files.
type FileRemover interface {
	Remove(paths ...string)
}

// Projector returns the handler run by the server: it keeps the list cache
// fresh and removes files orphaned by deleted conversations.
func Projector(cache ListInvalidator, files FileRemover) Handler {
	logger := logging.Component("events")
	return func(ctx context.Context, ev Event) error {
		if cache != nil {
			cache.Invalidate(ctx, ev.UserID)
		}
		if ev.Type == KindDeleted && len(ev.Paths) > 0 && files != nil {
			files.Remove(ev.Paths...)
		}
		logger.Debug().
			Str("type", string(ev.Type)).
			Int64("user_id", ev.UserID).
			Int64("conversation_id", ev.ConversationID).
			Msg("conversation event")
		return nil
	}
}
