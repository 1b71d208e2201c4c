package conversation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"llmchat/internal/models"
)

// CreateConversation inserts a new "Untitled" conversation owned by userID.
func (s *Service) CreateConversation(ctx context.Context, userID int64, model string, systemPrompt *string) (*models.Conversation, error) {
	if userID <= 0 {
		return nil, errors.New("user_id is required")
	}
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (user_id, title, model, system_prompt, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		userID, models.UntitledTitle, model, nullString(systemPrompt), now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("conversation id: %w", err)
	}
	s.cache.Invalidate(ctx, userID)
	return &models.Conversation{
		ID:           id,
		UserID:       userID,
		Title:        models.UntitledTitle,
		Model:        model,
		SystemPrompt: systemPrompt,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// GetConversation loads a conversation for its owner. It returns sql.ErrNoRows
// when the id is unknown and ErrForbidden when another user owns it.
func (s *Service) GetConversation(ctx context.Context, userID, id int64) (*models.Conversation, error) {
	var (
		conv   models.Conversation
		prompt sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, title, model, system_prompt, created_at, updated_at FROM conversations WHERE id = ?`, id,
	).Scan(&conv.ID, &conv.UserID, &conv.Title, &conv.Model, &prompt, &conv.CreatedAt, &conv.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	if conv.UserID != userID {
		return nil, ErrForbidden
	}
	conv.SystemPrompt = stringPtr(prompt)
	return &conv, nil
}

// GetConversationWithMessages loads a conversation and its ordered messages,
// attachments included.
func (s *Service) GetConversationWithMessages(ctx context.Context, userID, id int64) (*models.Conversation, error) {
	conv, err := s.GetConversation(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	msgs, err := s.ListMessages(ctx, conv.ID)
	if err != nil {
		return nil, err
	}
	conv.Messages = msgs
	return conv, nil
}

// ListConversations returns the owner's conversations, most recently active first.
func (s *Service) ListConversations(ctx context.Context, userID int64) ([]models.ConversationSummary, error) {
	if cached, ok := s.cache.Load(ctx, userID); ok {
		return cached, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, model, updated_at FROM conversations WHERE user_id = ? ORDER BY updated_at DESC, id DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	list := make([]models.ConversationSummary, 0)
	for rows.Next() {
		var c models.ConversationSummary
		if err := rows.Scan(&c.ID, &c.Title, &c.Model, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		list = append(list, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	s.cache.Store(ctx, userID, list)
	return list, nil
}

// UpdateModel switches the conversation to another model.
func (s *Service) UpdateModel(ctx context.Context, conv *models.Conversation, model string) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET model = ?, updated_at = ? WHERE id = ?`, model, now, conv.ID)
	if err != nil {
		return fmt.Errorf("update model: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return sql.ErrNoRows
	}
	conv.Model = model
	conv.UpdatedAt = now
	s.cache.Invalidate(ctx, conv.UserID)
	return nil
}

// SetTitleIfUntitled assigns a title only while the conversation is still
// "Untitled". It reports whether the title was written.
func (s *Service) SetTitleIfUntitled(ctx context.Context, conv *models.Conversation, title string) (bool, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return false, nil
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET title = ? WHERE id = ? AND title = ?`,
		title, conv.ID, models.UntitledTitle,
	)
	if err != nil {
		return false, fmt.Errorf("update title: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("title rows affected: %w", err)
	}
	if affected == 0 {
		return false, nil
	}
	conv.Title = title
	s.cache.Invalidate(ctx, conv.UserID)
	return true, nil
}

// DeleteConversation removes a conversation with its messages and attachment
// rows. It returns the attachment storage paths so the files can be removed.
func (s *Service) DeleteConversation(ctx context.Context, userID, id int64) ([]string, error) {
	if id <= 0 {
		return nil, errors.New("invalid conversation id")
	}
	if _, err := s.GetConversation(ctx, userID, id); err != nil {
		return nil, err
	}
	paths, err := s.attachmentPaths(ctx,
		`SELECT a.storage_path FROM attachments a
		 JOIN messages m ON m.id = a.message_id
		 WHERE m.conversation_id = ?`, id)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM attachments WHERE message_id IN (SELECT id FROM messages WHERE conversation_id = ?)`, id); err != nil {
		return nil, fmt.Errorf("delete attachments: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE conversation_id = ?`, id); err != nil {
		return nil, fmt.Errorf("delete messages: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM conversations WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return nil, fmt.Errorf("delete conversation: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return nil, sql.ErrNoRows
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit delete conversation: %w", err)
	}
	s.cache.Invalidate(ctx, userID)
	return paths, nil
}
