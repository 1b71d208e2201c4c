package conversation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"llmchat/internal/models"
)

// AddMessage stores a new message and updates the conversation's updated_at timestamp.
func (s *Service) AddMessage(ctx context.Context, msg models.Message) (*models.Message, error) {
	if msg.ConversationID <= 0 {
		return nil, errors.New("conversation_id is required")
	}
	if !msg.Role.Valid() {
		return nil, fmt.Errorf("invalid role %q", msg.Role)
	}
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (conversation_id, role, content, input_tokens, output_tokens, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		msg.ConversationID, msg.Role, msg.Content, nullInt(msg.InputTokens), nullInt(msg.OutputTokens), now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("message id: %w", err)
	}
	var owner int64
	if _, err := s.db.ExecContext(ctx, `UPDATE conversations SET updated_at = ? WHERE id = ?`, now, msg.ConversationID); err != nil {
		return nil, fmt.Errorf("touch conversation: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT user_id FROM conversations WHERE id = ?`, msg.ConversationID).Scan(&owner); err == nil {
		s.cache.Invalidate(ctx, owner)
	}
	msg.ID = id
	msg.CreatedAt = now
	return &msg, nil
}

// ListMessages returns the conversation's messages ordered by creation time,
// each with its attachments.
func (s *Service) ListMessages(ctx context.Context, conversationID int64) ([]*models.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, role, content, input_tokens, output_tokens, created_at
		 FROM messages WHERE conversation_id = ? ORDER BY created_at ASC, id ASC`,
		conversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	messages := make([]*models.Message, 0)
	byID := make(map[int64]*models.Message)
	for rows.Next() {
		var (
			m       = new(models.Message)
			in, out sql.NullInt64
		)
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &in, &out, &m.CreatedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.InputTokens = intPtr(in)
		m.OutputTokens = intPtr(out)
		messages = append(messages, m)
		byID[m.ID] = m
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	attRows, err := s.db.QueryContext(ctx,
		`SELECT a.id, a.message_id, a.filename, a.storage_path, a.mime_type, a.size, a.created_at
		 FROM attachments a JOIN messages m ON m.id = a.message_id
		 WHERE m.conversation_id = ? ORDER BY a.id ASC`,
		conversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("list attachments: %w", err)
	}
	defer attRows.Close()
	for attRows.Next() {
		a := new(models.Attachment)
		if err := attRows.Scan(&a.ID, &a.MessageID, &a.Filename, &a.StoragePath, &a.MimeType, &a.Size, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan attachment: %w", err)
		}
		if m, ok := byID[a.MessageID]; ok {
			m.Attachments = append(m.Attachments, a)
		}
	}
	return messages, attRows.Err()
}

// FirstUserMessage returns the content of the earliest user message, or "" when none exists.
func (s *Service) FirstUserMessage(ctx context.Context, conversationID int64) (string, error) {
	var content string
	err := s.db.QueryRowContext(ctx,
		`SELECT content FROM messages WHERE conversation_id = ? AND role = ? ORDER BY created_at ASC, id ASC LIMIT 1`,
		conversationID, models.RoleUser,
	).Scan(&content)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("first user message: %w", err)
	}
	return content, nil
}

// AddAttachment records a file against a stored message.
func (s *Service) AddAttachment(ctx context.Context, a models.Attachment) (*models.Attachment, error) {
	if a.MessageID <= 0 {
		return nil, errors.New("message_id is required")
	}
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO attachments (message_id, filename, storage_path, mime_type, size, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		a.MessageID, a.Filename, a.StoragePath, a.MimeType, a.Size, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert attachment: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("attachment id: %w", err)
	}
	a.ID = id
	a.CreatedAt = now
	return &a, nil
}

// GetAttachment loads an attachment whose parent conversation belongs to userID.
func (s *Service) GetAttachment(ctx context.Context, userID, id int64) (*models.Attachment, error) {
	var (
		a     models.Attachment
		owner int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT a.id, a.message_id, a.filename, a.storage_path, a.mime_type, a.size, a.created_at, c.user_id
		 FROM attachments a
		 JOIN messages m ON m.id = a.message_id
		 JOIN conversations c ON c.id = m.conversation_id
		 WHERE a.id = ?`, id,
	).Scan(&a.ID, &a.MessageID, &a.Filename, &a.StoragePath, &a.MimeType, &a.Size, &a.CreatedAt, &owner)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("get attachment: %w", err)
	}
	if owner != userID {
		return nil, ErrForbidden
	}
	return &a, nil
}
