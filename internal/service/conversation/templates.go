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

// ListTemplates returns the user's own templates followed by shared ones, each
// group ordered by name.
func (s *Service) ListTemplates(ctx context.Context, userID int64) ([]models.SystemPromptTemplate, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, name, prompt, created_at FROM system_prompt_templates
		 WHERE user_id = ? OR user_id IS NULL
		 ORDER BY CASE WHEN user_id IS NULL THEN 1 ELSE 0 END, name ASC, id ASC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	defer rows.Close()

	out := make([]models.SystemPromptTemplate, 0)
	for rows.Next() {
		var (
			t     models.SystemPromptTemplate
			owner sql.NullInt64
		)
		if err := rows.Scan(&t.ID, &owner, &t.Name, &t.Prompt, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan template: %w", err)
		}
		if owner.Valid {
			id := owner.Int64
			t.UserID = &id
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// CreateTemplate stores a template. A nil userID creates a shared template.
func (s *Service) CreateTemplate(ctx context.Context, userID *int64, name, prompt string) (*models.SystemPromptTemplate, error) {
	name = strings.TrimSpace(name)
	prompt = strings.TrimSpace(prompt)
	if name == "" || prompt == "" {
		return nil, errors.New("name and prompt are required")
	}
	var owner sql.NullInt64
	if userID != nil {
		owner = sql.NullInt64{Int64: *userID, Valid: true}
	}
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO system_prompt_templates (user_id, name, prompt, created_at) VALUES (?, ?, ?, ?)`,
		owner, name, prompt, now,
	)
	if err != nil {
		return nil, fmt.Errorf("create template: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("template id: %w", err)
	}
	return &models.SystemPromptTemplate{ID: id, UserID: userID, Name: name, Prompt: prompt, CreatedAt: now}, nil
}

// DeleteTemplate removes one of the user's own templates. Shared templates
// cannot be deleted through this call.
func (s *Service) DeleteTemplate(ctx context.Context, userID, id int64) error {
	var owner sql.NullInt64
	err := s.db.QueryRowContext(ctx, `SELECT user_id FROM system_prompt_templates WHERE id = ?`, id).Scan(&owner)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return err
		}
		return fmt.Errorf("lookup template: %w", err)
	}
	if !owner.Valid || owner.Int64 != userID {
		return ErrForbidden
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM system_prompt_templates WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete template: %w", err)
	}
	return nil
}
