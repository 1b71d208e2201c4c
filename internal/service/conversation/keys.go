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

// SetProviderKey persists or replaces the API key a user supplies for a provider.
func (s *Service) SetProviderKey(ctx context.Context, userID int64, provider, key string) error {
	if userID <= 0 {
		return errors.New("invalid user id")
	}
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == "" {
		return errors.New("provider is required")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return errors.New("key is required")
	}
	sealed, err := s.keys.seal(key)
	if err != nil {
		return fmt.Errorf("encrypt key: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM api_keys WHERE user_id = ? AND provider = ?`, userID, provider); err != nil {
		return fmt.Errorf("replace key: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO api_keys (user_id, provider, api_key, created_at) VALUES (?, ?, ?, ?)`,
		userID, provider, sealed, time.Now().UTC(),
	); err != nil {
		return fmt.Errorf("store key: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit key: %w", err)
	}
	return nil
}

// ProviderKey returns the user's key for the provider, or "" when none is stored.
func (s *Service) ProviderKey(ctx context.Context, userID int64, provider string) (string, error) {
	var stored string
	err := s.db.QueryRowContext(ctx,
		`SELECT api_key FROM api_keys WHERE user_id = ? AND provider = ?`,
		userID, strings.ToLower(strings.TrimSpace(provider)),
	).Scan(&stored)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("lookup key: %w", err)
	}
	plain, err := s.keys.open(stored)
	if err != nil {
		// rows written before encryption was enabled
		return stored, nil
	}
	return plain, nil
}

// ListProviderKeys returns masked keys for display.
func (s *Service) ListProviderKeys(ctx context.Context, userID int64) ([]models.ProviderKey, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT provider, api_key, created_at FROM api_keys WHERE user_id = ? ORDER BY provider`, userID)
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	defer rows.Close()

	keys := make([]models.ProviderKey, 0)
	for rows.Next() {
		var (
			k      models.ProviderKey
			stored string
		)
		if err := rows.Scan(&k.Provider, &stored, &k.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan key: %w", err)
		}
		plain, err := s.keys.open(stored)
		if err != nil {
			plain = stored
		}
		k.Masked = maskKey(plain)
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// DeleteProviderKey removes the user's key for a provider.
func (s *Service) DeleteProviderKey(ctx context.Context, userID int64, provider string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM api_keys WHERE user_id = ? AND provider = ?`,
		userID, strings.ToLower(strings.TrimSpace(provider)))
	if err != nil {
		return fmt.Errorf("delete key: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func maskKey(key string) string {
	if len(key) <= 4 {
		return strings.Repeat("*", len(key))
	}
	return strings.Repeat("*", 8) + key[len(key)-4:]
}
