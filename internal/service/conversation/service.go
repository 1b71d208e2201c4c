// Package conversation persists users, conversations, messages, attachments,
// prompt templates and provider keys.
package conversation

import (
	"database/sql"
	"errors"
	"os"

	"github.com/rs/zerolog"

	"llmchat/internal/logging"
)

// ErrForbidden is returned when a record exists but belongs to another user.
var ErrForbidden = errors.New("forbidden")

// Service is the relational store behind the chat API.
type Service struct {
	db     *sql.DB
	keys   *keyCipher
	cache  *ListCache
	logger zerolog.Logger
}

type Option func(*Service) error

// WithListCache caches conversation lists in redis.
func WithListCache(cache *ListCache) Option {
	return func(s *Service) error {
		s.cache = cache
		return nil
	}
}

// WithKeySecret overrides the provider-key secret normally read from KeyEnv.
func WithKeySecret(secret string) Option {
	return func(s *Service) error {
		c, err := newKeyCipher(secret)
		if err != nil {
			return err
		}
		s.keys = c
		return nil
	}
}

// NewService builds the store. Provider keys are encrypted when KeyEnv is set.
func NewService(db *sql.DB, opts ...Option) (*Service, error) {
	s := &Service{db: db, logger: logging.Component("conversation")}
	c, err := newKeyCipher(os.Getenv(KeyEnv))
	if err != nil {
		return nil, err
	}
	s.keys = c
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	if s.keys == nil {
		s.logger.Warn().Msgf("%s not set, provider keys are stored unencrypted", KeyEnv)
	}
	return s, nil
}

// DB exposes the underlying handle for migrations and tests.
func (s *Service) DB() *sql.DB {
	return s.db
}

func nullString(p *string) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

func nullInt(p *int) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*p), Valid: true}
}

func intPtr(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}
