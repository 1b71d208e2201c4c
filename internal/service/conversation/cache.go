package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"llmchat/internal/logging"
	"llmchat/internal/models"
	"llmchat/internal/redis"
)

const listCacheTTL = 30 * time.Minute

// ListCache keeps each user's sidebar list in redis. All methods are no-ops
// on a nil receiver.
type ListCache struct {
	client *redis.Client
	ttl    time.Duration
	logger zerolog.Logger
}

// NewListCache returns nil when client is nil.
func NewListCache(client *redis.Client) *ListCache {
	if client == nil {
		return nil
	}
	return &ListCache{client: client, ttl: listCacheTTL, logger: logging.Component("list_cache")}
}

func listKey(userID int64) string {
	return fmt.Sprintf("chat:conversations:%d", userID)
}

func (c *ListCache) Load(ctx context.Context, userID int64) ([]models.ConversationSummary, bool) {
	if c == nil {
		return nil, false
	}
	raw, err := c.client.Get(ctx, listKey(userID))
	if err != nil {
		if !errors.Is(err, redis.ErrCacheMiss) {
			c.logger.Warn().Err(err).Int64("user_id", userID).Msg("load conversation list")
		}
		return nil, false
	}
	var list []models.ConversationSummary
	if err := json.Unmarshal([]byte(raw), &list); err != nil {
		c.logger.Warn().Err(err).Int64("user_id", userID).Msg("decode conversation list")
		return nil, false
	}
	return list, true
}

func (c *ListCache) Store(ctx context.Context, userID int64, list []models.ConversationSummary) {
	if c == nil {
		return
	}
	data, err := json.Marshal(list)
	if err != nil {
		c.logger.Warn().Err(err).Msg("encode conversation list")
		return
	}
	if err := c.client.Set(ctx, listKey(userID), data, c.ttl); err != nil {
		c.logger.Warn().Err(err).Int64("user_id", userID).Msg("cache conversation list")
	}
}

func (c *ListCache) Invalidate(ctx context.Context, userID int64) {
	if c == nil || userID <= 0 {
		return
	}
	if err := c.client.Del(ctx, listKey(userID)); err != nil && !errors.Is(err, redis.ErrCacheMiss) {
		c.logger.Warn().Err(err).Int64("user_id", userID).Msg("invalidate conversation list")
	}
}
