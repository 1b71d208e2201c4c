package uploads

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"llmchat/internal/redis"
)

// RedisStore keeps pending uploads in redis with a TTL; GETDEL makes tokens single-use.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &RedisStore{client: client, ttl: ttl}
}

func pendingKey(ownerID int64, token string) string {
	return fmt.Sprintf("upload:%d:%s", ownerID, token)
}

func (r *RedisStore) Put(ctx context.Context, p Pending) (string, error) {
	p.Token = newToken()
	p.ExpiresAt = time.Now().Add(r.ttl)
	data, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("encode pending upload: %w", err)
	}
	if err := r.client.Set(ctx, pendingKey(p.OwnerID, p.Token), data, r.ttl); err != nil {
		return "", fmt.Errorf("store pending upload: %w", err)
	}
	return p.Token, nil
}

func (r *RedisStore) Take(ctx context.Context, ownerID int64, token string) (*Pending, error) {
	raw, err := r.client.GetDel(ctx, pendingKey(ownerID, token))
	if err != nil {
		if errors.Is(err, redis.ErrCacheMiss) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("take pending upload: %w", err)
	}
	var p Pending
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, fmt.Errorf("decode pending upload: %w", err)
	}
	return &p, nil
}
