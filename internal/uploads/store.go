// Package uploads holds files between the upload request and the chat request
// that consumes them.
package uploads

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound means the token is unknown, expired, owned by someone else or
// already consumed.
var ErrNotFound = errors.New("pending upload not found")

// Pending describes an uploaded file waiting to be attached to a message.
type Pending struct {
	Token       string    `json:"token"`
	OwnerID     int64     `json:"owner_id"`
	Filename    string    `json:"filename"`
	StoragePath string    `json:"storage_path"`
	MimeType    string    `json:"mime_type"`
	Size        int64     `json:"size"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Store is a keyed, expiring, single-use registry of pending uploads.
type Store interface {
	// Put registers p and returns its token.
	Put(ctx context.Context, p Pending) (string, error)
	// Take removes and returns the upload. A second Take of the same token
	// returns ErrNotFound.
	Take(ctx context.Context, ownerID int64, token string) (*Pending, error)
}

func newToken() string {
	return uuid.NewString()
}

// MemoryStore is an in-process Store with explicit expiry.
type MemoryStore struct {
	ttl   time.Duration
	now   func() time.Time
	mu    sync.Mutex
	items map[string]Pending
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &MemoryStore{ttl: ttl, now: time.Now, items: make(map[string]Pending)}
}

func (m *MemoryStore) Put(_ context.Context, p Pending) (string, error) {
	p.Token = newToken()
	p.ExpiresAt = m.now().Add(m.ttl)
	m.mu.Lock()
	m.items[p.Token] = p
	m.mu.Unlock()
	return p.Token, nil
}

func (m *MemoryStore) Take(_ context.Context, ownerID int64, token string) (*Pending, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.items[token]
	if !ok || p.OwnerID != ownerID {
		return nil, ErrNotFound
	}
	delete(m.items, token)
	if !m.now().Before(p.ExpiresAt) {
		return nil, ErrNotFound
	}
	return &p, nil
}

// Expire drops entries past their deadline and returns them.
func (m *MemoryStore) Expire() []Pending {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Pending
	for k, p := range m.items {
		if !now.Before(p.ExpiresAt) {
			out = append(out, p)
			delete(m.items, k)
		}
	}
	return out
}

// Len reports the number of live entries.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}
