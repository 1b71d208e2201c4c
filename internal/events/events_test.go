package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"llmchat/internal/config"
)

type recorder struct {
	mu          sync.Mutex
	invalidated []int64
	removed     []string
}

func (r *recorder) Invalidate(_ context.Context, userID int64) {
	r.mu.Lock()
	r.invalidated = append(r.invalidated, userID)
	r.mu.Unlock()
}

func (r *recorder) Remove(paths ...string) {
	r.mu.Lock()
	r.removed = append(r.removed, paths...)
	r.mu.Unlock()
}

func TestMemoryBusDeliversToProjector(t *testing.T) {
	bus := NewMemoryBus()
	defer bus.Close()

	rec := &recorder{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- bus.Run(ctx, Projector(rec, rec)) }()

	// Wait until the subscription is live; the bus drops events published
	// before any subscriber exists.
	require.Eventually(t, func() bool {
		_ = bus.Publish(context.Background(), Event{Type: KindUpdated, UserID: 1, ConversationID: 9})
		rec.mu.Lock()
		defer rec.mu.Unlock()
		return len(rec.invalidated) > 0
	}, 2*time.Second, 20*time.Millisecond)

	require.NoError(t, bus.Publish(context.Background(), Event{
		Type: KindDeleted, UserID: 2, ConversationID: 10, Paths: []string{"/tmp/a", "/tmp/b"},
	}))

	rec.mu.Lock()
	assert.Contains(t, rec.invalidated, int64(2))
	assert.Equal(t, []string{"/tmp/a", "/tmp/b"}, rec.removed)
	rec.mu.Unlock()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

func TestNewWithoutRedisUsesMemory(t *testing.T) {
	bus, err := New(nil, cfgForTest())
	require.NoError(t, err)
	assert.True(t, bus.shared)
	require.NoError(t, bus.Close())
}

func cfgForTest() config.RedisConfig {
	return config.RedisConfig{ConsumerGroup: "test"}
}
