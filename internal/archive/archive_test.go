package archive

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xela07ax/agentorg/internal/domain"
)

type memStore struct {
	mu      sync.Mutex
	batches [][]domain.AgentEvent
}

func (s *memStore) WriteBatch(ctx context.Context, events []domain.AgentEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	batch := make([]domain.AgentEvent, len(events))
	copy(batch, events)
	s.batches = append(s.batches, batch)
	return nil
}

func (s *memStore) total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, b := range s.batches {
		n += len(b)
	}
	return n
}

func event(conv string, seq uint64) domain.AgentEvent {
	return domain.AgentEvent{
		ConversationID: conv,
		Seq:            seq,
		Type:           domain.EventThinking,
		Timestamp:      time.Now().UTC(),
	}
}

func TestBatchFlushBySize(t *testing.T) {
	store := &memStore{}
	a := New(store, Options{BatchSize: 3, FlushInterval: time.Hour}, zap.NewNop())
	a.Start()

	for i := uint64(1); i <= 3; i++ {
		a.Log(event("conv-1", i))
	}

	require.Eventually(t, func() bool { return store.total() == 3 }, time.Second, 5*time.Millisecond)

	store.mu.Lock()
	defer store.mu.Unlock()
	require.Len(t, store.batches, 1)
	assert.Len(t, store.batches[0], 3)

	a.Stop()
}

func TestBatchFlushByTimer(t *testing.T) {
	store := &memStore{}
	a := New(store, Options{BatchSize: 100, FlushInterval: 20 * time.Millisecond}, zap.NewNop())
	a.Start()
	defer a.Stop()

	a.Log(event("conv-1", 1))

	require.Eventually(t, func() bool { return store.total() == 1 }, time.Second, 5*time.Millisecond)
}

func TestStopDrainsBuffer(t *testing.T) {
	store := &memStore{}
	a := New(store, Options{BatchSize: 1000, FlushInterval: time.Hour}, zap.NewNop())
	a.Start()

	for i := uint64(1); i <= 42; i++ {
		a.Log(event("conv-1", i))
	}
	a.Stop()

	assert.Equal(t, 42, store.total())
}

func TestKeepaliveNotArchived(t *testing.T) {
	store := &memStore{}
	a := New(store, Options{BatchSize: 10, FlushInterval: time.Hour}, zap.NewNop())
	a.Start()

	ka := event("conv-1", 0)
	ka.Type = domain.EventKeepalive
	a.Log(ka)
	a.Log(event("conv-1", 1))
	a.Stop()

	require.Equal(t, 1, store.total())
	assert.Equal(t, domain.EventThinking, store.batches[0][0].Type)
}

func TestLogAfterStopDropped(t *testing.T) {
	store := &memStore{}
	a := New(store, Options{}, zap.NewNop())
	a.Start()
	a.Stop()

	// Не должно паниковать записью в закрытый канал
	a.Log(event("conv-1", 1))
	assert.Equal(t, 0, store.total())
}
