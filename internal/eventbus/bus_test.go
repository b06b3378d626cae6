package eventbus

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xela07ax/agentorg/internal/domain"
)

func collect(t *testing.T, sub *Subscription, n int) []domain.AgentEvent {
	t.Helper()
	out := make([]domain.AgentEvent, 0, n)
	timeout := time.After(2 * time.Second)
	for len(out) < n {
		select {
		case ev, ok := <-sub.C:
			if !ok {
				t.Fatalf("subscription closed after %d of %d events", len(out), n)
			}
			if ev.Type == domain.EventKeepalive {
				continue
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatalf("timed out after %d of %d events", len(out), n)
		}
	}
	return out
}

func TestPublishAssignsSequence(t *testing.T) {
	bus := New(zap.NewNop(), Options{KeepaliveInterval: time.Hour}, nil)

	first := bus.Publish("conv", domain.AgentEvent{Type: domain.EventThinking})
	second := bus.Publish("conv", domain.AgentEvent{Type: domain.EventResponding})

	assert.Equal(t, uint64(1), first.Seq)
	assert.Equal(t, uint64(2), second.Seq)
	assert.False(t, first.Timestamp.IsZero())
}

func TestSubscriberReceivesInPublishOrder(t *testing.T) {
	bus := New(zap.NewNop(), Options{KeepaliveInterval: time.Hour}, nil)

	sub := bus.Subscribe("conv", 0)
	defer sub.Cancel()

	for i := 0; i < 10; i++ {
		bus.Publish("conv", domain.AgentEvent{Type: domain.EventThinking, Message: fmt.Sprint(i)})
	}

	events := collect(t, sub, 10)
	for i, ev := range events {
		assert.Equal(t, uint64(i+1), ev.Seq)
		assert.Equal(t, fmt.Sprint(i), ev.Message)
	}
}

func TestLateSubscriberGetsEmptyBacklog(t *testing.T) {
	bus := New(zap.NewNop(), Options{KeepaliveInterval: time.Hour}, nil)

	bus.Publish("conv", domain.AgentEvent{Type: domain.EventThinking})
	bus.Publish("conv", domain.AgentEvent{Type: domain.EventRouting})

	// Без курсора прошлые события не повторяются
	sub := bus.Subscribe("conv", 0)
	defer sub.Cancel()

	bus.Publish("conv", domain.AgentEvent{Type: domain.EventResponding})

	events := collect(t, sub, 1)
	assert.Equal(t, uint64(3), events[0].Seq)
	assert.Equal(t, domain.EventResponding, events[0].Type)
}

func TestCursorReplayWithoutGapsOrDuplicates(t *testing.T) {
	bus := New(zap.NewNop(), Options{KeepaliveInterval: time.Hour}, nil)

	for i := 0; i < 5; i++ {
		bus.Publish("conv", domain.AgentEvent{Type: domain.EventThinking})
	}

	// Клиент видел события 1-2 и переподключается
	sub := bus.Subscribe("conv", 2)
	defer sub.Cancel()

	bus.Publish("conv", domain.AgentEvent{Type: domain.EventResponding})

	events := collect(t, sub, 4)
	for i, ev := range events {
		assert.Equal(t, uint64(3+i), ev.Seq)
	}
}

func TestIsolationBetweenConversations(t *testing.T) {
	bus := New(zap.NewNop(), Options{KeepaliveInterval: time.Hour}, nil)

	sub := bus.Subscribe("conv-a", 0)
	defer sub.Cancel()

	bus.Publish("conv-b", domain.AgentEvent{Type: domain.EventThinking})
	bus.Publish("conv-a", domain.AgentEvent{Type: domain.EventResponding})

	events := collect(t, sub, 1)
	assert.Equal(t, domain.EventResponding, events[0].Type)
	// Нумерация у каждого диалога своя
	assert.Equal(t, uint64(1), events[0].Seq)
}

func TestSlowSubscriberIsDropped(t *testing.T) {
	bus := New(zap.NewNop(), Options{SubscriberBuffer: 2, KeepaliveInterval: time.Hour}, nil)

	sub := bus.Subscribe("conv", 0)
	// Никто не читает sub.C: буфер переполняется, шина отсекает подписку
	for i := 0; i < 10; i++ {
		bus.Publish("conv", domain.AgentEvent{Type: domain.EventThinking})
	}

	// Канал в итоге закрывается, Publish при этом не блокировался
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-sub.C:
			if !ok {
				assert.True(t, sub.Lagged())
				// Переподписка с курсором дочитывает пропущенное
				resub := bus.Subscribe("conv", 2)
				defer resub.Cancel()
				events := collect(t, resub, 8)
				assert.Equal(t, uint64(3), events[0].Seq)
				assert.Equal(t, uint64(10), events[7].Seq)
				return
			}
		case <-deadline:
			t.Fatal("lagged subscription was not closed")
		}
	}
}

func TestKeepaliveDuringSilence(t *testing.T) {
	bus := New(zap.NewNop(), Options{KeepaliveInterval: 20 * time.Millisecond}, nil)

	sub := bus.Subscribe("conv", 0)
	defer sub.Cancel()

	select {
	case ev := <-sub.C:
		assert.Equal(t, domain.EventKeepalive, ev.Type)
		assert.Zero(t, ev.Seq, "keepalive must not consume a sequence number")
	case <-time.After(time.Second):
		t.Fatal("no keepalive during silence")
	}

	// Keepalive не попадает в лог
	assert.Empty(t, bus.History("conv", 0))
}

func TestCancelIsIdempotent(t *testing.T) {
	bus := New(zap.NewNop(), Options{KeepaliveInterval: time.Hour}, nil)

	sub := bus.Subscribe("conv", 0)
	sub.Cancel()
	sub.Cancel()

	// Публикация после отмены не паникует и не блокируется
	bus.Publish("conv", domain.AgentEvent{Type: domain.EventThinking})
}

type recordingArchiver struct {
	mu     sync.Mutex
	events []domain.AgentEvent
}

func (r *recordingArchiver) Log(ev domain.AgentEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func TestArchiverSeesEveryEvent(t *testing.T) {
	arch := &recordingArchiver{}
	bus := New(zap.NewNop(), Options{KeepaliveInterval: time.Hour}, arch)

	bus.Publish("conv", domain.AgentEvent{Type: domain.EventThinking})
	bus.Publish("conv", domain.AgentEvent{Type: domain.EventResponding})

	arch.mu.Lock()
	defer arch.mu.Unlock()
	require.Len(t, arch.events, 2)
	assert.Equal(t, uint64(1), arch.events[0].Seq)
	assert.Equal(t, "conv", arch.events[0].ConversationID)
}
