package resolver

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xela07ax/agentorg/internal/domain"
	"github.com/xela07ax/agentorg/internal/eventbus"
	"github.com/xela07ax/agentorg/internal/ledger"
)

func newResolverFixture(t *testing.T) (*Resolver, *ledger.Ledger, *eventbus.Bus) {
	t.Helper()
	bus := eventbus.New(zap.NewNop(), eventbus.Options{KeepaliveInterval: time.Hour}, nil)
	led := ledger.New(ledger.NewMemoryStore(), bus, nil, zap.NewNop())
	res := New(led, "cfo", 8, zap.NewNop())
	return res, led, bus
}

func pendingRequest(t *testing.T, led *ledger.Ledger, conv string) *domain.ApprovalRequest {
	t.Helper()
	req, err := led.Create(context.Background(), ledger.CreateParams{
		ConversationID:    conv,
		TurnID:            "turn-1",
		SourceAgent:       "finance-manager",
		TargetAgent:       "accountant",
		DataType:          "pnl",
		SensitivityReason: "sensitive",
		Ask:               "Q4 P&L",
		Payload:           "data",
	})
	require.NoError(t, err)
	return req
}

func TestCardPerAwaitingApproval(t *testing.T) {
	res, led, _ := newResolverFixture(t)

	req := pendingRequest(t, led, "conv-1")

	events := make(chan domain.AgentEvent, 4)
	events <- domain.AgentEvent{
		Type:           domain.EventAwaitingApproval,
		ApprovalID:     req.ID,
		ConversationID: "conv-1",
		Seq:            1,
	}
	close(events)

	go res.Consume(context.Background(), events)

	select {
	case card := <-res.Cards():
		assert.Equal(t, req.ID, card.ApprovalID)
		assert.Equal(t, "finance-manager", card.SourceAgent)
		assert.Equal(t, "pnl", card.DataType)
		assert.Equal(t, "sensitive", card.Reason)
	case <-time.After(time.Second):
		t.Fatal("no card surfaced")
	}
}

func TestDuplicateEventsProduceOneCard(t *testing.T) {
	res, led, _ := newResolverFixture(t)

	req := pendingRequest(t, led, "conv-1")

	// Переподключение транспорта повторяет хвост лога
	events := make(chan domain.AgentEvent, 4)
	ev := domain.AgentEvent{
		Type:           domain.EventAwaitingApproval,
		ApprovalID:     req.ID,
		ConversationID: "conv-1",
		Seq:            3,
	}
	events <- ev
	events <- ev
	events <- ev
	close(events)

	done := make(chan struct{})
	go func() {
		res.Consume(context.Background(), events)
		close(done)
	}()
	<-done

	var cards int
	for range res.Cards() {
		cards++
	}
	assert.Equal(t, 1, cards)
}

func TestAlreadyResolvedProducesNoCard(t *testing.T) {
	res, led, _ := newResolverFixture(t)

	req := pendingRequest(t, led, "conv-1")
	_, err := led.Resolve(context.Background(), req.ID, true, "admin", "")
	require.NoError(t, err)

	events := make(chan domain.AgentEvent, 1)
	events <- domain.AgentEvent{
		Type:           domain.EventAwaitingApproval,
		ApprovalID:     req.ID,
		ConversationID: "conv-1",
		Seq:            1,
	}
	close(events)

	done := make(chan struct{})
	go func() {
		res.Consume(context.Background(), events)
		close(done)
	}()
	<-done

	_, open := <-res.Cards()
	assert.False(t, open, "resolved request must not surface a card")
}

func TestApproveIsIdempotent(t *testing.T) {
	res, led, _ := newResolverFixture(t)

	req := pendingRequest(t, led, "conv-1")

	require.NoError(t, res.Approve(context.Background(), req.ID, "ok"))
	// Повторное решение — не ошибка для оператора
	require.NoError(t, res.Approve(context.Background(), req.ID, "ok again"))
	require.NoError(t, res.Deny(context.Background(), req.ID, "changed my mind"))

	// Состояние отражает только первое решение
	got, err := led.Get(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusApproved, got.Status)
	assert.Equal(t, "ok", *got.Comment)
}

func TestDecideUnknownIDIsAnError(t *testing.T) {
	res, _, _ := newResolverFixture(t)

	err := res.Approve(context.Background(), "missing", "")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestDedupWindowIsBounded(t *testing.T) {
	res, _, _ := newResolverFixture(t) // Окно 8

	// Прогоняем больше ключей, чем вмещает окно
	for seq := uint64(1); seq <= 20; seq++ {
		assert.False(t, res.duplicate(domain.AgentEvent{ConversationID: "c", Seq: seq}))
	}
	assert.LessOrEqual(t, len(res.seen), 8)

	// Самые старые ключи вытеснены и считаются новыми
	assert.False(t, res.duplicate(domain.AgentEvent{ConversationID: "c", Seq: 1}))
	// Свежие еще в окне
	assert.True(t, res.duplicate(domain.AgentEvent{ConversationID: "c", Seq: 20}))
}
