package coordinator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xela07ax/agentorg/internal/domain"
	"github.com/xela07ax/agentorg/internal/eventbus"
	"github.com/xela07ax/agentorg/internal/ledger"
	"github.com/xela07ax/agentorg/internal/network"
	"github.com/xela07ax/agentorg/internal/persona"
)

type fixture struct {
	coord *Coordinator
	led   *ledger.Ledger
	bus   *eventbus.Bus
}

func newFixture(t *testing.T, invoker network.Invoker, wait time.Duration) *fixture {
	t.Helper()
	bus := eventbus.New(zap.NewNop(), eventbus.Options{KeepaliveInterval: time.Hour}, nil)
	led := ledger.New(ledger.NewMemoryStore(), bus, nil, zap.NewNop())
	coord := New(persona.NewRegistry(), invoker, led, bus, Config{ApprovalWait: wait}, zap.NewNop())
	return &fixture{coord: coord, led: led, bus: bus}
}

// waitPending опрашивает леджер, пока не появится pending-запрос
func waitPending(t *testing.T, led *ledger.Ledger) *domain.ApprovalRequest {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		pending, err := led.List(context.Background(), "pending")
		require.NoError(t, err)
		if len(pending) > 0 {
			return pending[0]
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("no pending approval appeared")
	return nil
}

func eventTypes(events []domain.AgentEvent) []domain.EventType {
	types := make([]domain.EventType, len(events))
	for i, ev := range events {
		types[i] = ev.Type
	}
	return types
}

func TestUnknownPersona(t *testing.T) {
	f := newFixture(t, network.NewMock(), time.Minute)

	_, err := f.coord.HandleMessage(context.Background(), "", "stranger", "hi")
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestPlainTurnWithoutDataRequest(t *testing.T) {
	f := newFixture(t, network.NewMock(), time.Minute)

	resp, err := f.coord.HandleMessage(context.Background(), "", "finance-manager", "hello there")
	require.NoError(t, err)
	assert.Equal(t, "finance-manager", resp.Agent)
	assert.NotEmpty(t, resp.ConversationID)
	// Reasoning-блок и кавычки апстрима вычищены
	assert.Equal(t, "Happy to help with financial reporting, budgets and invoices.", resp.Response)

	types := eventTypes(f.bus.History(resp.ConversationID, 0))
	assert.Equal(t, []domain.EventType{domain.EventThinking, domain.EventResponding}, types)

	conv, err := f.coord.Conversation(resp.ConversationID)
	require.NoError(t, err)
	require.Len(t, conv.Messages, 2)
	assert.Equal(t, domain.RoleUser, conv.Messages[0].Role)
	assert.Equal(t, domain.RoleAgent, conv.Messages[1].Role)
}

func TestApprovedFlowEndToEnd(t *testing.T) {
	f := newFixture(t, network.NewMock(), time.Minute)

	type result struct {
		resp *domain.ChatResponse
		err  error
	}
	done := make(chan result, 1)
	go func() {
		resp, err := f.coord.HandleMessage(context.Background(), "", "finance-manager", "show me the P&L")
		done <- result{resp, err}
	}()

	req := waitPending(t, f.led)
	assert.Equal(t, "finance-manager", req.SourceAgent)
	assert.Equal(t, "accountant", req.TargetAgent)
	assert.Equal(t, "pnl", req.DataType)

	_, err := f.led.Resolve(context.Background(), req.ID, true, "cfo", "approved for review")
	require.NoError(t, err)

	var res result
	select {
	case res = <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("turn did not resume after approval")
	}
	require.NoError(t, res.err)
	assert.Contains(t, res.resp.Response, "net_income")
	assert.Contains(t, res.resp.Response, "released after approval")

	types := eventTypes(f.bus.History(res.resp.ConversationID, 0))
	assert.Equal(t, []domain.EventType{
		domain.EventThinking,
		domain.EventPermissionCheck,
		domain.EventRouting,
		domain.EventAwaitingApproval,
		domain.EventApproved,
		domain.EventFulfilled,
		domain.EventResponding,
	}, types)

	// Леджер: терминальное состояние fulfilled, решивший зафиксирован
	got, err := f.led.Get(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFulfilled, got.Status)
	assert.Equal(t, "cfo", *got.ReviewerID)
}

func TestDeniedFlow(t *testing.T) {
	f := newFixture(t, network.NewMock(), time.Minute)

	done := make(chan *domain.ChatResponse, 1)
	go func() {
		resp, err := f.coord.HandleMessage(context.Background(), "", "finance-manager", "I need the budget numbers")
		require.NoError(t, err)
		done <- resp
	}()

	req := waitPending(t, f.led)
	assert.Equal(t, "budget", req.DataType)

	_, err := f.led.Resolve(context.Background(), req.ID, false, "cfo", "not before board review")
	require.NoError(t, err)

	select {
	case resp := <-done:
		// Отказ — штатное завершение, не ошибка
		assert.Contains(t, resp.Response, "denied")
	case <-time.After(2 * time.Second):
		t.Fatal("turn did not complete after denial")
	}
}

func TestNonSensitiveDataSkipsApproval(t *testing.T) {
	f := newFixture(t, network.NewMock(), time.Minute)

	resp, err := f.coord.HandleMessage(context.Background(), "", "finance-manager", "list open invoices")
	require.NoError(t, err)
	assert.Contains(t, resp.Response, "INV-1041")

	// Без политики чувствительности леджер не задействован
	all, err := f.led.List(context.Background(), "all")
	require.NoError(t, err)
	assert.Empty(t, all)

	types := eventTypes(f.bus.History(resp.ConversationID, 0))
	assert.Equal(t, []domain.EventType{
		domain.EventThinking,
		domain.EventPermissionCheck,
		domain.EventRouting,
		domain.EventFulfilled,
		domain.EventResponding,
	}, types)
}

func TestPermissionDenied(t *testing.T) {
	f := newFixture(t, network.NewMock(), time.Minute)

	// У finance-manager нет доступа к expenses
	resp, err := f.coord.HandleMessage(context.Background(), "", "finance-manager", "show travel expense report")
	require.NoError(t, err)
	assert.Contains(t, resp.Response, "Permission denied")

	types := eventTypes(f.bus.History(resp.ConversationID, 0))
	assert.Contains(t, types, domain.EventDenied)
	assert.NotContains(t, types, domain.EventAwaitingApproval)
}

func TestSecondMessageConflicts(t *testing.T) {
	f := newFixture(t, network.NewMock(), time.Minute)

	started := make(chan string, 1)
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		resp, err := f.coord.HandleMessage(context.Background(), "conv-busy", "finance-manager", "show me the P&L")
		require.NoError(t, err)
		started <- resp.ConversationID
	}()

	req := waitPending(t, f.led)

	// Ход завис на approval — второе сообщение отклоняется
	_, err := f.coord.HandleMessage(context.Background(), "conv-busy", "finance-manager", "and the budget too")
	assert.ErrorIs(t, err, domain.ErrConflict)

	_, err = f.led.Resolve(context.Background(), req.ID, true, "cfo", "")
	require.NoError(t, err)
	<-finished

	// После терминального состояния диалог снова принимает сообщения
	_, err = f.coord.HandleMessage(context.Background(), "conv-busy", "finance-manager", "hello again")
	assert.NoError(t, err)
}

func TestApprovalWaitTimeout(t *testing.T) {
	f := newFixture(t, network.NewMock(), 50*time.Millisecond)

	_, err := f.coord.HandleMessage(context.Background(), "conv-slow", "finance-manager", "show me the P&L")
	assert.ErrorIs(t, err, domain.ErrTimeout)

	// Сам approval остается pending и может быть решен позже
	pending, err := f.led.List(context.Background(), "pending")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	_, err = f.led.Resolve(context.Background(), pending[0].ID, true, "cfo", "late")
	assert.NoError(t, err)

	// Диалог жив: новый ход принимается
	_, err = f.coord.HandleMessage(context.Background(), "conv-slow", "finance-manager", "hello")
	assert.NoError(t, err)
}

type failingNetwork struct{}

func (failingNetwork) Invoke(ctx context.Context, agent, prompt string) (string, error) {
	return "", errors.New("connection refused")
}

func TestUpstreamFailure(t *testing.T) {
	f := newFixture(t, failingNetwork{}, time.Minute)

	_, err := f.coord.HandleMessage(context.Background(), "conv-err", "finance-manager", "hello")
	assert.ErrorIs(t, err, domain.ErrUpstream)
	// Текст исходной ошибки доносится как есть
	assert.Contains(t, err.Error(), "connection refused")

	types := eventTypes(f.bus.History("conv-err", 0))
	assert.Contains(t, types, domain.EventError)

	// Диалог остается пригодным: новый ход не отбивается конфликтом
	_, err = f.coord.HandleMessage(context.Background(), "conv-err", "finance-manager", "hello")
	assert.NotErrorIs(t, err, domain.ErrConflict)
	assert.ErrorIs(t, err, domain.ErrUpstream)
}
