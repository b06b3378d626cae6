package ledger

/*
Файл ledger.go реализует Approval Ledger — единственный источник правды
по запросам на доступ к чувствительным данным (HITL, «человек в контуре»).

Леджер эксклюзивно владеет мутацией состояния: все остальные компоненты
читают или просят перехода через Resolve/Fulfill. Каждый успешный переход
публикует соответствующее событие в шину диалога.
*/

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xela07ax/agentorg/internal/domain"
	"github.com/xela07ax/agentorg/internal/eventbus"
)

// DecisionSignaler транслирует решение другим инстансам (Redis Pub/Sub).
// Необязателен: в одиночном процессе хватает локальных waiter-каналов.
type DecisionSignaler interface {
	SignalDecision(ctx context.Context, turnID, approvalID string, status domain.ApprovalStatus)
}

type Ledger struct {
	store    Store
	bus      *eventbus.Bus
	signaler DecisionSignaler
	logger   *zap.Logger

	mu      sync.Mutex
	waiters map[string][]chan domain.ApprovalStatus
}

func New(store Store, bus *eventbus.Bus, signaler DecisionSignaler, logger *zap.Logger) *Ledger {
	return &Ledger{
		store:    store,
		bus:      bus,
		signaler: signaler,
		logger:   logger.Named("ledger"),
		waiters:  make(map[string][]chan domain.ApprovalStatus),
	}
}

// CreateParams — входные данные нового запроса
type CreateParams struct {
	ConversationID    string
	TurnID            string
	TraceID           string
	SourceAgent       string
	TargetAgent       string
	DataType          string
	SensitivityReason string
	Ask               string
	// Payload — данные, которые целевой агент уже подготовил.
	// Хранятся в леджере и выдаются только через Fulfill.
	Payload string
}

// Create регистрирует новый pending-запрос и публикует agent:awaiting_approval
func (l *Ledger) Create(ctx context.Context, p CreateParams) (*domain.ApprovalRequest, error) {
	if strings.TrimSpace(p.SourceAgent) == "" ||
		strings.TrimSpace(p.TargetAgent) == "" ||
		strings.TrimSpace(p.DataType) == "" {
		return nil, fmt.Errorf("%w: source_agent, target_agent and data_type are required", domain.ErrValidation)
	}

	req := &domain.ApprovalRequest{
		ID:                uuid.New().String(),
		ConversationID:    p.ConversationID,
		TurnID:            p.TurnID,
		SourceAgent:       p.SourceAgent,
		TargetAgent:       p.TargetAgent,
		DataType:          p.DataType,
		SensitivityReason: p.SensitivityReason,
		Ask:               p.Ask,
		Status:            domain.StatusPending,
		CreatedAt:         time.Now().UTC(),
		Payload:           p.Payload,
	}

	if err := l.store.Insert(ctx, req); err != nil {
		return nil, fmt.Errorf("ledger: failed to create approval: %w", err)
	}

	l.logger.Info("approval request created",
		zap.String("id", req.ID),
		zap.String("source", req.SourceAgent),
		zap.String("target", req.TargetAgent),
		zap.String("data_type", req.DataType))

	l.bus.Publish(p.ConversationID, domain.AgentEvent{
		Type:       domain.EventAwaitingApproval,
		Agent:      req.SourceAgent,
		Target:     req.TargetAgent,
		ApprovalID: req.ID,
		Message:    fmt.Sprintf("Approval required: %s", req.SensitivityReason),
		TraceID:    p.TraceID,
	})

	return req, nil
}

func (l *Ledger) Get(ctx context.Context, id string) (*domain.ApprovalRequest, error) {
	return l.store.Get(ctx, id)
}

// List выдает запросы в порядке создания. statusFilter: "", "all" или один статус.
func (l *Ledger) List(ctx context.Context, statusFilter string) ([]*domain.ApprovalRequest, error) {
	status := domain.ApprovalStatus(strings.ToLower(strings.TrimSpace(statusFilter)))
	switch status {
	case "", "all":
		status = ""
	case domain.StatusPending, domain.StatusApproved, domain.StatusDenied, domain.StatusFulfilled:
	default:
		return nil, fmt.Errorf("%w: unknown status filter %q", domain.ErrValidation, statusFilter)
	}
	return l.store.List(ctx, status)
}

// Resolve фиксирует решение человека. Второй вызов по тому же id всегда
// возвращает ErrInvalidTransition — состояние отражает только первое решение.
func (l *Ledger) Resolve(ctx context.Context, id string, approved bool, reviewerID, comment string) (*domain.ApprovalRequest, error) {
	to := domain.StatusDenied
	eventType := domain.EventDenied
	if approved {
		to = domain.StatusApproved
		eventType = domain.EventApproved
	}

	req, err := l.store.Transition(ctx, id, domain.StatusPending, to, reviewerID, comment, time.Now().UTC())
	if err != nil {
		return nil, err
	}

	l.logger.Info("approval resolved",
		zap.String("id", id),
		zap.String("status", string(to)),
		zap.String("reviewer", reviewerID))

	l.bus.Publish(req.ConversationID, domain.AgentEvent{
		Type:       eventType,
		Agent:      req.SourceAgent,
		Target:     req.TargetAgent,
		ApprovalID: req.ID,
		Message:    fmt.Sprintf("Request for %s has been %s", req.DataType, to),
	})

	// Будим локальных ожидающих и транслируем решение другим инстансам
	l.NotifyDecision(req.ID, to)
	if l.signaler != nil {
		l.signaler.SignalDecision(ctx, req.TurnID, req.ID, to)
	}

	return req, nil
}

// Fulfill выпускает удержанные данные: approved -> fulfilled.
// Возвращает сам payload — единственная точка его выхода из леджера.
func (l *Ledger) Fulfill(ctx context.Context, id string) (string, *domain.ApprovalRequest, error) {
	req, err := l.store.Transition(ctx, id, domain.StatusApproved, domain.StatusFulfilled, "", "", time.Now().UTC())
	if err != nil {
		return "", nil, err
	}

	l.logger.Info("approval fulfilled", zap.String("id", id))

	l.bus.Publish(req.ConversationID, domain.AgentEvent{
		Type:       domain.EventFulfilled,
		Agent:      req.SourceAgent,
		Target:     req.TargetAgent,
		ApprovalID: req.ID,
		Message:    fmt.Sprintf("Data delivered from %s", req.TargetAgent),
	})

	return req.Payload, req, nil
}

// AwaitDecision блокирует вызывающего до выхода запроса из pending.
// Дедлайн задается контекстом; по его истечении возвращается ErrTimeout,
// а сам запрос остается pending и может быть решен позже.
func (l *Ledger) AwaitDecision(ctx context.Context, id string) (domain.ApprovalStatus, error) {
	ch := make(chan domain.ApprovalStatus, 1)

	l.mu.Lock()
	l.waiters[id] = append(l.waiters[id], ch)
	l.mu.Unlock()

	// Решение могло пройти до регистрации waiter-а — перечитываем состояние
	if req, err := l.store.Get(ctx, id); err == nil && req.Status != domain.StatusPending {
		l.dropWaiter(id, ch)
		return req.Status, nil
	}

	select {
	case status := <-ch:
		return status, nil
	case <-ctx.Done():
		l.dropWaiter(id, ch)
		if ctx.Err() == context.DeadlineExceeded {
			return "", fmt.Errorf("%w: approval %s", domain.ErrTimeout, id)
		}
		return "", ctx.Err()
	}
}

// NotifyDecision будит всех ожидающих решение по approval id.
// Вызывается локальным Resolve и слушателем Redis-сигналов.
func (l *Ledger) NotifyDecision(id string, status domain.ApprovalStatus) {
	l.mu.Lock()
	chans := l.waiters[id]
	delete(l.waiters, id)
	l.mu.Unlock()

	for _, ch := range chans {
		ch <- status // Буферизован на 1, не блокирует
	}
}

func (l *Ledger) dropWaiter(id string, ch chan domain.ApprovalStatus) {
	l.mu.Lock()
	defer l.mu.Unlock()

	chans := l.waiters[id]
	for i, c := range chans {
		if c == ch {
			l.waiters[id] = append(chans[:i], chans[i+1:]...)
			break
		}
	}
	if len(l.waiters[id]) == 0 {
		delete(l.waiters, id)
	}
}
