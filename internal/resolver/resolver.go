package resolver

/*
Файл resolver.go — клиент оператора (reviewer), принимающего решения по
запросам на раскрытие данных.

Потребляет поток событий диалога, вычищает дубли (после переподключений
транспорт может повторить хвост) и превращает каждое awaiting_approval
в карточку для решения. Approve/Deny идемпотентны: повторное решение
по уже закрытому запросу не считается ошибкой — кто-то успел раньше.
*/

import (
	"context"
	"errors"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"github.com/xela07ax/agentorg/internal/domain"
)

// LedgerClient Описываем, что нам нужно от леджера
type LedgerClient interface {
	Get(ctx context.Context, id string) (*domain.ApprovalRequest, error)
	Resolve(ctx context.Context, id string, approved bool, reviewerID, comment string) (*domain.ApprovalRequest, error)
}

// Card — карточка запроса, готовая к показу оператору
type Card struct {
	ApprovalID  string `json:"approval_id"`
	SourceAgent string `json:"source_agent"`
	TargetAgent string `json:"target_agent"`
	DataType    string `json:"data_type"`
	Reason      string `json:"reason"`
	Ask         string `json:"ask"`
}

type Resolver struct {
	ledger     LedgerClient
	reviewerID string
	logger     *zap.Logger

	cards chan Card

	// Скользящее окно виденных событий: map для O(1) проверки,
	// кольцо для вытеснения самых старых ключей
	mu     sync.Mutex
	seen   map[string]struct{}
	ring   []string
	next   int
	window int
}

func New(ledger LedgerClient, reviewerID string, dedupWindow int, logger *zap.Logger) *Resolver {
	if dedupWindow <= 0 {
		dedupWindow = 512
	}
	return &Resolver{
		ledger:     ledger,
		reviewerID: reviewerID,
		logger:     logger.Named("resolver").With(zap.String("reviewer", reviewerID)),
		cards:      make(chan Card, 16),
		seen:       make(map[string]struct{}, dedupWindow),
		ring:       make([]string, dedupWindow),
		window:     dedupWindow,
	}
}

// Cards — очередь карточек на решение. Закрывается после завершения Consume.
func (r *Resolver) Cards() <-chan Card {
	return r.cards
}

// Consume читает события до закрытия канала или отмены контекста.
// Карточка создается только для запросов, все еще находящихся в pending:
// решенные за время доставки события пропускаются молча.
func (r *Resolver) Consume(ctx context.Context, events <-chan domain.AgentEvent) {
	defer close(r.cards)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Type == domain.EventKeepalive {
				continue
			}
			if r.duplicate(ev) {
				continue
			}
			if ev.Type != domain.EventAwaitingApproval || ev.ApprovalID == "" {
				continue
			}
			r.present(ctx, ev.ApprovalID)
		}
	}
}

// Approve одобряет запрос. Проигранная гонка с другим оператором — не ошибка.
func (r *Resolver) Approve(ctx context.Context, approvalID, comment string) error {
	return r.decide(ctx, approvalID, true, comment)
}

// Deny отклоняет запрос. Та же идемпотентность, что и у Approve.
func (r *Resolver) Deny(ctx context.Context, approvalID, comment string) error {
	return r.decide(ctx, approvalID, false, comment)
}

func (r *Resolver) decide(ctx context.Context, approvalID string, approved bool, comment string) error {
	_, err := r.ledger.Resolve(ctx, approvalID, approved, r.reviewerID, comment)
	if errors.Is(err, domain.ErrInvalidTransition) {
		// Запрос уже закрыт (повторный клик или другой оператор успел раньше)
		r.logger.Info("approval already resolved",
			zap.String("approval_id", approvalID))
		return nil
	}
	if err != nil {
		return err
	}
	r.logger.Info("decision recorded",
		zap.String("approval_id", approvalID),
		zap.Bool("approved", approved))
	return nil
}

func (r *Resolver) present(ctx context.Context, approvalID string) {
	req, err := r.ledger.Get(ctx, approvalID)
	if err != nil {
		r.logger.Error("failed to load approval",
			zap.String("approval_id", approvalID), zap.Error(err))
		return
	}
	if req.Status != domain.StatusPending {
		return
	}

	card := Card{
		ApprovalID:  req.ID,
		SourceAgent: req.SourceAgent,
		TargetAgent: req.TargetAgent,
		DataType:    req.DataType,
		Reason:      req.SensitivityReason,
		Ask:         req.Ask,
	}

	select {
	case r.cards <- card:
	case <-ctx.Done():
	}
}

// duplicate отмечает событие как виденное; повтор в пределах окна — true
func (r *Resolver) duplicate(ev domain.AgentEvent) bool {
	if ev.Seq == 0 {
		return false
	}
	key := ev.ConversationID + "#" + strconv.FormatUint(ev.Seq, 10)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.seen[key]; ok {
		return true
	}
	// Вытесняем самый старый ключ из окна
	if old := r.ring[r.next]; old != "" {
		delete(r.seen, old)
	}
	r.ring[r.next] = key
	r.next = (r.next + 1) % r.window
	r.seen[key] = struct{}{}
	return false
}
