package coordinator

/*
Файл coordinator.go реализует координатор сессии — владельца конечного
автомата хода (Turn). Один ход на диалог: пока ход не завершен, второе
сообщение пользователя отклоняется с ErrConflict.

Пауза на approval происходит ровно на границе awaiting_approval: координатор
блокируется (не держа эксклюзивных ресурсов) до терминального решения
леджера либо до исчерпания конфигурируемого лимита ожидания.
*/

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xela07ax/agentorg/internal/domain"
	"github.com/xela07ax/agentorg/internal/eventbus"
	"github.com/xela07ax/agentorg/internal/ledger"
	"github.com/xela07ax/agentorg/internal/network"
	"github.com/xela07ax/agentorg/internal/persona"
)

type Config struct {
	// ApprovalWait — верхняя граница паузы на решение человека.
	// По истечении ход падает с ErrTimeout, сам approval остается pending.
	ApprovalWait time.Duration
}

type Coordinator struct {
	registry *persona.Registry
	network  network.Invoker
	ledger   *ledger.Ledger
	bus      *eventbus.Bus
	logger   *zap.Logger
	cfg      Config

	mu       sync.Mutex
	inflight map[string]*domain.Turn
	convs    map[string]*domain.Conversation
}

func New(registry *persona.Registry, net network.Invoker, led *ledger.Ledger, bus *eventbus.Bus, cfg Config, logger *zap.Logger) *Coordinator {
	if cfg.ApprovalWait <= 0 {
		cfg.ApprovalWait = 5 * time.Minute
	}
	return &Coordinator{
		registry: registry,
		network:  net,
		ledger:   led,
		bus:      bus,
		logger:   logger.Named("coordinator"),
		cfg:      cfg,
		inflight: make(map[string]*domain.Turn),
		convs:    make(map[string]*domain.Conversation),
	}
}

// Conversation возвращает снимок диалога (история сообщений)
func (c *Coordinator) Conversation(id string) (*domain.Conversation, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	conv, ok := c.convs[id]
	if !ok {
		return nil, fmt.Errorf("%w: conversation %q", domain.ErrNotFound, id)
	}
	cp := *conv
	cp.Messages = append([]domain.Message(nil), conv.Messages...)
	return &cp, nil
}

// HandleMessage обрабатывает один ход диалога от начала до терминального
// состояния. Возвращается только завершенный результат или ошибка.
func (c *Coordinator) HandleMessage(ctx context.Context, conversationID, personaSlug, text string) (*domain.ChatResponse, error) {
	spec, err := c.registry.Get(personaSlug)
	if err != nil {
		return nil, fmt.Errorf("%w: unknown persona %q", domain.ErrValidation, personaSlug)
	}

	turn, err := c.beginTurn(conversationID, spec.Slug, text)
	if err != nil {
		return nil, err
	}
	defer c.releaseTurn(turn)

	c.emit(turn, domain.AgentEvent{
		Type:    domain.EventThinking,
		Agent:   spec.Slug,
		Message: fmt.Sprintf("%s is thinking...", spec.Name),
	})
	_ = turn.Advance(domain.TurnStreaming)

	raw, err := c.network.Invoke(ctx, spec.Slug, text)
	if err != nil {
		return nil, c.failTurn(turn, spec.Slug, fmt.Errorf("%w: %v", domain.ErrUpstream, err))
	}
	reply := Normalize(raw)

	final := reply
	if dr, ok := parseDataRequest(reply); ok {
		final, err = c.routeDataRequest(ctx, turn, spec, dr)
		if err != nil {
			return nil, err
		}
	}

	c.emit(turn, domain.AgentEvent{
		Type:    domain.EventResponding,
		Agent:   spec.Slug,
		Message: "Response ready",
	})
	_ = turn.Advance(domain.TurnCompleted)
	c.appendMessage(turn.ConversationID, domain.Message{
		Role: domain.RoleAgent, Content: final, Agent: spec.Slug, CreatedAt: time.Now().UTC(),
	})

	c.logger.Info("turn completed",
		zap.String("conversation_id", turn.ConversationID),
		zap.String("trace_id", turn.TraceID),
		zap.String("persona", spec.Slug))

	return &domain.ChatResponse{
		Response:       final,
		ConversationID: turn.ConversationID,
		Agent:          spec.Slug,
		TraceID:        turn.TraceID,
	}, nil
}

// routeDataRequest обслуживает конверт запроса данных: проверка прав,
// маршрутизация к владельцу, политика одобрения, пауза на HITL.
func (c *Coordinator) routeDataRequest(ctx context.Context, turn *domain.Turn, spec *persona.Spec, dr network.DataRequest) (string, error) {
	c.emit(turn, domain.AgentEvent{
		Type:    domain.EventPermissionCheck,
		Agent:   spec.Slug,
		Target:  dr.Target,
		Message: fmt.Sprintf("Checking if %s can access %s", spec.Slug, dr.DataType),
	})

	routing := c.registry.Route(spec.Slug, dr.DataType)
	owner := routing.OwnerSlug
	if owner == "" {
		owner = dr.Target
	}

	if !routing.HasPermission || !c.registry.CanRoute(spec.Slug, owner) {
		c.emit(turn, domain.AgentEvent{
			Type:    domain.EventDenied,
			Agent:   spec.Slug,
			Message: fmt.Sprintf("%s does not have permission to access %s", spec.Slug, dr.DataType),
		})
		return fmt.Sprintf("Permission denied: %s cannot access %s.", spec.Slug, dr.DataType), nil
	}

	c.emit(turn, domain.AgentEvent{
		Type:    domain.EventRouting,
		Agent:   spec.Slug,
		Target:  owner,
		Message: fmt.Sprintf("Routing request to %s for %s", owner, dr.DataType),
	})

	// Целевой агент готовит данные. Они НЕ уходят пользователю до решения.
	payload, err := c.network.Invoke(ctx, owner,
		fmt.Sprintf("Please provide the %s data. Specific request: %s", dr.DataType, dr.Ask))
	if err != nil {
		return "", c.failTurn(turn, spec.Slug, fmt.Errorf("%w: target agent %s: %v", domain.ErrUpstream, owner, err))
	}
	payload = Normalize(payload)

	// Без политики чувствительности данные выпускаются сразу
	if routing.Policy == nil {
		c.emit(turn, domain.AgentEvent{
			Type:    domain.EventFulfilled,
			Agent:   spec.Slug,
			Target:  owner,
			Message: fmt.Sprintf("Data delivered from %s", owner),
		})
		return c.present(ctx, turn, spec, dr.DataType, payload)
	}

	req, err := c.ledger.Create(ctx, ledger.CreateParams{
		ConversationID:    turn.ConversationID,
		TurnID:            turn.ID,
		TraceID:           turn.TraceID,
		SourceAgent:       spec.Slug,
		TargetAgent:       owner,
		DataType:          dr.DataType,
		SensitivityReason: routing.Policy.Reason,
		Ask:               dr.Ask,
		Payload:           payload,
	})
	if err != nil {
		return "", c.failTurn(turn, spec.Slug, err)
	}

	turn.ApprovalID = req.ID
	_ = turn.Advance(domain.TurnAwaitingApproval)

	// Пауза ровно на границе approval: никаких вызовов сети до решения
	waitCtx, cancel := context.WithTimeout(ctx, c.cfg.ApprovalWait)
	defer cancel()

	status, err := c.ledger.AwaitDecision(waitCtx, req.ID)
	if err != nil {
		return "", c.failTurn(turn, spec.Slug, err)
	}

	if status == domain.StatusDenied {
		// Отказ — штатное завершение хода, без автоматических ретраев
		return fmt.Sprintf("Your request for %s data was denied by the reviewer.", dr.DataType), nil
	}

	released, _, err := c.ledger.Fulfill(ctx, req.ID)
	if err != nil {
		return "", c.failTurn(turn, spec.Slug, err)
	}
	_ = turn.Advance(domain.TurnResumed)

	return c.present(ctx, turn, spec, dr.DataType, released)
}

// present просит исходного агента оформить выпущенные данные в финальный ответ
func (c *Coordinator) present(ctx context.Context, turn *domain.Turn, spec *persona.Spec, dataType, payload string) (string, error) {
	raw, err := c.network.Invoke(ctx, spec.Slug,
		fmt.Sprintf("Present the released %s data to the user. Data: %s", dataType, payload))
	if err != nil {
		return "", c.failTurn(turn, spec.Slug, fmt.Errorf("%w: %v", domain.ErrUpstream, err))
	}
	return Normalize(raw), nil
}

// beginTurn атомарно захватывает право на ход в диалоге
func (c *Coordinator) beginTurn(conversationID, slug, text string) (*domain.Turn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if conversationID == "" {
		conversationID = uuid.New().String()
	}
	if active, ok := c.inflight[conversationID]; ok && !active.Done() {
		return nil, fmt.Errorf("%w: conversation %s", domain.ErrConflict, conversationID)
	}

	conv, ok := c.convs[conversationID]
	if !ok {
		conv = &domain.Conversation{ID: conversationID, CreatedAt: time.Now().UTC()}
		c.convs[conversationID] = conv
	}
	conv.Messages = append(conv.Messages, domain.Message{
		Role: domain.RoleUser, Content: text, CreatedAt: time.Now().UTC(),
	})

	turn := &domain.Turn{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		TraceID:        uuid.New().String(),
		State:          domain.TurnDispatched,
		StartedAt:      time.Now().UTC(),
	}
	c.inflight[conversationID] = turn
	return turn, nil
}

// releaseTurn снимает блокировку диалога. Незавершенный к этому моменту ход
// считается брошенным: уже созданный approval никто не отзывает, решение
// по нему можно принять позже, но для продолжения нужен новый ход.
func (c *Coordinator) releaseTurn(turn *domain.Turn) {
	if !turn.Done() {
		turn.State = domain.TurnFailed
	}
	c.mu.Lock()
	if c.inflight[turn.ConversationID] == turn {
		delete(c.inflight, turn.ConversationID)
	}
	c.mu.Unlock()
}

// failTurn переводит ход в failed и публикует agent:error.
// Ошибка отдается вызывающему дословно — молчаливое проглатывание запрещено.
func (c *Coordinator) failTurn(turn *domain.Turn, slug string, err error) error {
	c.emit(turn, domain.AgentEvent{
		Type:    domain.EventError,
		Agent:   slug,
		Message: err.Error(),
	})
	_ = turn.Advance(domain.TurnFailed)

	c.logger.Error("turn failed",
		zap.String("conversation_id", turn.ConversationID),
		zap.String("trace_id", turn.TraceID),
		zap.Error(err))
	return err
}

func (c *Coordinator) emit(turn *domain.Turn, ev domain.AgentEvent) {
	ev.TraceID = turn.TraceID
	c.bus.Publish(turn.ConversationID, ev)
}

func (c *Coordinator) appendMessage(conversationID string, msg domain.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if conv, ok := c.convs[conversationID]; ok {
		conv.Messages = append(conv.Messages, msg)
	}
}

// parseDataRequest распознает конверт запроса данных в нормализованном ответе
func parseDataRequest(reply string) (network.DataRequest, bool) {
	var dr network.DataRequest
	if err := json.Unmarshal([]byte(reply), &dr); err != nil {
		return dr, false
	}
	if dr.Action != network.DataRequestAction || dr.DataType == "" {
		return dr, false
	}
	return dr, true
}
