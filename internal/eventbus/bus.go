package eventbus

/*
Файл bus.go реализует шину событий диалога — append-only лог прогресса
мультиагентного хода с раздачей подписчикам.

Ключевые свойства:
- Publish никогда не блокируется на доставке: медленный подписчик отсекается
  (Load Shedding) и обязан переподписаться со своим курсором.
- Порядок публикации = порядок доставки для каждого подписчика.
- Подписка с курсором повторяет хвост лога без пропусков (replay), что
  позволяет транспорту переживать разрывы соединения.
- В периоды тишины подписчику шлется синтетический keepalive, чтобы
  отличать живое соединение от молчаливого зависания.
*/

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xela07ax/agentorg/internal/domain"
)

// Archiver — необязательный потребитель каждого опубликованного события
// (асинхронный аудит). Вызов обязан быть неблокирующим.
type Archiver interface {
	Log(event domain.AgentEvent)
}

type Options struct {
	SubscriberBuffer  int           // Емкость буфера подписчика до отсечения
	KeepaliveInterval time.Duration // Период синтетических маркеров тишины
}

type Bus struct {
	mu       sync.Mutex
	logs     map[string]*convLog
	logger   *zap.Logger
	opts     Options
	archiver Archiver
}

type convLog struct {
	events []domain.AgentEvent
	subs   map[*Subscription]struct{}
}

// Subscription — живой хэндл подписки. Закрывается через Cancel,
// либо шиной при отставании (тогда Lagged() == true).
type Subscription struct {
	C <-chan domain.AgentEvent

	in     chan domain.AgentEvent
	out    chan domain.AgentEvent
	done   chan struct{}
	once   sync.Once
	lagged bool

	bus    *Bus
	convID string
}

func New(logger *zap.Logger, opts Options, archiver Archiver) *Bus {
	if opts.SubscriberBuffer <= 0 {
		opts.SubscriberBuffer = 256
	}
	if opts.KeepaliveInterval <= 0 {
		opts.KeepaliveInterval = 30 * time.Second
	}
	return &Bus{
		logs:     make(map[string]*convLog),
		logger:   logger.Named("eventbus"),
		opts:     opts,
		archiver: archiver,
	}
}

// Publish добавляет событие в лог диалога и раздает подписчикам.
// Seq и Timestamp проставляются здесь: событие после этого неизменяемо.
func (b *Bus) Publish(conversationID string, ev domain.AgentEvent) domain.AgentEvent {
	b.mu.Lock()

	cl, ok := b.logs[conversationID]
	if !ok {
		cl = &convLog{subs: make(map[*Subscription]struct{})}
		b.logs[conversationID] = cl
	}

	ev.ConversationID = conversationID
	ev.Seq = uint64(len(cl.events)) + 1
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	cl.events = append(cl.events, ev)

	for sub := range cl.subs {
		select {
		case sub.in <- ev:
		default:
			// Подписчик не успевает — отсекаем, он вернется с курсором.
			sub.lagged = true
			delete(cl.subs, sub)
			close(sub.in)
			b.logger.Warn("subscriber lagged, dropping",
				zap.String("conversation_id", conversationID),
				zap.Uint64("seq", ev.Seq))
		}
	}
	b.mu.Unlock()

	if b.archiver != nil {
		b.archiver.Log(ev)
	}
	return ev
}

// Subscribe открывает подписку на события диалога.
// cursor — Seq последнего уже виденного события; 0 означает «только новые»
// (replay гарантируется лишь при явном курсоре от прошлой подписки).
func (b *Bus) Subscribe(conversationID string, cursor uint64) *Subscription {
	b.mu.Lock()

	cl, ok := b.logs[conversationID]
	if !ok {
		cl = &convLog{subs: make(map[*Subscription]struct{})}
		b.logs[conversationID] = cl
	}

	var backlog []domain.AgentEvent
	if cursor > 0 && cursor < uint64(len(cl.events)) {
		backlog = cl.events[cursor:]
	}

	// Буфер должен вместить весь хвост лога плюс запас на новые события
	capacity := b.opts.SubscriberBuffer
	if need := len(backlog) + b.opts.SubscriberBuffer; need > capacity {
		capacity = need
	}

	sub := &Subscription{
		in:     make(chan domain.AgentEvent, capacity),
		out:    make(chan domain.AgentEvent),
		done:   make(chan struct{}),
		bus:    b,
		convID: conversationID,
	}
	sub.C = sub.out

	for _, ev := range backlog {
		sub.in <- ev
	}
	cl.subs[sub] = struct{}{}
	b.mu.Unlock()

	go sub.forward(b.opts.KeepaliveInterval)
	return sub
}

// History возвращает срез лога после курсора (для диагностики и тестов)
func (b *Bus) History(conversationID string, cursor uint64) []domain.AgentEvent {
	b.mu.Lock()
	defer b.mu.Unlock()

	cl, ok := b.logs[conversationID]
	if !ok || cursor >= uint64(len(cl.events)) {
		return nil
	}
	out := make([]domain.AgentEvent, len(cl.events)-int(cursor))
	copy(out, cl.events[cursor:])
	return out
}

// forward перекачивает события из внутреннего буфера наружу,
// вставляя keepalive при затишье
func (s *Subscription) forward(keepalive time.Duration) {
	defer close(s.out)

	timer := time.NewTimer(keepalive)
	defer timer.Stop()

	for {
		select {
		case ev, ok := <-s.in:
			if !ok {
				return // Шина отсекла подписку (lag) или Cancel
			}
			select {
			case s.out <- ev:
			case <-s.done:
				return
			}
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(keepalive)
		case <-timer.C:
			// Маркер живости: не блокируемся, если потребитель занят
			select {
			case s.out <- domain.AgentEvent{
				Type:           domain.EventKeepalive,
				ConversationID: s.convID,
				Timestamp:      time.Now().UTC(),
			}:
			default:
			}
			timer.Reset(keepalive)
		case <-s.done:
			return
		}
	}
}

// Lagged сообщает, была ли подписка отсечена шиной из-за отставания
func (s *Subscription) Lagged() bool {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	return s.lagged
}

// Cancel освобождает подписку. Повторные вызовы безопасны.
func (s *Subscription) Cancel() {
	s.once.Do(func() {
		close(s.done)
		s.bus.mu.Lock()
		if cl, ok := s.bus.logs[s.convID]; ok {
			if _, registered := cl.subs[s]; registered {
				delete(cl.subs, s)
				close(s.in)
			}
		}
		s.bus.mu.Unlock()
	})
}
