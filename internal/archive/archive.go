package archive

/*
Файл archive.go реализует архив событий — асинхронную персистентность
лога AgentEvent для аудита.

Ключевые особенности:
- Non-blocking Logging: неблокирующий канал между Hot Path шины и воркером.
  Задержки записи в БД не влияют на доставку событий подписчикам.
- Batching: накопление событий и пакетная запись (Bulk Insert) по таймеру
  или при достижении лимита пачки.
- Drain Pattern & Graceful Shutdown: при остановке воркер вычитывает остатки
  канала и делает финальный flush — события при перезапуске не теряются.
*/

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/xela07ax/agentorg/internal/domain"
)

// EventStore определяет, куда физически сохраняются события
type EventStore interface {
	// WriteBatch сохраняет пачку событий за один раз
	WriteBatch(ctx context.Context, events []domain.AgentEvent) error
}

type Options struct {
	BufferSize    int
	BatchSize     int
	FlushInterval time.Duration
}

type Archive struct {
	ch     chan domain.AgentEvent
	repo   EventStore
	logger *zap.Logger
	opts   Options
	wg     sync.WaitGroup

	isClosed int32 // Атомарный флаг (0 - открыт, 1 - закрыт)
}

func New(repo EventStore, opts Options, logger *zap.Logger) *Archive {
	if opts.BufferSize <= 0 {
		opts.BufferSize = 10000
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = 500 * time.Millisecond
	}
	return &Archive{
		ch:     make(chan domain.AgentEvent, opts.BufferSize),
		repo:   repo,
		logger: logger.With(zap.String("mod", "archive")),
		opts:   opts,
	}
}

func (a *Archive) Start() {
	a.wg.Add(1)
	go a.worker()
}

// Stop «запирает» вход в канал и ждет, пока воркер всё допишет.
func (a *Archive) Stop() {
	atomic.StoreInt32(&a.isClosed, 1)

	// Крошечная пауза, чтобы текущие Log успели проскочить
	time.Sleep(10 * time.Millisecond)

	a.logger.Info("stopping archive: closing channel and flushing buffer...")
	close(a.ch)
	a.wg.Wait()
	a.logger.Info("archive stopped gracefully")
}

// Log принимает событие без блокировки. Keepalive-маркеры не архивируются.
func (a *Archive) Log(event domain.AgentEvent) {
	if event.Type == domain.EventKeepalive {
		return
	}
	if atomic.LoadInt32(&a.isClosed) == 1 {
		a.logger.Warn("event dropped: archive is stopping",
			zap.String("conversation_id", event.ConversationID),
			zap.Uint64("seq", event.Seq))
		return
	}

	// Load Shedding: переполненный буфер не блокирует шину
	select {
	case a.ch <- event:
	default:
		a.logger.Error("archive_buffer_overflow",
			zap.String("conversation_id", event.ConversationID),
			zap.String("trace_id", event.TraceID))
	}
}

func (a *Archive) worker() {
	defer a.wg.Done()

	batch := make([]domain.AgentEvent, 0, a.opts.BatchSize)
	ticker := time.NewTicker(a.opts.FlushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) > 0 {
			// Background: основной контекст к моменту останова может быть закрыт
			if err := a.repo.WriteBatch(context.Background(), batch); err != nil {
				a.logger.Error("archive flush failed", zap.Error(err))
			}
			batch = batch[:0]
		}
	}

	for {
		select {
		case event, ok := <-a.ch:
			if !ok {
				// Канал закрыт в Stop(): вычитали остатки, финальный flush, выход
				flush()
				a.logger.Info("archive worker finished")
				return
			}
			batch = append(batch, event)
			if len(batch) >= a.opts.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}
