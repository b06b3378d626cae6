package stream

/*
Файл client.go — клиент SSE-потока событий диалога.

"Живучий" цикл: разрыв соединения считается транзиентным. Клиент
переподключается с экспоненциальной паузой и передает серверу курсор
последнего доставленного события, поэтому после разрыва не бывает ни
дублей, ни пропусков. Keepalive-маркеры курсор не двигают.
*/

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xela07ax/agentorg/internal/domain"
)

type Options struct {
	ReconnectMinDelay time.Duration
	ReconnectMaxDelay time.Duration
}

type Client struct {
	baseURL        string // Напр. http://localhost:8080/api/chat/stream
	conversationID string
	httpc          *http.Client
	logger         *zap.Logger
	opts           Options

	events chan domain.AgentEvent
	cancel context.CancelFunc
	done   chan struct{}

	cursor uint64 // Seq последнего доставленного события (только из цикла run)
}

func NewClient(baseURL, conversationID string, opts Options, logger *zap.Logger) *Client {
	if opts.ReconnectMinDelay <= 0 {
		opts.ReconnectMinDelay = time.Second
	}
	if opts.ReconnectMaxDelay < opts.ReconnectMinDelay {
		opts.ReconnectMaxDelay = 30 * time.Second
	}
	return &Client{
		baseURL:        baseURL,
		conversationID: conversationID,
		// Timeout не ставим: SSE-соединение живет бесконечно
		httpc:  &http.Client{},
		logger: logger.Named("stream-client"),
		opts:   opts,
		events: make(chan domain.AgentEvent, 64),
		done:   make(chan struct{}),
	}
}

// Events — канал доставки. Закрывается после Close или отмены контекста.
func (c *Client) Events() <-chan domain.AgentEvent {
	return c.events
}

// Start запускает фоновый цикл чтения потока
func (c *Client) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)
	go c.run(ctx)
}

// Close разрывает соединение и закрывает канал событий
func (c *Client) Close() {
	if c.cancel != nil {
		c.cancel()
	}
	<-c.done
}

func (c *Client) run(ctx context.Context) {
	defer close(c.done)
	defer close(c.events)

	delay := c.opts.ReconnectMinDelay

	for {
		if ctx.Err() != nil {
			return
		}

		err := c.consume(ctx)
		if ctx.Err() != nil {
			return
		}

		// Любая ошибка соединения транзиентна: ждем и переподключаемся
		c.logger.Warn("stream interrupted, reconnecting",
			zap.String("conversation_id", c.conversationID),
			zap.Uint64("cursor", c.cursor),
			zap.Duration("delay", delay),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}

		delay *= 2
		if delay > c.opts.ReconnectMaxDelay {
			delay = c.opts.ReconnectMaxDelay
		}
	}
}

// consume держит одно SSE-соединение до разрыва
func (c *Client) consume(ctx context.Context) error {
	endpoint := fmt.Sprintf("%s?conversation_id=%s&cursor=%d",
		c.baseURL, url.QueryEscape(c.conversationID), c.cursor)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("stream: build request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	// Дублируем курсор в стандартном заголовке SSE
	req.Header.Set("Last-Event-ID", strconv.FormatUint(c.cursor, 10))

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("stream: connect: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("stream: unexpected status %d", resp.StatusCode)
	}

	// Успешный коннект сбрасывает backoff у вызывающего цикла через
	// доставку хотя бы одного события; здесь просто читаем кадры.
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var dataLines []string
	var eventID string

	for scanner.Scan() {
		line := scanner.Text()

		switch {
		case line == "":
			// Пустая строка = конец кадра
			if len(dataLines) > 0 {
				c.dispatch(ctx, eventID, strings.Join(dataLines, "\n"))
			}
			dataLines = dataLines[:0]
			eventID = ""
		case strings.HasPrefix(line, "id:"):
			eventID = strings.TrimSpace(strings.TrimPrefix(line, "id:"))
		case strings.HasPrefix(line, "data:"):
			dataLines = append(dataLines, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		case strings.HasPrefix(line, ":"):
			// Комментарий (серверный пинг), игнорируем
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("stream: read: %w", err)
	}
	return fmt.Errorf("stream: connection closed by server")
}

func (c *Client) dispatch(ctx context.Context, eventID, payload string) {
	var ev domain.AgentEvent
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		c.logger.Error("malformed stream frame", zap.Error(err))
		return
	}
	ev.ConversationID = c.conversationID

	if ev.Type == domain.EventKeepalive {
		// Маркер живости: пробрасываем потребителю, курсор не двигаем
		select {
		case c.events <- ev:
		case <-ctx.Done():
		}
		return
	}

	if eventID != "" {
		if seq, err := strconv.ParseUint(eventID, 10, 64); err == nil {
			ev.Seq = seq
		}
	}

	// Защита от дублей на границе переподключения
	if ev.Seq > 0 && ev.Seq <= c.cursor {
		return
	}

	select {
	case c.events <- ev:
		if ev.Seq > 0 {
			c.cursor = ev.Seq
		}
	case <-ctx.Done():
	}
}
