package ledger

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/agentorg/internal/domain"
	"github.com/xela07ax/agentorg/internal/infra"
)

// RedisSignals транслирует решения оператора между инстансами сервиса.
// Один инстанс принял решение — координатор на другом инстансе, ожидающий
// это решение, проснется через Pub/Sub, не опрашивая базу.
type RedisSignals struct {
	rdb    *redis.Client
	logger *zap.Logger
}

func NewRedisSignals(rdb *redis.Client, logger *zap.Logger) *RedisSignals {
	return &RedisSignals{rdb: rdb, logger: logger.Named("approval-signals")}
}

// SignalDecision публикует решение в канал конкретного хода.
// Формат payload: "approvalID:status" (как и прочие сигналы платформы).
func (s *RedisSignals) SignalDecision(ctx context.Context, turnID, approvalID string, status domain.ApprovalStatus) {
	channel := infra.ApprovalTurnChannel(turnID)
	payload := approvalID + ":" + string(status)

	if err := s.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		// Если Redis недоступен, ожидающий ход завершится по таймауту (Fail-Safe)
		s.logger.Error("decision saved but signal not delivered",
			zap.String("approval_id", approvalID),
			zap.String("channel", channel),
			zap.Error(err))
	}
}

// Listen — «живучая» подписка на решения всех ходов (PSUBSCRIBE).
// Переподключается при обрывах; onDecision будит локальных ожидающих.
func (s *RedisSignals) Listen(ctx context.Context, onDecision func(approvalID string, status domain.ApprovalStatus)) {
	for {
		if ctx.Err() != nil {
			return
		}

		pubsub := s.rdb.PSubscribe(ctx, infra.ApprovalTurnPattern())

		// Проверка успешности подписки
		if _, err := pubsub.Receive(ctx); err != nil {
			s.logger.Error("failed to subscribe to approval decisions", zap.Error(err))
			pubsub.Close()
			select {
			case <-ctx.Done():
				return
			case <-time.After(5 * time.Second):
			}
			continue
		}

		ch := pubsub.Channel()

	loop:
		for {
			select {
			case <-ctx.Done():
				pubsub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					break loop // Канал закрыт, идем на переподключение
				}

				// Разбор формата "approvalID:status"
				parts := strings.SplitN(msg.Payload, ":", 2)
				if len(parts) != 2 {
					s.logger.Error("invalid decision signal format", zap.String("payload", msg.Payload))
					continue
				}

				onDecision(parts[0], domain.ApprovalStatus(parts[1]))
			}
		}

		pubsub.Close()
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Second):
		}
	}
}
