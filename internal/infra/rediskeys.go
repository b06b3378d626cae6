package infra

import "fmt"

const (
	// RedisNamespace Базовый префикс для изоляции данных проекта в Redis
	RedisNamespace = "agentorg"
)

// Каналы Pub/Sub (сигналы)
const (
	// RedisChanApprovalDecisions — канал трансляции решений оператора (HITL).
	// Конкретный ход слушает свой под-канал: agentorg:approvals:turn:{turnID}
	RedisChanApprovalDecisions = RedisNamespace + ":approvals"
)

// ApprovalTurnChannel возвращает имя канала пробуждения для конкретного хода
func ApprovalTurnChannel(turnID string) string {
	return fmt.Sprintf("%s:turn:%s", RedisChanApprovalDecisions, turnID)
}

// ApprovalTurnPattern — шаблон подписки на все решения (PSUBSCRIBE)
func ApprovalTurnPattern() string {
	return RedisChanApprovalDecisions + ":turn:*"
}
