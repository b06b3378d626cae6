package domain

import "errors"

// Таксономия ошибок протокола. Все ошибки — значения, не panic.
// Проверяются через errors.Is на любом уровне обертывания (%w).
var (
	// ErrValidation — некорректный ввод. Не ретраится, отдается вызывающему.
	ErrValidation = errors.New("validation error")

	// ErrNotFound — неизвестный идентификатор
	ErrNotFound = errors.New("not found")

	// ErrInvalidTransition — нарушение конечного автомата approval.
	// Для клиента это не сбой: «решение уже принято» (идемпотентность).
	ErrInvalidTransition = errors.New("invalid approval status transition")

	// ErrConflict — по диалогу уже выполняется ход, второй не принимаем
	ErrConflict = errors.New("turn already in flight")

	// ErrUpstream — сбой внешней агентской сети (таймаут, битый ответ).
	// Автоматических ретраев нет: побочные эффекты частичного хода небезопасно повторять.
	ErrUpstream = errors.New("agent network failure")

	// ErrTimeout — истек лимит ожидания решения. Сам approval остается pending.
	ErrTimeout = errors.New("approval wait timed out")
)
