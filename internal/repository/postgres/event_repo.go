package postgres

/*
Файл event_repo.go — пакетная запись событий агентов в Postgres.
Используется архивом как долговременная копия лога событий: шина держит
лог в памяти, архив сбрасывает батчи в таблицу agent_events.
*/

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xela07ax/agentorg/internal/domain"
)

type EventRepo struct {
	db *sql.DB
}

func NewEventRepo(db *sql.DB) *EventRepo {
	return &EventRepo{db: db}
}

// WriteBatch вставляет пачку событий одним запросом.
// Плейсхолдеры собираются динамически: 9 колонок на событие.
func (r *EventRepo) WriteBatch(ctx context.Context, events []domain.AgentEvent) error {
	if len(events) == 0 {
		return nil
	}

	const cols = 9
	valueStrings := make([]string, 0, len(events))
	valueArgs := make([]interface{}, 0, len(events)*cols)

	for i, ev := range events {
		base := i * cols
		valueStrings = append(valueStrings, fmt.Sprintf("($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9))

		var data []byte
		if ev.Data != nil {
			var err error
			data, err = json.Marshal(ev.Data)
			if err != nil {
				// Непредставимый payload не должен валить весь батч
				data = []byte(`{"marshal_error":true}`)
			}
		}

		valueArgs = append(valueArgs,
			ev.ConversationID, ev.Seq, ev.Type, ev.Agent, ev.Target,
			ev.Message, nullable(ev.ApprovalID), data, ev.Timestamp,
		)
	}

	query := fmt.Sprintf(`INSERT INTO agent_events
		(conversation_id, seq, type, agent, target, message, approval_id, data, created_at)
		VALUES %s
		ON CONFLICT (conversation_id, seq) DO NOTHING`,
		strings.Join(valueStrings, ", "))

	if _, err := r.db.ExecContext(ctx, query, valueArgs...); err != nil {
		return fmt.Errorf("postgres: failed to write event batch: %w", err)
	}
	return nil
}

// Fetch читает архив событий диалога начиная с курсора (для выдачи истории)
func (r *EventRepo) Fetch(ctx context.Context, conversationID string, afterSeq uint64, limit int) ([]domain.AgentEvent, error) {
	if limit <= 0 || limit > 1000 {
		limit = 1000
	}
	query := `SELECT conversation_id, seq, type, agent, target, message, approval_id, data, created_at
	          FROM agent_events
	          WHERE conversation_id = $1 AND seq > $2
	          ORDER BY seq ASC
	          LIMIT $3`

	rows, err := r.db.QueryContext(ctx, query, conversationID, afterSeq, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query events: %w", err)
	}
	defer rows.Close()

	events := make([]domain.AgentEvent, 0)
	for rows.Next() {
		var ev domain.AgentEvent
		var approvalID sql.NullString
		var data []byte
		if err := rows.Scan(&ev.ConversationID, &ev.Seq, &ev.Type, &ev.Agent, &ev.Target,
			&ev.Message, &approvalID, &data, &ev.Timestamp); err != nil {
			return nil, fmt.Errorf("postgres: failed to scan event: %w", err)
		}
		if approvalID.Valid {
			ev.ApprovalID = approvalID.String
		}
		if len(data) > 0 {
			var payload interface{}
			if json.Unmarshal(data, &payload) == nil {
				ev.Data = payload
			}
		}
		events = append(events, ev)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: rows iteration error: %w", err)
	}
	return events, nil
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
