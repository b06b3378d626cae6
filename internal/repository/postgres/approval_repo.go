package postgres

/*
Файл approval_repo.go — Postgres-реализация хранилища Approval Ledger.
Переходы статусов атомарны на уровне SQL: условный UPDATE с RETURNING
исключает Double Decision без дополнительных блокировок в приложении.
*/

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // Драйвер Postgres

	"github.com/xela07ax/agentorg/internal/domain"
)

type ApprovalRepo struct {
	db *sql.DB
}

// NewApprovalRepo создает репозиторий поверх общего пула соединений
func NewApprovalRepo(db *sql.DB) *ApprovalRepo {
	return &ApprovalRepo{db: db}
}

// Open открывает пул соединений с настройками из конфига
func Open(connString string, maxConns int) (*sql.DB, error) {
	db, err := sql.Open("pgx", connString)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	if maxConns <= 0 {
		maxConns = 25
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(maxConns)
	db.SetConnMaxLifetime(5 * time.Minute)
	return db, nil
}

const approvalColumns = `id, conversation_id, turn_id, source_agent, target_agent, data_type,
	sensitivity_reason, ask, status, reviewer_id, comment, created_at, resolved_at, payload`

func (r *ApprovalRepo) Insert(ctx context.Context, req *domain.ApprovalRequest) error {
	query := `INSERT INTO approvals (` + approvalColumns + `)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	_, err := r.db.ExecContext(ctx, query,
		req.ID, req.ConversationID, req.TurnID, req.SourceAgent, req.TargetAgent, req.DataType,
		req.SensitivityReason, req.Ask, req.Status, req.ReviewerID, req.Comment,
		req.CreatedAt, req.ResolvedAt, req.Payload,
	)
	if err != nil {
		return fmt.Errorf("postgres: failed to create approval request: %w", err)
	}
	return nil
}

func (r *ApprovalRepo) Get(ctx context.Context, id string) (*domain.ApprovalRequest, error) {
	query := `SELECT ` + approvalColumns + ` FROM approvals WHERE id = $1`
	return scanApproval(r.db.QueryRowContext(ctx, query, id))
}

// List выдает запросы в порядке создания (Decision Queue)
func (r *ApprovalRepo) List(ctx context.Context, status domain.ApprovalStatus) ([]*domain.ApprovalRequest, error) {
	query := `SELECT ` + approvalColumns + ` FROM approvals`

	var args []interface{}
	if status != "" {
		query += " WHERE status = $1"
		args = append(args, status)
	}
	query += " ORDER BY created_at ASC LIMIT 500"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query approvals: %w", err)
	}
	defer rows.Close()

	// Пустой слайс, чтобы в JSON был [] вместо null
	results := make([]*domain.ApprovalRequest, 0)
	for rows.Next() {
		req, err := scanApproval(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, req)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: rows iteration error: %w", err)
	}
	return results, nil
}

// Transition атомарно применяет переход from -> to.
// Условие WHERE status = from исключает гонку двух решений: второй вызов
// не найдет строку и получит ErrInvalidTransition.
func (r *ApprovalRepo) Transition(ctx context.Context, id string, from, to domain.ApprovalStatus, reviewerID, comment string, at time.Time) (*domain.ApprovalRequest, error) {
	// RETURNING отдает обновленную строку за один проход, без SELECT-а до UPDATE
	query := `
		UPDATE approvals
		SET status = $1,
		    reviewer_id = COALESCE(NULLIF($2, ''), reviewer_id),
		    comment = COALESCE(NULLIF($3, ''), comment),
		    resolved_at = CASE WHEN status = 'pending' THEN $4 ELSE resolved_at END
		WHERE id = $5 AND status = $6
		RETURNING ` + approvalColumns

	req, err := scanApproval(r.db.QueryRowContext(ctx, query, to, reviewerID, comment, at, id, from))
	if err == nil {
		return req, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	// Строка не найдена: различаем неизвестный id и уже принятое решение
	var current domain.ApprovalStatus
	checkErr := r.db.QueryRowContext(ctx, `SELECT status FROM approvals WHERE id = $1`, id).Scan(&current)
	if errors.Is(checkErr, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if checkErr != nil {
		return nil, fmt.Errorf("postgres: status check failed: %w", checkErr)
	}
	return nil, domain.ErrInvalidTransition
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanApproval(row rowScanner) (*domain.ApprovalRequest, error) {
	var req domain.ApprovalRequest
	var reviewerID, comment sql.NullString // NULL из БД
	var resolvedAt sql.NullTime

	err := row.Scan(
		&req.ID, &req.ConversationID, &req.TurnID, &req.SourceAgent, &req.TargetAgent, &req.DataType,
		&req.SensitivityReason, &req.Ask, &req.Status, &reviewerID, &comment,
		&req.CreatedAt, &resolvedAt, &req.Payload,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("postgres: failed to scan approval: %w", err)
	}

	if reviewerID.Valid {
		val := reviewerID.String
		req.ReviewerID = &val
	}
	if comment.Valid {
		val := comment.String
		req.Comment = &val
	}
	if resolvedAt.Valid {
		val := resolvedAt.Time
		req.ResolvedAt = &val
	}
	return &req, nil
}
