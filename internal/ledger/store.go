package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/xela07ax/agentorg/internal/domain"
)

// Store — контракт хранилища approval-запросов.
// Transition обязан быть атомарным «first caller wins»: второй вызов
// для того же перехода получает domain.ErrInvalidTransition.
type Store interface {
	Insert(ctx context.Context, req *domain.ApprovalRequest) error
	Get(ctx context.Context, id string) (*domain.ApprovalRequest, error)
	// List возвращает запросы в порядке создания; пустой статус — все.
	List(ctx context.Context, status domain.ApprovalStatus) ([]*domain.ApprovalRequest, error)
	Transition(ctx context.Context, id string, from, to domain.ApprovalStatus, reviewerID, comment string, at time.Time) (*domain.ApprovalRequest, error)
}

// MemoryStore — хранилище в памяти процесса. Дефолт для dev-режима и тестов;
// в проде заменяется на Postgres-реализацию из repository/postgres.
type MemoryStore struct {
	mu       sync.RWMutex
	requests map[string]*domain.ApprovalRequest
	order    []string // Порядок создания для List
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{requests: make(map[string]*domain.ApprovalRequest)}
}

func (s *MemoryStore) Insert(ctx context.Context, req *domain.ApprovalRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *req
	s.requests[req.ID] = &cp
	s.order = append(s.order, req.ID)
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*domain.ApprovalRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	req, ok := s.requests[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *req
	return &cp, nil
}

func (s *MemoryStore) List(ctx context.Context, status domain.ApprovalStatus) ([]*domain.ApprovalRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// Пустой слайс, а не nil: фронт получит [], а не null
	results := make([]*domain.ApprovalRequest, 0, len(s.order))
	for _, id := range s.order {
		req := s.requests[id]
		if status != "" && req.Status != status {
			continue
		}
		cp := *req
		results = append(results, &cp)
	}
	return results, nil
}

// Transition атомарно применяет переход from -> to.
// Под одним мьютексом проверка и запись: гонка двух решений невозможна,
// состояние отражает только первое из них.
func (s *MemoryStore) Transition(ctx context.Context, id string, from, to domain.ApprovalStatus, reviewerID, comment string, at time.Time) (*domain.ApprovalRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, ok := s.requests[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if req.Status != from {
		return nil, domain.ErrInvalidTransition
	}
	if err := req.CanTransitionTo(to); err != nil {
		return nil, err
	}

	req.Status = to
	if from == domain.StatusPending {
		// resolvedAt фиксируется на первом выходе из pending и больше не меняется
		resolved := at
		req.ResolvedAt = &resolved
	}
	if reviewerID != "" {
		req.ReviewerID = &reviewerID
	}
	if comment != "" {
		req.Comment = &comment
	}

	cp := *req
	return &cp, nil
}
