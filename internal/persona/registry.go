package persona

/*
Реестр агентов организации. Статическая таблица персон и прав доступа:
кто чем владеет, кто у кого может запрашивать и какие данные требуют
одобрения человека. Это конфигурационные данные, не логика протокола.
*/

import (
	"fmt"
	"sync"

	"github.com/xela07ax/agentorg/internal/domain"
)

// Spec описывает одного агента организации
type Spec struct {
	Slug        string   `json:"slug"`
	Name        string   `json:"name"`
	Role        string   `json:"role"`
	Description string   `json:"description"`
	Tools       []string `json:"tools"`
	DataAccess  []string `json:"data_access"` // Какие типы данных агент вправе запрашивать
	Routing     []string `json:"routing"`     // К кому агент может обращаться
}

// Permissions — изменяемый блок прав (PUT /api/agents/{slug}/permissions)
type Permissions struct {
	DataAccess []string `json:"dataAccess"`
	Tools      []string `json:"tools"`
	Routing    []string `json:"routing"`
}

// ApprovalPolicy — требование HITL-одобрения для типа данных
type ApprovalPolicy struct {
	Level  string `json:"level"`
	Reason string `json:"reason"`
}

// Routing — итог разрешительной проверки для запроса данных
type Routing struct {
	HasPermission bool
	OwnerSlug     string // Кто владеет данными (туда пойдет запрос)
	Policy        *ApprovalPolicy
}

type Registry struct {
	mu       sync.RWMutex
	specs    map[string]*Spec
	order    []string
	owners   map[string]string          // dataType -> slug владельца
	policies map[string]*ApprovalPolicy // dataType -> требование одобрения
}

// NewRegistry создает реестр с дефолтным составом организации
func NewRegistry() *Registry {
	r := &Registry{
		specs:    make(map[string]*Spec),
		owners:   make(map[string]string),
		policies: make(map[string]*ApprovalPolicy),
	}

	r.register(&Spec{
		Slug:        "finance-manager",
		Name:        "fm_agent",
		Role:        "Finance Manager",
		Description: "Senior Finance Manager responsible for financial reporting, budget oversight, and cross-team coordination.",
		Tools:       []string{"request_from_agent", "summarize_report"},
		DataAccess:  []string{"pnl", "invoices", "budget"},
		Routing:     []string{"accountant"},
	})
	r.register(&Spec{
		Slug:        "accountant",
		Name:        "acct_agent",
		Role:        "Accountant",
		Description: "Accountant responsible for maintaining financial records, processing invoices, and generating P&L statements.",
		Tools:       []string{"pull_pnl", "pull_invoices", "check_approval_required"},
		DataAccess:  []string{"pnl", "invoices", "expenses", "budget"},
	})
	r.register(&Spec{
		Slug:        "ceo",
		Name:        "ceo_agent",
		Role:        "CEO",
		Description: "Chief Executive Officer with full access to all financial data and approval authority.",
		Tools:       []string{"request_from_agent", "summarize_report"},
		DataAccess:  []string{"pnl", "invoices", "budget", "expenses"},
		Routing:     []string{"finance-manager", "accountant"},
	})

	// Владельцы данных и политики чувствительности
	for _, dt := range []string{"pnl", "invoices", "expenses", "budget"} {
		r.owners[dt] = "accountant"
	}
	r.policies["pnl"] = &ApprovalPolicy{Level: "executive", Reason: "P&L statements contain sensitive financial performance data"}
	r.policies["budget"] = &ApprovalPolicy{Level: "executive", Reason: "budget figures are restricted until board review"}

	return r
}

func (r *Registry) register(s *Spec) {
	r.specs[s.Slug] = s
	r.order = append(r.order, s.Slug)
}

func (r *Registry) Get(slug string) (*Spec, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.specs[slug]
	if !ok {
		return nil, fmt.Errorf("%w: agent %q", domain.ErrNotFound, slug)
	}
	cp := *s
	return &cp, nil
}

func (r *Registry) List() []*Spec {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Spec, 0, len(r.order))
	for _, slug := range r.order {
		cp := *r.specs[slug]
		out = append(out, &cp)
	}
	return out
}

// UpdatePermissions заменяет блок прав агента целиком
func (r *Registry) UpdatePermissions(slug string, p Permissions) (*Spec, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.specs[slug]
	if !ok {
		return nil, fmt.Errorf("%w: agent %q", domain.ErrNotFound, slug)
	}
	s.DataAccess = p.DataAccess
	s.Tools = p.Tools
	s.Routing = p.Routing

	cp := *s
	return &cp, nil
}

// Route — разрешительная проверка запроса данных: право доступа,
// владелец ресурса и политика одобрения одним вызовом
func (r *Registry) Route(sourceSlug, dataType string) Routing {
	r.mu.RLock()
	defer r.mu.RUnlock()

	res := Routing{OwnerSlug: r.owners[dataType]}

	src, ok := r.specs[sourceSlug]
	if !ok {
		return res
	}
	for _, dt := range src.DataAccess {
		if dt == dataType {
			res.HasPermission = true
			break
		}
	}
	if p, ok := r.policies[dataType]; ok {
		cp := *p
		res.Policy = &cp
	}
	return res
}

// CanRoute проверяет, вправе ли source обращаться к target напрямую
func (r *Registry) CanRoute(sourceSlug, targetSlug string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	src, ok := r.specs[sourceSlug]
	if !ok {
		return false
	}
	for _, t := range src.Routing {
		if t == targetSlug {
			return true
		}
	}
	return false
}
