package persona

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xela07ax/agentorg/internal/domain"
)

func TestDefaultOrganization(t *testing.T) {
	r := NewRegistry()

	specs := r.List()
	require.Len(t, specs, 3)
	assert.Equal(t, "finance-manager", specs[0].Slug)
	assert.Equal(t, "accountant", specs[1].Slug)
	assert.Equal(t, "ceo", specs[2].Slug)

	_, err := r.Get("nobody")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRoutePermissionsAndPolicies(t *testing.T) {
	r := NewRegistry()

	// P&L: доступ есть, владелец accountant, требуется одобрение
	routing := r.Route("finance-manager", "pnl")
	assert.True(t, routing.HasPermission)
	assert.Equal(t, "accountant", routing.OwnerSlug)
	require.NotNil(t, routing.Policy)
	assert.Equal(t, "executive", routing.Policy.Level)

	// Invoices: доступ есть, одобрение не требуется
	routing = r.Route("finance-manager", "invoices")
	assert.True(t, routing.HasPermission)
	assert.Nil(t, routing.Policy)

	// Expenses: у finance-manager доступа нет
	routing = r.Route("finance-manager", "expenses")
	assert.False(t, routing.HasPermission)

	// Неизвестный источник прав не имеет
	routing = r.Route("nobody", "pnl")
	assert.False(t, routing.HasPermission)
}

func TestCanRoute(t *testing.T) {
	r := NewRegistry()

	assert.True(t, r.CanRoute("finance-manager", "accountant"))
	assert.False(t, r.CanRoute("finance-manager", "ceo"))
	assert.True(t, r.CanRoute("ceo", "accountant"))
	// У accountant нет исходящих маршрутов
	assert.False(t, r.CanRoute("accountant", "finance-manager"))
}

func TestUpdatePermissions(t *testing.T) {
	r := NewRegistry()

	updated, err := r.UpdatePermissions("finance-manager", Permissions{
		DataAccess: []string{"pnl", "expenses"},
		Routing:    []string{"accountant", "ceo"},
	})
	require.NoError(t, err)
	assert.Contains(t, updated.DataAccess, "expenses")

	// Право появилось сразу
	assert.True(t, r.Route("finance-manager", "expenses").HasPermission)
	// А отозванное исчезло
	assert.False(t, r.Route("finance-manager", "invoices").HasPermission)
	assert.True(t, r.CanRoute("finance-manager", "ceo"))

	_, err = r.UpdatePermissions("nobody", Permissions{})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
