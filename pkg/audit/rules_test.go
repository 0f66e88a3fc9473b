package audit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultRules(t *testing.T) {
	rules := DefaultRules()
	require.NoError(t, rules.Validate())
	assert.Len(t, rules, 16)

	tests := []struct {
		method, template string
		action           Action
		entity           EntityType
	}{
		{"POST", "/api/gyms/{gymId}/members", ActionMemberCreated, EntityMember},
		{"DELETE", "/api/gyms/{gymId}/members/{id}", ActionMemberDeleted, EntityMember},
		{"POST", "/api/gyms/{gymId}/memberships/{id}/renew", ActionMembershipRenewed, EntityMembership},
		{"POST", "/api/gyms/{gymId}/payments/collect", ActionPaymentCollected, EntityPayment},
		{"POST", "/api/gyms/{gymId}/invoices/{id}/void", ActionInvoiceVoided, EntityInvoice},
		{"POST", "/api/gyms/{gymId}/classes/{id}/attendance", ActionAttendanceMarked, EntityAttendance},
		{"PATCH", "/api/gyms/{gymId}/plans/{id}", ActionPlanUpdated, EntityPlan},
	}
	for _, tt := range tests {
		rule, ok := rules.Lookup(tt.method, tt.template)
		require.True(t, ok, "%s %s", tt.method, tt.template)
		assert.Equal(t, tt.action, rule.Action)
		assert.Equal(t, tt.entity, rule.EntityType)
	}

	_, ok := rules.Lookup("GET", "/api/gyms/{gymId}/members")
	assert.False(t, ok)
	_, ok = rules.Lookup("POST", "/api/gyms/{gymId}/memberships/{id}/unfreeze")
	assert.False(t, ok)
}

func TestRulesValidate(t *testing.T) {
	bad := Rules{"POST /x": {Action: "nope", EntityType: EntityMember}}
	assert.ErrorIs(t, bad.Validate(), ErrInvalidEntry)

	bad = Rules{"POST /x": {Action: ActionMemberCreated, EntityType: "nope"}}
	assert.ErrorIs(t, bad.Validate(), ErrInvalidEntry)
}

func TestUncoveredRoutes(t *testing.T) {
	keys := []string{
		"GET /api/gyms/{gymId}/members",
		"POST /api/gyms/{gymId}/members",
		"POST /api/gyms/{gymId}/memberships/{id}/unfreeze",
		"POST /api/gyms/{gymId}/classes/{id}/attendance/bulk",
		"PATCH /api/gyms/{gymId}",
		"POST /api/gyms/{gymId}/users/invite",
		"malformed",
	}

	got := UncoveredRoutes(keys, DefaultRules(), "POST /api/gyms/{gymId}/users/invite")
	assert.Equal(t, []string{
		"PATCH /api/gyms/{gymId}",
		"POST /api/gyms/{gymId}/classes/{id}/attendance/bulk",
		"POST /api/gyms/{gymId}/memberships/{id}/unfreeze",
	}, got)

	assert.Empty(t, UncoveredRoutes([]string{"GET /healthz"}, DefaultRules()))
}
