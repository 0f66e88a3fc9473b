package audit

import (
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/liftoff-labs/gymcore/pkg/rbac"
)

// Rule says which action and entity type a successful route call records.
type Rule struct {
	Action     Action
	EntityType EntityType
}

// Rules maps rbac.RouteKey(method, template) to the rule for that route.
type Rules map[string]Rule

const gymPrefix = "/api/gyms/{gymId}"

// DefaultRules is the curated set of audited business routes. Routes not
// listed here are not audited by the interceptor.
func DefaultRules() Rules {
	r := Rules{}
	add := func(method, path string, action Action, entity EntityType) {
		r[rbac.RouteKey(method, gymPrefix+path)] = Rule{Action: action, EntityType: entity}
	}

	add(http.MethodPost, "/members", ActionMemberCreated, EntityMember)
	add(http.MethodPatch, "/members/{id}", ActionMemberUpdated, EntityMember)
	add(http.MethodDelete, "/members/{id}", ActionMemberDeleted, EntityMember)

	add(http.MethodPost, "/memberships/{id}/renew", ActionMembershipRenewed, EntityMembership)
	add(http.MethodPost, "/memberships/{id}/freeze", ActionMembershipFrozen, EntityMembership)

	add(http.MethodPost, "/payments/collect", ActionPaymentCollected, EntityPayment)

	add(http.MethodPost, "/invoices/{id}/void", ActionInvoiceVoided, EntityInvoice)

	add(http.MethodPost, "/classes", ActionClassCreated, EntityClass)
	add(http.MethodPatch, "/classes/{id}", ActionClassUpdated, EntityClass)
	add(http.MethodDelete, "/classes/{id}", ActionClassDeleted, EntityClass)
	add(http.MethodPost, "/classes/{id}/attendance", ActionAttendanceMarked, EntityAttendance)

	add(http.MethodPost, "/trainers", ActionTrainerCreated, EntityTrainer)
	add(http.MethodPatch, "/trainers/{id}", ActionTrainerUpdated, EntityTrainer)
	add(http.MethodDelete, "/trainers/{id}", ActionTrainerDeleted, EntityTrainer)

	add(http.MethodPost, "/plans", ActionPlanCreated, EntityPlan)
	add(http.MethodPatch, "/plans/{id}", ActionPlanUpdated, EntityPlan)

	return r
}

// Lookup returns the rule for method and template.
func (r Rules) Lookup(method, template string) (Rule, bool) {
	rule, ok := r[rbac.RouteKey(method, template)]
	return rule, ok
}

// Validate rejects rules with an unknown action or entity type.
func (r Rules) Validate() error {
	for key, rule := range r {
		if !rule.Action.Valid() {
			return fmt.Errorf("%s: %w: unknown action %q", key, ErrInvalidEntry, rule.Action)
		}
		if !rule.EntityType.Valid() {
			return fmt.Errorf("%s: %w: unknown entity type %q", key, ErrInvalidEntry, rule.EntityType)
		}
	}
	return nil
}

// UncoveredRoutes returns the mutating route keys ("METHOD template") with
// no rule, sorted. Route keys without a mutating method are ignored, as are
// keys listed in exempt.
func UncoveredRoutes(routeKeys []string, rules Rules, exempt ...string) []string {
	skip := make(map[string]struct{}, len(exempt))
	for _, k := range exempt {
		skip[k] = struct{}{}
	}

	var out []string
	for _, key := range routeKeys {
		method, _, ok := strings.Cut(key, " ")
		if !ok || !rbac.IsMutating(method) {
			continue
		}
		if _, ok := rules[key]; ok {
			continue
		}
		if _, ok := skip[key]; ok {
			continue
		}
		out = append(out, key)
	}
	sort.Strings(out)
	return out
}
