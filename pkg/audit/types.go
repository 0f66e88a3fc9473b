package audit

import (
	"context"
	"errors"
	"math"
	"time"
)

var (
	// ErrGymRequired is returned when an operation is not scoped to a gym.
	ErrGymRequired = errors.New("audit: gym id is required")
	// ErrInvalidEntry is returned when an entry is missing mandatory fields.
	ErrInvalidEntry = errors.New("audit: invalid entry")
	// ErrInvalidFilter is returned for contradictory query filters.
	ErrInvalidFilter = errors.New("audit: invalid filter")
)

// Action tags what happened.
type Action string

const (
	ActionGymCreated        Action = "gym.created"
	ActionGymUpdated        Action = "gym.updated"
	ActionUserInvited       Action = "user.invited"
	ActionUserSuspended     Action = "user.suspended"
	ActionRoleChanged       Action = "role.changed"
	ActionMemberCreated     Action = "member.created"
	ActionMemberUpdated     Action = "member.updated"
	ActionMemberDeleted     Action = "member.deleted"
	ActionMembershipCreated Action = "membership.created"
	ActionMembershipRenewed Action = "membership.renewed"
	ActionMembershipFrozen  Action = "membership.frozen"
	ActionMembershipExpired Action = "membership.expired"
	ActionPaymentCollected  Action = "payment.collected"
	ActionInvoiceCreated    Action = "invoice.created"
	ActionInvoicePaid       Action = "invoice.paid"
	ActionInvoiceVoided     Action = "invoice.voided"
	ActionClassCreated      Action = "class.created"
	ActionClassUpdated      Action = "class.updated"
	ActionClassDeleted      Action = "class.deleted"
	ActionAttendanceMarked  Action = "attendance.marked"
	ActionTrainerCreated    Action = "trainer.created"
	ActionTrainerUpdated    Action = "trainer.updated"
	ActionTrainerDeleted    Action = "trainer.deleted"
	ActionPlanCreated       Action = "plan.created"
	ActionPlanUpdated       Action = "plan.updated"
)

var knownActions = map[Action]struct{}{
	ActionGymCreated: {}, ActionGymUpdated: {},
	ActionUserInvited: {}, ActionUserSuspended: {}, ActionRoleChanged: {},
	ActionMemberCreated: {}, ActionMemberUpdated: {}, ActionMemberDeleted: {},
	ActionMembershipCreated: {}, ActionMembershipRenewed: {}, ActionMembershipFrozen: {}, ActionMembershipExpired: {},
	ActionPaymentCollected: {},
	ActionInvoiceCreated: {}, ActionInvoicePaid: {}, ActionInvoiceVoided: {},
	ActionClassCreated: {}, ActionClassUpdated: {}, ActionClassDeleted: {},
	ActionAttendanceMarked: {},
	ActionTrainerCreated: {}, ActionTrainerUpdated: {}, ActionTrainerDeleted: {},
	ActionPlanCreated: {}, ActionPlanUpdated: {},
}

// Valid reports whether a is part of the action vocabulary.
func (a Action) Valid() bool {
	_, ok := knownActions[a]
	return ok
}

// EntityType tags what kind of record an action touched.
type EntityType string

const (
	EntityGym        EntityType = "gym"
	EntityUser       EntityType = "user"
	EntityMember     EntityType = "member"
	EntityMembership EntityType = "membership"
	EntityInvoice    EntityType = "invoice"
	EntityPayment    EntityType = "payment"
	EntityClass      EntityType = "class"
	EntityAttendance EntityType = "attendance"
	EntityTrainer    EntityType = "trainer"
	EntityPlan       EntityType = "plan"
)

// Valid reports whether e is a known entity type.
func (e EntityType) Valid() bool {
	switch e {
	case EntityGym, EntityUser, EntityMember, EntityMembership, EntityInvoice,
		EntityPayment, EntityClass, EntityAttendance, EntityTrainer, EntityPlan:
		return true
	}
	return false
}

// Entry is one immutable audit record. Every entry belongs to exactly one gym.
type Entry struct {
	ID          string                 `json:"id"`
	GymID       string                 `json:"gymId"`
	ActorUserID *string                `json:"actorUserId"`
	Action      Action                 `json:"action"`
	EntityType  EntityType             `json:"entityType"`
	EntityID    *string                `json:"entityId"`
	Metadata    map[string]interface{} `json:"metadata"`
	IPAddress   *string                `json:"ipAddress"`
	CreatedAt   time.Time              `json:"createdAt"`
}

// Event is what a caller asks the Recorder to write.
type Event struct {
	Action     Action
	EntityType EntityType
	EntityID   *string
	Metadata   map[string]interface{}
}

const (
	DefaultPage  = 1
	DefaultLimit = 50
	MaxLimit     = 100
)

// Filter narrows a gym's audit query. Zero values mean "no constraint".
// ToDate is inclusive.
type Filter struct {
	Action      Action
	EntityType  EntityType
	EntityID    string
	ActorUserID string
	FromDate    *time.Time
	ToDate      *time.Time
	Page        int
	Limit       int
}

// Normalize applies paging defaults, caps the limit and the page so the
// offset cannot overflow, and rejects an inverted date range.
func (f Filter) Normalize() (Filter, error) {
	if f.Page < 1 {
		f.Page = DefaultPage
	}
	if f.Limit < 1 {
		f.Limit = DefaultLimit
	}
	if f.Limit > MaxLimit {
		f.Limit = MaxLimit
	}
	if maxPage := math.MaxInt / f.Limit; f.Page > maxPage {
		f.Page = maxPage
	}
	if f.FromDate != nil && f.ToDate != nil && f.FromDate.After(*f.ToDate) {
		return f, ErrInvalidFilter
	}
	return f, nil
}

// Offset is the number of rows skipped for the current page.
func (f Filter) Offset() int {
	return (f.Page - 1) * f.Limit
}

// Pagination describes where a Page sits in the full result.
type Pagination struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
	Total int `json:"total"`
	Pages int `json:"pages"`
}

// NewPagination computes Pages as ceil(total/limit).
func NewPagination(page, limit, total int) Pagination {
	pages := 0
	if limit > 0 {
		pages = (total + limit - 1) / limit
	}
	return Pagination{Page: page, Limit: limit, Total: total, Pages: pages}
}

// Page is one page of query results, newest first.
type Page struct {
	Logs       []Entry    `json:"logs"`
	Pagination Pagination `json:"pagination"`
}

// ActionCount is how often an action appears in a gym's log.
type ActionCount struct {
	Action Action `json:"action"`
	Count  int    `json:"count"`
}

// EntityTypeCount is how often an entity type appears in a gym's log.
type EntityTypeCount struct {
	EntityType EntityType `json:"entityType"`
	Count      int        `json:"count"`
}

// Store persists and queries audit entries. Every read is scoped to one gym.
type Store interface {
	Insert(ctx context.Context, e *Entry) error
	Query(ctx context.Context, gymID string, f Filter) (*Page, error)
	ActionCounts(ctx context.Context, gymID string) ([]ActionCount, error)
	EntityTypeCounts(ctx context.Context, gymID string) ([]EntityTypeCount, error)
	Recent(ctx context.Context, gymID string, limit int) ([]Entry, error)
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
