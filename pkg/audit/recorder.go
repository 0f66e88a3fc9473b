package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/liftoff-labs/gymcore/pkg/observability"
)

var tracer = otel.Tracer("github.com/liftoff-labs/gymcore/pkg/audit")

// Recorder validates events and appends them to a Store.
type Recorder struct {
	store   Store
	now     func() time.Time
	newID   func() string
	metrics *observability.Metrics
}

// RecorderOption configures a Recorder.
type RecorderOption func(*Recorder)

// WithClock overrides time.Now. Timestamps are always stored in UTC.
func WithClock(now func() time.Time) RecorderOption {
	return func(r *Recorder) { r.now = now }
}

// WithIDGenerator overrides uuid generation.
func WithIDGenerator(newID func() string) RecorderOption {
	return func(r *Recorder) { r.newID = newID }
}

// WithMetrics records write outcomes and latency.
func WithMetrics(m *observability.Metrics) RecorderOption {
	return func(r *Recorder) { r.metrics = m }
}

// NewRecorder creates a Recorder writing to store.
func NewRecorder(store Store, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		store:   store,
		now:     time.Now,
		newID:   func() string { return uuid.New().String() },
		metrics: observability.NewNopMetrics(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Store returns the backing store, for read paths that share the recorder.
func (r *Recorder) Store() Store {
	return r.store
}

// Record appends one entry for gymID. A nil actorUserID marks a
// system-initiated action. The written entry is returned.
func (r *Recorder) Record(ctx context.Context, gymID string, actorUserID *string, ev Event, ip *string) (*Entry, error) {
	if gymID == "" {
		return nil, ErrGymRequired
	}
	if !ev.Action.Valid() {
		return nil, fmt.Errorf("%w: unknown action %q", ErrInvalidEntry, ev.Action)
	}
	if !ev.EntityType.Valid() {
		return nil, fmt.Errorf("%w: unknown entity type %q", ErrInvalidEntry, ev.EntityType)
	}

	metadata := ev.Metadata
	if metadata == nil {
		metadata = map[string]interface{}{}
	}

	entry := &Entry{
		ID:          r.newID(),
		GymID:       gymID,
		ActorUserID: nonEmpty(actorUserID),
		Action:      ev.Action,
		EntityType:  ev.EntityType,
		EntityID:    nonEmpty(ev.EntityID),
		Metadata:    metadata,
		IPAddress:   nonEmpty(ip),
		CreatedAt:   r.now().UTC(),
	}

	ctx, span := tracer.Start(ctx, "audit.Record",
		trace.WithAttributes(
			attribute.String("audit.gym_id", gymID),
			attribute.String("audit.action", string(ev.Action)),
		),
	)
	defer span.End()

	start := time.Now()
	err := r.store.Insert(ctx, entry)
	r.metrics.AuditWriteDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		r.metrics.AuditWritesTotal.WithLabelValues(string(ev.Action), "error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "audit insert failed")
		return nil, fmt.Errorf("failed to record audit entry: %w", err)
	}

	r.metrics.AuditWritesTotal.WithLabelValues(string(ev.Action), "ok").Inc()
	return entry, nil
}

func nonEmpty(s *string) *string {
	if s == nil || *s == "" {
		return nil
	}
	v := *s
	return &v
}
