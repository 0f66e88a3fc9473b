package audit

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/liftoff-labs/gymcore/pkg/observability"
)

// Conns is the subset of storage.ConnectionManager the store needs.
type Conns interface {
	Primary() *sql.DB
	Replica() *sql.DB
}

const (
	DefaultRecentLimit = 20
	MaxRecentLimit     = 100
)

const entryColumns = `id, gym_id, actor_user_id, action, entity_type, entity_id, metadata, ip_address, created_at`

// SQLStore keeps entries in the audit_logs table. Writes use the primary
// connection and reads use a replica when one is configured.
type SQLStore struct {
	conns   Conns
	metrics *observability.Metrics
}

// NewSQLStore creates a store over conns. A nil metrics uses no-op collectors.
func NewSQLStore(conns Conns, metrics *observability.Metrics) *SQLStore {
	if metrics == nil {
		metrics = observability.NewNopMetrics()
	}
	return &SQLStore{conns: conns, metrics: metrics}
}

// Insert appends e. Entries are never updated afterwards.
func (s *SQLStore) Insert(ctx context.Context, e *Entry) error {
	if e.GymID == "" {
		return ErrGymRequired
	}

	metadata, err := json.Marshal(e.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	ctx, span := tracer.Start(ctx, "audit.SQLStore.Insert",
		trace.WithAttributes(attribute.String("db.table", "audit_logs")),
	)
	defer span.End()

	_, err = s.conns.Primary().ExecContext(ctx,
		`INSERT INTO audit_logs (`+entryColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		e.ID, e.GymID, e.ActorUserID, string(e.Action), string(e.EntityType),
		e.EntityID, string(metadata), e.IPAddress, e.CreatedAt.UTC(),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "insert failed")
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}
	return nil
}

// whereClause builds the gym-scoped predicate shared by the count and page
// queries. gym_id is always the first argument.
func whereClause(gymID string, f Filter) (string, []interface{}) {
	conds := []string{"gym_id = $1"}
	args := []interface{}{gymID}

	add := func(cond string, v interface{}) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if f.Action != "" {
		add("action = $%d", string(f.Action))
	}
	if f.EntityType != "" {
		add("entity_type = $%d", string(f.EntityType))
	}
	if f.EntityID != "" {
		add("entity_id = $%d", f.EntityID)
	}
	if f.ActorUserID != "" {
		add("actor_user_id = $%d", f.ActorUserID)
	}
	if f.FromDate != nil {
		add("created_at >= $%d", f.FromDate.UTC())
	}
	if f.ToDate != nil {
		add("created_at <= $%d", f.ToDate.UTC())
	}

	return " WHERE " + strings.Join(conds, " AND "), args
}

// Query returns one page of gymID's entries matching f, newest first.
func (s *SQLStore) Query(ctx context.Context, gymID string, f Filter) (*Page, error) {
	if gymID == "" {
		return nil, ErrGymRequired
	}
	f, err := f.Normalize()
	if err != nil {
		return nil, err
	}

	ctx, span := tracer.Start(ctx, "audit.SQLStore.Query",
		trace.WithAttributes(attribute.String("audit.gym_id", gymID)),
	)
	defer span.End()

	page, err := s.query(ctx, gymID, f)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "query failed")
		s.metrics.AuditQueriesTotal.WithLabelValues("query", "error").Inc()
		return nil, err
	}
	s.metrics.AuditQueriesTotal.WithLabelValues("query", "ok").Inc()
	return page, nil
}

func (s *SQLStore) query(ctx context.Context, gymID string, f Filter) (*Page, error) {
	db := s.conns.Replica()
	where, args := whereClause(gymID, f)

	var total int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM audit_logs`+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count audit entries: %w", err)
	}

	n := len(args)
	pageArgs := append(args, f.Limit, f.Offset())
	rows, err := db.QueryContext(ctx,
		fmt.Sprintf(`SELECT %s FROM audit_logs%s ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`,
			entryColumns, where, n+1, n+2),
		pageArgs...,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit entries: %w", err)
	}
	logs, err := scanEntries(rows)
	if err != nil {
		return nil, err
	}

	return &Page{Logs: logs, Pagination: NewPagination(f.Page, f.Limit, total)}, nil
}

// Recent returns the newest limit entries of gymID. limit defaults to 20
// and is capped at 100.
func (s *SQLStore) Recent(ctx context.Context, gymID string, limit int) ([]Entry, error) {
	if gymID == "" {
		return nil, ErrGymRequired
	}
	if limit < 1 {
		limit = DefaultRecentLimit
	}
	if limit > MaxRecentLimit {
		limit = MaxRecentLimit
	}

	rows, err := s.conns.Replica().QueryContext(ctx,
		`SELECT `+entryColumns+` FROM audit_logs WHERE gym_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2`,
		gymID, limit,
	)
	if err != nil {
		s.metrics.AuditQueriesTotal.WithLabelValues("recent", "error").Inc()
		return nil, fmt.Errorf("failed to query recent audit entries: %w", err)
	}
	entries, err := scanEntries(rows)
	if err != nil {
		s.metrics.AuditQueriesTotal.WithLabelValues("recent", "error").Inc()
		return nil, err
	}
	s.metrics.AuditQueriesTotal.WithLabelValues("recent", "ok").Inc()
	return entries, nil
}

// ActionCounts lists the actions present in gymID's log, most frequent first.
func (s *SQLStore) ActionCounts(ctx context.Context, gymID string) ([]ActionCount, error) {
	var out []ActionCount
	err := s.groupCount(ctx, gymID, "action", func(name string, n int) {
		out = append(out, ActionCount{Action: Action(name), Count: n})
	})
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []ActionCount{}
	}
	return out, nil
}

// EntityTypeCounts lists the entity types present in gymID's log, most
// frequent first.
func (s *SQLStore) EntityTypeCounts(ctx context.Context, gymID string) ([]EntityTypeCount, error) {
	var out []EntityTypeCount
	err := s.groupCount(ctx, gymID, "entity_type", func(name string, n int) {
		out = append(out, EntityTypeCount{EntityType: EntityType(name), Count: n})
	})
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []EntityTypeCount{}
	}
	return out, nil
}

// groupCount runs a GROUP BY over column, which must be a trusted
// identifier, never user input.
func (s *SQLStore) groupCount(ctx context.Context, gymID, column string, emit func(string, int)) error {
	if gymID == "" {
		return ErrGymRequired
	}

	rows, err := s.conns.Replica().QueryContext(ctx,
		fmt.Sprintf(`SELECT %[1]s, COUNT(*) AS n FROM audit_logs WHERE gym_id = $1 GROUP BY %[1]s ORDER BY n DESC, %[1]s ASC`, column),
		gymID,
	)
	if err != nil {
		s.metrics.AuditQueriesTotal.WithLabelValues(column+"_counts", "error").Inc()
		return fmt.Errorf("failed to count audit entries by %s: %w", column, err)
	}
	defer rows.Close()

	for rows.Next() {
		var name string
		var n int
		if err := rows.Scan(&name, &n); err != nil {
			return fmt.Errorf("failed to scan %s count: %w", column, err)
		}
		emit(name, n)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating %s counts: %w", column, err)
	}
	s.metrics.AuditQueriesTotal.WithLabelValues(column+"_counts", "ok").Inc()
	return nil
}

// GymIDs lists gyms with at least one entry created in [from, to).
func (s *SQLStore) GymIDs(ctx context.Context, from, to time.Time) ([]string, error) {
	rows, err := s.conns.Replica().QueryContext(ctx,
		`SELECT DISTINCT gym_id FROM audit_logs WHERE created_at >= $1 AND created_at < $2 ORDER BY gym_id`,
		from.UTC(), to.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list gyms with audit entries: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan gym id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func scanEntries(rows *sql.Rows) ([]Entry, error) {
	defer rows.Close()

	entries := make([]Entry, 0)
	for rows.Next() {
		var (
			e                   Entry
			actor, entityID, ip sql.NullString
			action, entityType  string
			metadata            []byte
		)
		if err := rows.Scan(&e.ID, &e.GymID, &actor, &action, &entityType, &entityID, &metadata, &ip, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		e.Action = Action(action)
		e.EntityType = EntityType(entityType)
		e.ActorUserID = fromNull(actor)
		e.EntityID = fromNull(entityID)
		e.IPAddress = fromNull(ip)
		e.CreatedAt = e.CreatedAt.UTC()

		e.Metadata = map[string]interface{}{}
		if len(metadata) > 0 {
			if err := decodeJSON(metadata, &e.Metadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
			}
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit entries: %w", err)
	}
	return entries, nil
}

func fromNull(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	return &ns.String
}

// decodeJSON decodes exactly one JSON value, keeping numbers as json.Number
// so integers beyond float64 precision survive a round trip.
func decodeJSON(data []byte, v interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if _, err := dec.Token(); err != io.EOF {
		return errors.New("unexpected data after JSON value")
	}
	return nil
}
