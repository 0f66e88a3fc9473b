package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/liftoff-labs/gymcore/pkg/audit"
	"github.com/liftoff-labs/gymcore/pkg/observability"
)

// ObjectPutter stores one object. storage.S3Client satisfies it.
type ObjectPutter interface {
	PutObject(ctx context.Context, key string, content io.Reader, contentType string) error
}

// Source lists the gyms active in a window and reads their entries.
type Source interface {
	audit.Store
	GymIDs(ctx context.Context, from, to time.Time) ([]string, error)
}

// DefaultMaxRows bounds one gym's archive object.
const DefaultMaxRows = 1_000_000

// Config controls what one run exports.
type Config struct {
	Prefix      string
	Window      time.Duration
	Concurrency int
	MaxRows     int
}

// Result summarizes one run.
type Result struct {
	From    time.Time
	To      time.Time
	Objects []string
	Entries int
	Failed  []string
}

// Archiver copies each gym's audit entries for a window into object storage,
// one NDJSON object per gym.
type Archiver struct {
	source  Source
	sink    ObjectPutter
	cfg     Config
	now     func() time.Time
	metrics *observability.Metrics
	logger  *observability.Logger
}

// Option configures an Archiver.
type Option func(*Archiver)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(a *Archiver) { a.now = now }
}

// WithMetrics counts runs by outcome.
func WithMetrics(m *observability.Metrics) Option {
	return func(a *Archiver) { a.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *observability.Logger) Option {
	return func(a *Archiver) { a.logger = l }
}

// New creates an Archiver. Zero config values take defaults: one day
// windows, four gyms at a time and an "audit" prefix.
func New(source Source, sink ObjectPutter, cfg Config, opts ...Option) *Archiver {
	if cfg.Prefix == "" {
		cfg.Prefix = "audit"
	}
	if cfg.Window <= 0 {
		cfg.Window = 24 * time.Hour
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.MaxRows <= 0 {
		cfg.MaxRows = DefaultMaxRows
	}
	a := &Archiver{
		source:  source,
		sink:    sink,
		cfg:     cfg,
		now:     time.Now,
		metrics: observability.NewNopMetrics(),
		logger:  observability.GetLogger(context.Background()),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.WithField("component", "archive")
	return a
}

// LastWindow is the most recent complete window, ending at midnight UTC.
func (a *Archiver) LastWindow() (time.Time, time.Time) {
	now := a.now().UTC()
	end := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return end.Add(-a.cfg.Window), end
}

// ObjectKey names the object holding gymID's entries for the window
// starting at from.
func (a *Archiver) ObjectKey(gymID string, from time.Time) string {
	return path.Join(a.cfg.Prefix, gymID, from.UTC().Format("2006-01-02")+".ndjson")
}

// RunOnce archives the last complete window.
func (a *Archiver) RunOnce(ctx context.Context) (*Result, error) {
	from, to := a.LastWindow()
	return a.Run(ctx, from, to)
}

// Run archives entries created in [from, to). A failing gym does not stop
// the others; the returned error joins every failure.
func (a *Archiver) Run(ctx context.Context, from, to time.Time) (*Result, error) {
	res := &Result{From: from.UTC(), To: to.UTC()}
	log := a.logger.WithFields(map[string]interface{}{
		"from": res.From.Format(time.RFC3339),
		"to":   res.To.Format(time.RFC3339),
	})

	gymIDs, err := a.source.GymIDs(ctx, from, to)
	if err != nil {
		a.metrics.AuditArchiveRunsTotal.WithLabelValues("error").Inc()
		return res, fmt.Errorf("failed to list gyms to archive: %w", err)
	}

	var (
		mu   sync.Mutex
		errs []error
		g    errgroup.Group
	)
	g.SetLimit(a.cfg.Concurrency)

	for _, gymID := range gymIDs {
		gymID := gymID
		g.Go(func() error {
			key, n, err := a.archiveGym(ctx, gymID, from, to)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				res.Failed = append(res.Failed, gymID)
				errs = append(errs, fmt.Errorf("gym %s: %w", gymID, err))
				log.WithError(err).WithField("gym_id", gymID).Error("Failed to archive gym audit entries")
				return nil
			}
			res.Objects = append(res.Objects, key)
			res.Entries += n
			return nil
		})
	}
	_ = g.Wait()

	if len(errs) > 0 {
		a.metrics.AuditArchiveRunsTotal.WithLabelValues("partial").Inc()
		return res, errors.Join(errs...)
	}

	a.metrics.AuditArchiveRunsTotal.WithLabelValues("ok").Inc()
	log.WithFields(map[string]interface{}{
		"gyms":    len(res.Objects),
		"entries": res.Entries,
	}).Info("Audit archive completed")
	return res, nil
}

func (a *Archiver) archiveGym(ctx context.Context, gymID string, from, to time.Time) (string, int, error) {
	// ToDate is inclusive; stop just short of the window end.
	last := to.Add(-time.Nanosecond)
	filter := audit.Filter{FromDate: &from, ToDate: &last}

	var buf bytes.Buffer
	w := audit.NewEntryWriter(audit.ExportNDJSON, &buf)
	n := 0
	err := audit.Walk(ctx, a.source, gymID, filter, a.cfg.MaxRows, func(e audit.Entry) error {
		n++
		return w.Write(e)
	})
	if err != nil {
		return "", 0, err
	}
	if err := w.Close(); err != nil {
		return "", 0, err
	}
	if n == a.cfg.MaxRows {
		a.logger.WithField("gym_id", gymID).Warnf("Archive object truncated at %d entries", n)
	}

	key := a.ObjectKey(gymID, from)
	if err := a.sink.PutObject(ctx, key, &buf, audit.ExportNDJSON.ContentType()); err != nil {
		return "", 0, err
	}
	return key, n, nil
}
