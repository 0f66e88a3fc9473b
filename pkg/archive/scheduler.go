package archive

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// Scheduler runs an Archiver on a cron schedule.
type Scheduler struct {
	cron     *cron.Cron
	archiver *Archiver
	timeout  time.Duration
}

// NewScheduler registers archiver under spec, a standard five-field cron
// expression evaluated in UTC. Each run is bounded by timeout when positive.
func NewScheduler(archiver *Archiver, spec string, timeout time.Duration) (*Scheduler, error) {
	s := &Scheduler{
		cron:     cron.New(cron.WithLocation(time.UTC)),
		archiver: archiver,
		timeout:  timeout,
	}
	if _, err := s.cron.AddFunc(spec, s.run); err != nil {
		return nil, fmt.Errorf("invalid archive schedule %q: %w", spec, err)
	}
	return s, nil
}

func (s *Scheduler) run() {
	ctx := context.Background()
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	defer func() {
		if rec := recover(); rec != nil {
			s.archiver.metrics.AuditArchiveRunsTotal.WithLabelValues("panic").Inc()
			s.archiver.logger.WithField("panic", fmt.Sprintf("%v", rec)).Error("Audit archive run panicked")
		}
	}()

	if _, err := s.archiver.RunOnce(ctx); err != nil {
		s.archiver.logger.WithError(err).Error("Audit archive run failed")
	}
}

// Start begins scheduling in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop prevents further runs and waits for a running one to finish or ctx
// to end.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Next reports when the next run is due.
func (s *Scheduler) Next() time.Time {
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}
