// Package scheduler runs the periodic background jobs of the service on cron
// schedules.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"

	"wasteroute/internal/lifecycle"
	"wasteroute/internal/metrics"
	"wasteroute/internal/model"
)

// ErrSkipped marks a run that found nothing to do.
var ErrSkipped = errors.New("nothing to do")

// Job is one scheduled unit of work. An empty Schedule disables the job.
type Job struct {
	Name     string
	Schedule string
	Timeout  time.Duration
	Run      func(ctx context.Context) error
}

type Scheduler struct {
	cron *cron.Cron
	jobs []Job
}

// New validates the schedules of the enabled jobs.
func New(jobs ...Job) (*Scheduler, error) {
	l := cron.PrintfLogger(log.StandardLogger())
	s := &Scheduler{cron: cron.New(cron.WithChain(cron.Recover(l), cron.SkipIfStillRunning(l)))}
	for _, j := range jobs {
		if j.Schedule == "" {
			log.WithField("job", j.Name).Info("scheduled job disabled")
			continue
		}
		j := j
		if _, err := s.cron.AddFunc(j.Schedule, func() { RunOnce(context.Background(), j) }); err != nil {
			return nil, fmt.Errorf("job %s: bad schedule %q: %w", j.Name, j.Schedule, err)
		}
		s.jobs = append(s.jobs, j)
	}
	return s, nil
}

// Jobs returns the enabled jobs.
func (s *Scheduler) Jobs() []Job { return s.jobs }

func (s *Scheduler) Start() {
	s.cron.Start()
	for _, j := range s.jobs {
		log.WithFields(log.Fields{"job": j.Name, "schedule": j.Schedule}).Info("scheduled job registered")
	}
}

// Stop stops the scheduler and waits for running jobs until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) {
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
		log.Warn("scheduler stop timed out with jobs still running")
	}
}

// RunOnce executes j, records its outcome and returns the result label.
func RunOnce(ctx context.Context, j Job) string {
	timeout := j.Timeout
	if timeout <= 0 {
		timeout = time.Minute
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	start := time.Now()
	err := j.Run(ctx)
	result := "ok"
	entry := log.WithFields(log.Fields{"job": j.Name, "took": time.Since(start).String()})
	switch {
	case err == nil:
		entry.Debug("scheduled job done")
	case errors.Is(err, ErrSkipped):
		result = "skipped"
		entry.WithError(err).Debug("scheduled job skipped")
	default:
		result = "error"
		entry.WithError(err).Error("scheduled job failed")
	}
	metrics.SchedulerRuns.WithLabelValues(j.Name, result).Inc()
	return result
}

// Generator creates a route from pending kiosk orders.
type Generator interface {
	AutoGenerate(ctx context.Context) (model.Route, error)
}

// AutogenJob generates a collection route on schedule. Having no garbage
// point above the fill threshold, or losing the orders to a concurrent
// manual run, is a skip, not a failure.
func AutogenJob(schedule string, g Generator) Job {
	return Job{
		Name:     "autogen",
		Schedule: schedule,
		Run: func(ctx context.Context) error {
			_, err := g.AutoGenerate(ctx)
			if errors.Is(err, lifecycle.ErrInvalid) || errors.Is(err, lifecycle.ErrConflict) {
				return fmt.Errorf("%w: %v", ErrSkipped, err)
			}
			return err
		},
	}
}

// Housekeeper drops rows that are no longer needed.
type Housekeeper interface {
	PurgeWebhookDeliveries(ctx context.Context, before time.Time) (int, error)
	PurgeRevokedSessions(ctx context.Context, before time.Time) (int, error)
}

// HousekeepingJob purges finished webhook deliveries older than retention and
// revocations of sessions that have expired anyway.
func HousekeepingJob(schedule string, h Housekeeper, retention time.Duration, now func() time.Time) Job {
	if now == nil {
		now = time.Now
	}
	return Job{
		Name:     "housekeeping",
		Schedule: schedule,
		Run: func(ctx context.Context) error {
			t := now().UTC()
			deliveries, err := h.PurgeWebhookDeliveries(ctx, t.Add(-retention))
			if err != nil {
				return fmt.Errorf("purge webhook deliveries: %w", err)
			}
			sessions, err := h.PurgeRevokedSessions(ctx, t)
			if err != nil {
				return fmt.Errorf("purge revoked sessions: %w", err)
			}
			if deliveries+sessions > 0 {
				log.WithFields(log.Fields{"deliveries": deliveries, "sessions": sessions}).Info("housekeeping purged rows")
			}
			return nil
		},
	}
}
