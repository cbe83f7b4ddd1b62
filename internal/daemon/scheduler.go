package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/ZMB-UZH/omero-docker-extended/internal/logfields"
	"github.com/ZMB-UZH/omero-docker-extended/internal/reconcile"
)

// Scheduler wraps gocron for the fallback sweep. The sweep catches desired
// state changes the file watcher missed (agent restarts, missed inotify
// events, state edited while the daemon was down).
type Scheduler struct {
	scheduler gocron.Scheduler
	sweepJob  gocron.Job
	runFn     func(trigger string)
}

// NewScheduler creates a new scheduler instance.
func NewScheduler() (*Scheduler, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create gocron scheduler: %w", err)
	}

	return &Scheduler{
		scheduler: s,
	}, nil
}

// SetRunFunc injects the reconcile trigger callback.
func (s *Scheduler) SetRunFunc(f func(trigger string)) { s.runFn = f }

// Start begins the scheduler.
func (s *Scheduler) Start(ctx context.Context) {
	slog.Info("Starting sweep scheduler")
	s.scheduler.Start()
}

// Stop gracefully shuts down the scheduler.
func (s *Scheduler) Stop(ctx context.Context) error {
	slog.Info("Stopping sweep scheduler")
	return s.scheduler.Shutdown()
}

// ScheduleSweep registers the periodic fallback reconcile.
// Returns the job ID for later management.
func (s *Scheduler) ScheduleSweep(interval time.Duration) (string, error) {
	job, err := s.scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(s.executeSweep),
		gocron.WithName("quota-sweep"),
	)
	if err != nil {
		return "", fmt.Errorf("failed to create sweep job: %w", err)
	}

	s.sweepJob = job
	return job.ID().String(), nil
}

// NextSweep reports when the next scheduled sweep will fire. The zero time
// means no sweep is scheduled (or the scheduler has not started yet).
func (s *Scheduler) NextSweep() time.Time {
	if s.sweepJob == nil {
		return time.Time{}
	}
	next, err := s.sweepJob.NextRun()
	if err != nil {
		return time.Time{}
	}
	return next
}

// executeSweep is called by gocron on every sweep tick.
func (s *Scheduler) executeSweep() {
	if s.runFn == nil {
		slog.Error("Scheduler run callback not set")
		return
	}

	slog.Debug("Executing scheduled sweep",
		logfields.Trigger(reconcile.TriggerSweep))
	s.runFn(reconcile.TriggerSweep)
}
