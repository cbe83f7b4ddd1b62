// Package daemon keeps the reconciliation engine running: a fallback sweep
// on an interval, a watcher on the desired-state document, and an optional
// admin HTTP endpoint for health, status, and metrics.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/ZMB-UZH/omero-docker-extended/internal/config"
	"github.com/ZMB-UZH/omero-docker-extended/internal/journal"
	"github.com/ZMB-UZH/omero-docker-extended/internal/logfields"
	"github.com/ZMB-UZH/omero-docker-extended/internal/reconcile"
	"github.com/ZMB-UZH/omero-docker-extended/internal/runlock"
)

// Status represents the current state of the daemon
type Status string

const (
	StatusStopped  Status = "stopped"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusStopping Status = "stopping"
)

// Runner executes one reconciliation pass.
type Runner interface {
	Run(ctx context.Context, trigger string) (*reconcile.Result, error)
}

// RunHistory reads stored run summaries for the status endpoint.
type RunHistory interface {
	LastRun(ctx context.Context) (*journal.RunRecord, error)
	Runs(ctx context.Context, limit int) ([]journal.RunRecord, error)
}

// Deps bundles the daemon's collaborators.
type Deps struct {
	Runner   Runner
	History  RunHistory // optional
	Registry *prom.Registry
	Logger   *slog.Logger
}

// Daemon drives reconciliation from its triggers.
type Daemon struct {
	cfg      *config.Config
	runner   Runner
	history  RunHistory
	registry *prom.Registry
	logger   *slog.Logger

	status    atomic.Value // Status
	startTime time.Time

	scheduler *Scheduler
	watcher   *StateWatcher

	mu         sync.RWMutex
	lastResult *reconcile.Result
	lastError  string
	lastRunAt  time.Time
}

// New creates a daemon instance.
func New(cfg *config.Config, deps Deps) (*Daemon, error) {
	if cfg == nil {
		return nil, fmt.Errorf("configuration is required")
	}
	if deps.Runner == nil {
		return nil, fmt.Errorf("reconcile runner is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	d := &Daemon{
		cfg:      cfg,
		runner:   deps.Runner,
		history:  deps.History,
		registry: deps.Registry,
		logger:   logger,
	}
	d.status.Store(StatusStopped)
	return d, nil
}

// GetStatus returns the daemon's lifecycle state.
func (d *Daemon) GetStatus() Status {
	return d.status.Load().(Status)
}

// Run starts all triggers and blocks until ctx is cancelled. The first
// reconciliation happens immediately so a restart converges without waiting
// for the sweep interval.
func (d *Daemon) Run(ctx context.Context) error {
	d.status.Store(StatusStarting)
	d.startTime = time.Now()

	scheduler, err := NewScheduler()
	if err != nil {
		return err
	}
	d.scheduler = scheduler
	scheduler.SetRunFunc(func(trigger string) { d.runOnce(ctx, trigger) })
	if _, err := scheduler.ScheduleSweep(d.cfg.SweepIntervalDuration()); err != nil {
		return err
	}

	watcher, err := NewStateWatcher(d.cfg.StatePath, d.cfg.DebounceDuration(),
		func(trigger string) { d.runOnce(ctx, trigger) })
	if err != nil {
		return err
	}
	d.watcher = watcher

	g, gctx := errgroup.WithContext(ctx)

	scheduler.Start(gctx)
	if err := watcher.Start(gctx); err != nil {
		_ = scheduler.Stop(context.Background())
		return err
	}

	var httpServer *http.Server
	if d.cfg.Metrics.Enabled {
		httpServer = &http.Server{
			Addr:              d.cfg.Metrics.Listen,
			Handler:           d.adminHandler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			d.logger.Info("Admin endpoint listening", "listen", d.cfg.Metrics.Listen)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("admin endpoint: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		d.status.Store(StatusStopping)
		d.logger.Info("Shutting down daemon")

		if httpServer != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				d.logger.Error("Admin endpoint shutdown failed", logfields.Error(err))
			}
		}
		if err := watcher.Stop(context.Background()); err != nil {
			d.logger.Error("Watcher stop failed", logfields.Error(err))
		}
		if err := scheduler.Stop(context.Background()); err != nil {
			d.logger.Error("Scheduler stop failed", logfields.Error(err))
		}
		return nil
	})

	d.status.Store(StatusRunning)
	d.logger.Info("Daemon started",
		"sweep_interval", d.cfg.SweepIntervalDuration().String(),
		"state_path", d.cfg.StatePath)

	// Converge immediately; the state may have changed while we were down.
	d.runOnce(gctx, reconcile.TriggerSweep)

	err = g.Wait()
	d.status.Store(StatusStopped)
	return err
}

// runOnce executes one reconciliation and records the outcome for the
// status endpoint. A busy lock means another trigger is already running a
// pass, which is not an error.
func (d *Daemon) runOnce(ctx context.Context, trigger string) {
	if ctx.Err() != nil {
		return
	}

	res, err := d.runner.Run(ctx, trigger)
	switch {
	case errors.Is(err, runlock.ErrBusy):
		d.logger.Debug("Reconciliation already in progress, skipping trigger",
			logfields.Trigger(trigger))
	case err != nil:
		d.logger.Error("Reconciliation run aborted",
			logfields.Trigger(trigger), logfields.Error(err))
		d.mu.Lock()
		d.lastError = err.Error()
		d.lastRunAt = time.Now()
		d.mu.Unlock()
	default:
		d.mu.Lock()
		d.lastResult = res
		d.lastError = ""
		d.lastRunAt = time.Now()
		d.mu.Unlock()
	}
}

// lastOutcome returns the most recent run result and abort error, if any.
func (d *Daemon) lastOutcome() (*reconcile.Result, string, time.Time) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.lastResult, d.lastError, d.lastRunAt
}
