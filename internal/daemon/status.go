package daemon

import (
	"context"
	"time"

	"github.com/ZMB-UZH/omero-docker-extended/internal/journal"
	"github.com/ZMB-UZH/omero-docker-extended/internal/logfields"
	"github.com/ZMB-UZH/omero-docker-extended/internal/reconcile"
	"github.com/ZMB-UZH/omero-docker-extended/internal/version"
)

// StatusData is the /status payload.
type StatusData struct {
	Daemon      DaemonInfo          `json:"daemon"`
	LastRun     *reconcile.Result   `json:"last_run,omitempty"`
	LastAbort   string              `json:"last_abort,omitempty"`
	LastRunAt   *time.Time          `json:"last_run_at,omitempty"`
	NextSweepAt *time.Time          `json:"next_sweep_at,omitempty"`
	RecentRuns  []journal.RunRecord `json:"recent_runs,omitempty"`
}

// DaemonInfo holds basic daemon information
type DaemonInfo struct {
	Status        Status    `json:"status"`
	Version       string    `json:"version"`
	StartTime     time.Time `json:"start_time"`
	Uptime        string    `json:"uptime"`
	StatePath     string    `json:"state_path"`
	ManagedRoot   string    `json:"managed_root"`
	SweepInterval string    `json:"sweep_interval"`
}

// GenerateStatusData collects and formats status information
func (d *Daemon) GenerateStatusData(ctx context.Context) *StatusData {
	res, lastErr, at := d.lastOutcome()

	status := &StatusData{
		Daemon: DaemonInfo{
			Status:        d.GetStatus(),
			Version:       version.Version,
			StartTime:     d.startTime,
			Uptime:        time.Since(d.startTime).String(),
			StatePath:     d.cfg.StatePath,
			ManagedRoot:   d.cfg.ManagedRoot,
			SweepInterval: d.cfg.SweepIntervalDuration().String(),
		},
		LastRun:   res,
		LastAbort: lastErr,
	}
	if !at.IsZero() {
		status.LastRunAt = &at
	}
	if d.scheduler != nil {
		if next := d.scheduler.NextSweep(); !next.IsZero() {
			status.NextSweepAt = &next
		}
	}

	if d.history != nil {
		runs, err := d.history.Runs(ctx, 20)
		if err != nil {
			d.logger.Warn("Failed to read run history for status", logfields.Error(err))
		} else {
			status.RecentRuns = runs
		}
	}

	return status
}
