package daemon

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ZMB-UZH/omero-docker-extended/internal/journal"
	"github.com/ZMB-UZH/omero-docker-extended/internal/reconcile"
)

// TestGenerateStatusData_BasicInfo tests basic daemon info generation.
func TestGenerateStatusData_BasicInfo(t *testing.T) {
	d := newTestDaemon(t, &stubRunner{})
	d.status.Store(StatusRunning)
	d.startTime = time.Now().Add(-1 * time.Hour)

	data := d.GenerateStatusData(context.Background())

	if data.Daemon.Status != StatusRunning {
		t.Errorf("expected status %s, got %s", StatusRunning, data.Daemon.Status)
	}
	if data.Daemon.Uptime == "" {
		t.Error("expected uptime to be set")
	}
	if data.Daemon.Version == "" {
		t.Error("expected version to be set")
	}
	if data.Daemon.StatePath != d.cfg.StatePath {
		t.Errorf("expected state path %s, got %s", d.cfg.StatePath, data.Daemon.StatePath)
	}
	if data.Daemon.SweepInterval != d.cfg.SweepIntervalDuration().String() {
		t.Errorf("unexpected sweep interval: %s", data.Daemon.SweepInterval)
	}
	if data.LastRun != nil || data.LastRunAt != nil {
		t.Error("expected no run outcome before the first run")
	}
}

func TestGenerateStatusData_LastRunOutcome(t *testing.T) {
	runner := &stubRunner{res: convergedResult()}
	d := newTestDaemon(t, runner)
	d.runOnce(context.Background(), reconcile.TriggerManual)

	data := d.GenerateStatusData(context.Background())

	if data.LastRun == nil || data.LastRun.RunID != "run-1" {
		t.Fatalf("expected last run to be recorded, got %+v", data.LastRun)
	}
	if data.LastRunAt == nil {
		t.Error("expected last run time to be set")
	}
	if data.LastAbort != "" {
		t.Errorf("expected no abort message, got %q", data.LastAbort)
	}
}

func TestGenerateStatusData_IncludesRecentRuns(t *testing.T) {
	history := &stubHistory{runs: []journal.RunRecord{
		{RunID: "run-2", Trigger: "sweep", Outcome: "success"},
		{RunID: "run-1", Trigger: "manual", Outcome: "partial"},
	}}
	d, err := New(testConfig(t), Deps{Runner: &stubRunner{}, History: history, Logger: quietLogger()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	data := d.GenerateStatusData(context.Background())

	if len(data.RecentRuns) != 2 {
		t.Fatalf("expected 2 recent runs, got %d", len(data.RecentRuns))
	}
	if data.RecentRuns[0].RunID != "run-2" {
		t.Errorf("expected newest run first, got %s", data.RecentRuns[0].RunID)
	}
}

func TestGenerateStatusData_HistoryErrorIsNotFatal(t *testing.T) {
	history := &stubHistory{err: errors.New("database locked")}
	d, err := New(testConfig(t), Deps{Runner: &stubRunner{}, History: history, Logger: quietLogger()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	data := d.GenerateStatusData(context.Background())

	if data.RecentRuns != nil {
		t.Errorf("expected no recent runs on history error, got %+v", data.RecentRuns)
	}
	if data.Daemon.StatePath == "" {
		t.Error("expected daemon info despite history error")
	}
}
