package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	prom "github.com/prometheus/client_golang/prometheus"

	"github.com/ZMB-UZH/omero-docker-extended/internal/config"
	"github.com/ZMB-UZH/omero-docker-extended/internal/daemon"
	qerrors "github.com/ZMB-UZH/omero-docker-extended/internal/errors"
	"github.com/ZMB-UZH/omero-docker-extended/internal/events"
	"github.com/ZMB-UZH/omero-docker-extended/internal/journal"
	"github.com/ZMB-UZH/omero-docker-extended/internal/logfields"
	"github.com/ZMB-UZH/omero-docker-extended/internal/metrics"
	"github.com/ZMB-UZH/omero-docker-extended/internal/projmap"
	"github.com/ZMB-UZH/omero-docker-extended/internal/quotaops"
	"github.com/ZMB-UZH/omero-docker-extended/internal/reconcile"
	"github.com/ZMB-UZH/omero-docker-extended/internal/runlock"
	"github.com/ZMB-UZH/omero-docker-extended/internal/statedoc"
)

// buildSinks opens the run journal and, when enabled, the event publisher.
// The returned cleanup closes everything in reverse order.
func buildSinks(cfg *config.Config) ([]reconcile.Sink, *journal.Journal, func(), error) {
	jnl, err := journal.Open(cfg.JournalPath())
	if err != nil {
		return nil, nil, nil, err
	}

	sinks := []reconcile.Sink{jnl}
	closers := []func(){func() { _ = jnl.Close() }}

	if cfg.Events.Enabled {
		pub := events.NewPublisher(cfg.Events, slog.Default())
		sinks = append(sinks, pub)
		closers = append(closers, func() { _ = pub.Close() })
	}

	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	return sinks, jnl, cleanup, nil
}

func runEnforce(cfg *config.Config) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	sinks, _, closeSinks, err := buildSinks(cfg)
	if err != nil {
		return err
	}
	defer closeSinks()

	engine := reconcile.New(cfg, reconcile.Deps{Sinks: sinks})
	res, err := engine.Run(ctx, reconcile.TriggerManual)
	if errors.Is(err, runlock.ErrBusy) {
		return qerrors.New(qerrors.CategoryLock, qerrors.SeverityError,
			"another enforcement run holds the lock")
	}
	if err != nil {
		return err
	}

	if !res.Converged() {
		return qerrors.New(qerrors.CategoryApply, qerrors.SeverityError,
			fmt.Sprintf("run did not converge: %s, %d stale cleanup failures",
				res.Summary(), res.FailedStale))
	}
	slog.Info("Reconciliation converged",
		"summary", res.Summary(), "cleaned_stale", res.CleanedStale)
	return nil
}

func runDaemon(cfg *config.Config) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	sinks, jnl, closeSinks, err := buildSinks(cfg)
	if err != nil {
		return err
	}
	defer closeSinks()

	var registry *prom.Registry
	var rec metrics.Recorder
	if cfg.Metrics.Enabled {
		registry = prom.NewRegistry()
		rec = metrics.NewPrometheusRecorder(registry)
	}

	engine := reconcile.New(cfg, reconcile.Deps{Metrics: rec, Sinks: sinks})

	d, err := daemon.New(cfg, daemon.Deps{
		Runner:   engine,
		History:  jnl,
		Registry: registry,
	})
	if err != nil {
		return err
	}
	return d.Run(ctx)
}

// mappingStatus is one row of the status table: a group the agent tracks,
// classified by whether the desired state still wants it.
type mappingStatus struct {
	Group     string  `json:"group"`
	ProjectID uint32  `json:"project_id,omitempty"`
	Path      string  `json:"path,omitempty"`
	QuotaGB   float64 `json:"quota_gb,omitempty"`
	State     string  `json:"state"` // active, stale, or pending
}

type statusReport struct {
	Mappings   []mappingStatus     `json:"mappings"`
	LastRun    *journal.RunRecord  `json:"last_run,omitempty"`
	RecentRuns []journal.RunRecord `json:"recent_runs,omitempty"`
}

func runStatus(cfg *config.Config, asJSON bool) error {
	ctx := context.Background()

	quotas := map[string]float64{}
	if doc, err := statedoc.Read(cfg.StatePath); err == nil {
		quotas = doc.QuotasGB
	} else {
		slog.Warn("Desired state document unavailable", logfields.Error(err))
	}

	store, err := projmap.Open(cfg.GroupsMapPath(), cfg.PathsMapPath())
	if err != nil {
		return err
	}

	report := statusReport{Mappings: collectMappings(store.Snapshot(), quotas)}

	jnl, err := journal.Open(cfg.JournalPath())
	if err != nil {
		return err
	}
	defer func() { _ = jnl.Close() }()

	if last, err := jnl.LastRun(ctx); err != nil {
		slog.Warn("Run journal unavailable", logfields.Error(err))
	} else {
		report.LastRun = last
	}
	if runs, err := jnl.Runs(ctx, 5); err == nil {
		report.RecentRuns = runs
	}

	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	printStatus(os.Stdout, report)
	return nil
}

// collectMappings merges the mapping rows with the desired quotas: mapped
// and desired is active, mapped but no longer desired is stale, desired but
// not yet mapped is pending.
func collectMappings(rows []projmap.Row, quotas map[string]float64) []mappingStatus {
	mapped := make(map[string]bool, len(rows))
	out := make([]mappingStatus, 0, len(rows)+len(quotas))

	for _, row := range rows {
		mapped[row.Group] = true
		m := mappingStatus{Group: row.Group, ProjectID: row.ProjectID, Path: row.Path}
		if gb, ok := quotas[row.Group]; ok {
			m.QuotaGB = gb
			m.State = "active"
		} else {
			m.State = "stale"
		}
		out = append(out, m)
	}

	pending := make([]string, 0)
	for group := range quotas {
		if !mapped[group] {
			pending = append(pending, group)
		}
	}
	sort.Strings(pending)
	for _, group := range pending {
		out = append(out, mappingStatus{Group: group, QuotaGB: quotas[group], State: "pending"})
	}
	return out
}

func printStatus(out io.Writer, report statusReport) {
	if len(report.Mappings) == 0 {
		fmt.Fprintln(out, "No groups under management.")
	} else {
		w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "GROUP\tID\tQUOTA\tSTATE\tPATH")
		for _, m := range report.Mappings {
			id, quota := "-", "-"
			if m.ProjectID != 0 {
				id = fmt.Sprintf("%d", m.ProjectID)
			}
			if m.QuotaGB != 0 {
				quota = humanize.IBytes(quotaops.BlocksForGB(m.QuotaGB) * 1024)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", m.Group, id, quota, m.State, m.Path)
		}
		_ = w.Flush()
	}

	if report.LastRun == nil {
		fmt.Fprintln(out, "\nNo reconciliation runs recorded yet.")
		return
	}

	last := report.LastRun
	fmt.Fprintf(out, "\nLast run %s (%s, trigger %s): %d applied, %d failed, %d stale cleaned\n",
		last.RunID, humanize.Time(last.StartedAt), last.Trigger,
		last.Applied, last.Failed, last.CleanedStale)

	if len(report.RecentRuns) > 1 {
		fmt.Fprintln(out, "\nRecent runs:")
		for _, r := range report.RecentRuns {
			fmt.Fprintf(out, "  %s  %-7s %-7s %d applied, %d failed\n",
				r.StartedAt.Format("2006-01-02 15:04:05"), r.Trigger, r.Outcome,
				r.Applied, r.Failed)
		}
	}
}

func runSet(cfg *config.Config, group string, quotaGB float64, del bool) error {
	if del {
		if err := statedoc.Upsert(cfg.StatePath, statedoc.Changes{Delete: []string{group}}, cfg.MinQuotaGB); err != nil {
			return err
		}
		slog.Info("Group removed from desired state",
			logfields.Group(group), logfields.Path(cfg.StatePath))
		return nil
	}

	if quotaGB == 0 {
		return fmt.Errorf("quota in GB required (or pass --delete to remove the group)")
	}

	if err := statedoc.Upsert(cfg.StatePath, statedoc.Changes{Set: map[string]float64{group: quotaGB}}, cfg.MinQuotaGB); err != nil {
		return err
	}
	slog.Info("Desired quota updated",
		logfields.Group(group), logfields.QuotaGB(quotaGB), logfields.Path(cfg.StatePath))
	return nil
}

func runImport(cfg *config.Config, csvPath string) error {
	f, err := os.Open(csvPath)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	quotas, err := statedoc.ParseCSV(f)
	if err != nil {
		return err
	}
	if len(quotas) == 0 {
		slog.Warn("CSV contains no groups, desired state unchanged", logfields.Path(csvPath))
		return nil
	}

	if err := statedoc.Upsert(cfg.StatePath, statedoc.Changes{Set: quotas}, cfg.MinQuotaGB); err != nil {
		return err
	}
	slog.Info("Imported desired quotas",
		logfields.Count(len(quotas)), logfields.Path(cfg.StatePath))
	return nil
}

func runTemplate(cfg *config.Config, outputPath string) error {
	quotas := map[string]float64{}
	if _, err := os.Stat(cfg.StatePath); err == nil {
		doc, err := statedoc.Read(cfg.StatePath)
		if err != nil {
			return err
		}
		quotas = doc.QuotasGB
	}

	out := os.Stdout
	if outputPath != "" {
		f, err := os.Create(outputPath)
		if err != nil {
			return err
		}
		defer func() { _ = f.Close() }()
		out = f
	}

	return statedoc.WriteCSV(out, quotas)
}
