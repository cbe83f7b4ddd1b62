// Package reconcile converges on-disk project quota state onto the desired
// state document. One run is one full pass: stale mappings are cleaned up
// first, then every desired group is applied independently, so a single bad
// group never blocks the rest of the fleet.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/ZMB-UZH/omero-docker-extended/internal/config"
	qerrors "github.com/ZMB-UZH/omero-docker-extended/internal/errors"
	"github.com/ZMB-UZH/omero-docker-extended/internal/fscompat"
	"github.com/ZMB-UZH/omero-docker-extended/internal/logfields"
	"github.com/ZMB-UZH/omero-docker-extended/internal/metrics"
	"github.com/ZMB-UZH/omero-docker-extended/internal/projmap"
	"github.com/ZMB-UZH/omero-docker-extended/internal/quotaops"
	"github.com/ZMB-UZH/omero-docker-extended/internal/retag"
	"github.com/ZMB-UZH/omero-docker-extended/internal/runlock"
	"github.com/ZMB-UZH/omero-docker-extended/internal/statedoc"
)

// Gate abstracts the filesystem precondition check so runs can be tested
// without a real ext4 mount.
type Gate interface {
	Check(ctx context.Context, managedRoot string) (*fscompat.Mount, error)
	SameMount(path string, mount *fscompat.Mount) bool
}

// Sink receives the finished result of every run. Sink failures are logged
// and never fail the run itself.
type Sink interface {
	RecordRun(ctx context.Context, res *Result) error
}

// Deps bundles the engine's collaborators. Zero-value fields get production
// defaults in New.
type Deps struct {
	Backend quotaops.Backend
	Gate    Gate
	Lock    *runlock.Lock
	Metrics metrics.Recorder
	Sinks   []Sink
	Logger  *slog.Logger
}

// Engine runs reconciliation passes. Safe for concurrent use; the run lock
// serializes actual passes.
type Engine struct {
	cfg     *config.Config
	backend quotaops.Backend
	gate    Gate
	lock    *runlock.Lock
	rec     metrics.Recorder
	sinks   []Sink
	logger  *slog.Logger
}

// New builds an engine for cfg, filling in production defaults for any
// dependency not supplied.
func New(cfg *config.Config, deps Deps) *Engine {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		cfg:     cfg,
		backend: deps.Backend,
		gate:    deps.Gate,
		lock:    deps.Lock,
		rec:     deps.Metrics,
		sinks:   deps.Sinks,
		logger:  logger,
	}
	if e.backend == nil {
		e.backend = quotaops.NewExecBackend(logger)
	}
	if e.gate == nil {
		e.gate = fscompat.NewChecker(logger)
	}
	if e.lock == nil {
		e.lock = runlock.New(cfg.LockPath())
	}
	if e.rec == nil {
		e.rec = metrics.NoopRecorder{}
	}
	return e
}

// Run executes one reconciliation pass. A busy lock returns
// runlock.ErrBusy without touching anything; precondition failures abort
// before the first write. Per-group failures are collected into the Result,
// not returned.
func (e *Engine) Run(ctx context.Context, trigger string) (*Result, error) {
	release, err := e.lock.TryAcquire()
	if err != nil {
		return nil, err
	}
	defer release()

	start := time.Now()
	res := &Result{RunID: uuid.NewString(), Trigger: trigger, StartedAt: start}
	logger := e.logger.With(logfields.RunID(res.RunID), logfields.Trigger(trigger))
	logger.Info("reconciliation run started", logfields.Path(e.cfg.StatePath))

	doc, err := statedoc.Read(e.cfg.StatePath)
	if err != nil {
		return nil, e.abort(logger, err)
	}
	mount, err := e.gate.Check(ctx, e.cfg.ManagedRoot)
	if err != nil {
		return nil, e.abort(logger, err)
	}
	logger.Debug("filesystem gate passed",
		logfields.Mount(mount.Mountpoint), logfields.Device(mount.Source))

	store, err := projmap.Open(e.cfg.GroupsMapPath(), e.cfg.PathsMapPath())
	if err != nil {
		return nil, e.abort(logger, err)
	}
	tracker, err := retag.NewTracker(e.cfg.MarkersDir())
	if err != nil {
		return nil, e.abort(logger, err)
	}

	res.DesiredTotal = len(doc.QuotasGB)
	e.cleanStale(ctx, logger, res, doc, store, mount, tracker)
	e.applyDesired(ctx, logger, res, doc, store, mount, tracker)

	res.Duration = time.Since(start)
	logger.Info("reconciliation run finished",
		slog.String("summary", res.Summary()),
		slog.Int("cleaned_stale", res.CleanedStale),
		slog.Int("failed_stale", res.FailedStale),
		logfields.DurationMS(float64(res.Duration.Milliseconds())))

	e.rec.ObserveRunDuration(res.Duration)
	e.rec.IncRunOutcome(res.Outcome())
	e.rec.AddGroupsApplied(res.Applied)
	e.rec.AddGroupsFailed(res.Failed)
	e.rec.AddStaleCleaned(res.CleanedStale)
	e.rec.SetDesiredGroups(res.DesiredTotal)
	e.rec.SetLastRunTime(time.Now())

	for _, sink := range e.sinks {
		if err := sink.RecordRun(ctx, res); err != nil {
			logger.Warn("run sink failed", logfields.Error(err))
		}
	}
	return res, nil
}

func (e *Engine) abort(logger *slog.Logger, err error) error {
	logger.Error("reconciliation aborted before any changes", logfields.Error(err))
	e.rec.IncRunOutcome(metrics.OutcomeAborted)
	return err
}

// cleanStale removes quota state for every mapped group absent from the
// desired set. The four cleanup steps per group are independent: a failed
// step is recorded and the remaining steps still run, so a half-deleted
// directory cannot pin its mapping forever.
func (e *Engine) cleanStale(ctx context.Context, logger *slog.Logger, res *Result,
	doc *statedoc.Document, store *projmap.Store, mount *fscompat.Mount, tracker *retag.Tracker) {

	for _, row := range store.Snapshot() {
		if _, desired := doc.QuotasGB[row.Group]; desired {
			continue
		}
		if ctx.Err() != nil {
			return
		}
		res.StaleTotal++
		glog := logger.With(logfields.Group(row.Group), logfields.ProjectID(row.ProjectID))

		var stepErrs []string
		if err := e.withDeviceFallback(mount, func(target string) error {
			return e.backend.ClearLimits(ctx, target, row.ProjectID)
		}); err != nil {
			stepErrs = append(stepErrs, fmt.Sprintf("clear limits: %v", err))
		}

		dir := row.Path
		if dir == "" {
			dir = filepath.Join(e.cfg.ManagedRoot, row.Group)
		}
		if err := e.stripTags(ctx, dir); err != nil {
			stepErrs = append(stepErrs, fmt.Sprintf("strip tags under %s: %v", dir, err))
		}
		if err := store.Remove(row.Group); err != nil {
			stepErrs = append(stepErrs, fmt.Sprintf("remove mapping rows: %v", err))
		}
		if err := tracker.Clear(row.Group, row.ProjectID); err != nil {
			stepErrs = append(stepErrs, fmt.Sprintf("clear retag marker: %v", err))
		}

		if len(stepErrs) == 0 {
			res.CleanedStale++
			res.Events = append(res.Events, GroupEvent{
				Group: row.Group, ProjectID: row.ProjectID,
				Action: ActionCleaned, Message: "stale mapping removed",
			})
			glog.Info("stale group cleaned", logfields.Path(dir))
		} else {
			res.FailedStale++
			msg := strings.Join(stepErrs, "; ")
			res.Events = append(res.Events, GroupEvent{
				Group: row.Group, ProjectID: row.ProjectID,
				Action: ActionCleanFailed, Message: msg,
			})
			glog.Warn("stale cleanup incomplete", slog.String("steps", msg))
		}
	}
}

// applyDesired converges every group in the desired set, sorted so runs are
// deterministic. A group that fails is recorded and skipped; groups already
// applied stay applied.
func (e *Engine) applyDesired(ctx context.Context, logger *slog.Logger, res *Result,
	doc *statedoc.Document, store *projmap.Store, mount *fscompat.Mount, tracker *retag.Tracker) {

	groups := make([]string, 0, len(doc.QuotasGB))
	for group := range doc.QuotasGB {
		groups = append(groups, group)
	}
	sort.Strings(groups)

	for _, group := range groups {
		if ctx.Err() != nil {
			return
		}
		gb := doc.QuotasGB[group]
		glog := logger.With(logfields.Group(group), logfields.QuotaGB(gb))

		id, err := e.applyGroup(ctx, glog, group, gb, store, mount, tracker)
		if err != nil {
			res.Failed++
			res.Events = append(res.Events, GroupEvent{
				Group: group, ProjectID: id, Action: ActionFailed, Message: err.Error(),
			})
			glog.Warn("group quota not applied", logfields.Error(err))
			continue
		}

		blocks := quotaops.BlocksForGB(gb)
		res.Applied++
		res.Events = append(res.Events, GroupEvent{
			Group: group, ProjectID: id, Action: ActionApplied,
			Message: fmt.Sprintf("%s limit (%d KiB blocks)", humanize.IBytes(blocks*1024), blocks),
		})
		glog.Info("group quota applied", logfields.ProjectID(id), logfields.BlocksKiB(blocks))
	}
}

func (e *Engine) applyGroup(ctx context.Context, glog *slog.Logger, group string, gb float64,
	store *projmap.Store, mount *fscompat.Mount, tracker *retag.Tracker) (uint32, error) {

	if gb < e.cfg.MinQuotaGB {
		return 0, qerrors.GroupRejected(group,
			fmt.Sprintf("quota %g GB is below the %g GB floor", gb, e.cfg.MinQuotaGB))
	}
	if err := checkGroupName(group); err != nil {
		return 0, err
	}

	dir := filepath.Join(e.cfg.ManagedRoot, group)
	info, err := os.Stat(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, qerrors.GroupRejected(group, "directory "+dir+" does not exist")
	}
	if err != nil {
		return 0, qerrors.ApplyFailed(group, fmt.Errorf("stat group directory: %w", err))
	}
	if !info.IsDir() {
		return 0, qerrors.GroupRejected(group, dir+" is not a directory")
	}
	if !e.gate.SameMount(dir, mount) {
		return 0, qerrors.GroupRejected(group, dir+" is not on the managed filesystem")
	}

	id, allocated, err := store.ResolveOrAllocate(group, dir, e.cfg.FirstProjectID)
	if err != nil {
		return 0, err
	}
	if allocated {
		glog.Info("allocated project id", logfields.ProjectID(id))
	}

	if err := e.backend.TagPath(ctx, dir, id); err != nil {
		return id, qerrors.ApplyFailed(group, fmt.Errorf("tag group directory: %w", err))
	}
	if err := e.backend.EnableInheritance(ctx, dir); err != nil {
		return id, qerrors.ApplyFailed(group, fmt.Errorf("enable project inheritance: %w", err))
	}

	if !tracker.Done(group, id) {
		walkStart := time.Now()
		if err := e.retagTree(ctx, dir, id); err != nil {
			return id, qerrors.RetagFailed(group, err)
		}
		e.rec.ObserveRetagDuration(time.Since(walkStart))
		if err := tracker.MarkDone(group, id); err != nil {
			// The retag itself succeeded; the next run repeats the walk.
			glog.Warn("retag marker not written", logfields.Error(err))
		} else {
			glog.Info("subtree retagged",
				logfields.DurationMS(float64(time.Since(walkStart).Milliseconds())))
		}
	}

	blocks := quotaops.BlocksForGB(gb)
	if err := e.withDeviceFallback(mount, func(target string) error {
		return e.backend.SetLimits(ctx, target, id, blocks)
	}); err != nil {
		return id, qerrors.ApplyFailed(group, fmt.Errorf("set block limits: %w", err))
	}
	return id, nil
}

// retagTree stamps the project id on every entry below dir. Directories also
// get the inheritance flag. Any failure aborts the walk so the caller never
// records a partially tagged tree as done.
func (e *Engine) retagTree(ctx context.Context, dir string, id uint32) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := e.backend.TagPath(ctx, path, id); err != nil {
			return err
		}
		if d.IsDir() {
			return e.backend.EnableInheritance(ctx, path)
		}
		return nil
	})
}

// stripTags resets every entry below dir to project id 0 and drops the
// inheritance flag from directories. A directory that no longer exists has
// nothing to strip.
func (e *Engine) stripTags(ctx context.Context, dir string) error {
	if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
		return nil
	} else if err != nil {
		return err
	}
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := e.backend.TagPath(ctx, path, 0); err != nil {
			return err
		}
		if d.IsDir() {
			return e.backend.DisableInheritance(ctx, path)
		}
		return nil
	})
}

// withDeviceFallback runs op against the mountpoint and retries once against
// the backing block device. Some setquota builds only accept one or the
// other depending on how the mount table is visible in the container.
func (e *Engine) withDeviceFallback(mount *fscompat.Mount, op func(target string) error) error {
	err := op(mount.Mountpoint)
	if err == nil {
		return nil
	}
	if derr := op(mount.Source); derr != nil {
		return fmt.Errorf("via %s: %w (device fallback %s: %v)",
			mount.Mountpoint, err, mount.Source, derr)
	}
	e.logger.Debug("setquota required block-device fallback", logfields.Device(mount.Source))
	return nil
}

// checkGroupName rejects names that cannot be safely joined under the
// managed root or written into the colon-delimited mapping files.
func checkGroupName(group string) error {
	if group == "" || group == "." || group == ".." {
		return qerrors.GroupRejected(group, "unusable group name")
	}
	if strings.ContainsAny(group, "/\\:") {
		return qerrors.GroupRejected(group, "group name contains a path separator or colon")
	}
	for _, r := range group {
		if r < 0x20 || r == 0x7f {
			return qerrors.GroupRejected(group, "group name contains control characters")
		}
	}
	return nil
}
