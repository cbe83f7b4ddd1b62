package metrics

import "time"

// OutcomeLabel enumerates terminal run states for counters.
type OutcomeLabel string

const (
	OutcomeSuccess OutcomeLabel = "success"
	OutcomePartial OutcomeLabel = "partial"
	OutcomeAborted OutcomeLabel = "aborted"
)

// Recorder defines observability hooks for reconciliation runs. Implementations
// may forward to Prometheus, OpenTelemetry, etc. All methods must be safe for nil receivers
// when using the NoopRecorder (allowing optional injection).
type Recorder interface {
	ObserveRunDuration(d time.Duration)
	IncRunOutcome(outcome OutcomeLabel)
	AddGroupsApplied(n int)
	AddGroupsFailed(n int)
	AddStaleCleaned(n int)
	SetDesiredGroups(n int)
	SetLastRunTime(t time.Time)
	ObserveRetagDuration(d time.Duration)
}

// NoopRecorder is a Recorder that does nothing (default when metrics not configured).
type NoopRecorder struct{}

func (NoopRecorder) ObserveRunDuration(time.Duration)   {}
func (NoopRecorder) IncRunOutcome(OutcomeLabel)         {}
func (NoopRecorder) AddGroupsApplied(int)               {}
func (NoopRecorder) AddGroupsFailed(int)                {}
func (NoopRecorder) AddStaleCleaned(int)                {}
func (NoopRecorder) SetDesiredGroups(int)               {}
func (NoopRecorder) SetLastRunTime(time.Time)           {}
func (NoopRecorder) ObserveRetagDuration(time.Duration) {}
