package reconcile

import (
	"fmt"
	"time"

	"github.com/ZMB-UZH/omero-docker-extended/internal/metrics"
)

// Triggers name what started a run.
const (
	TriggerManual = "manual"
	TriggerSweep  = "sweep"
	TriggerWatch  = "watch"
)

// Action classifies a per-group outcome within a run.
type Action string

const (
	ActionApplied     Action = "applied"
	ActionFailed      Action = "failed"
	ActionCleaned     Action = "cleaned"
	ActionCleanFailed Action = "clean_failed"
)

// GroupEvent is one group's outcome in a run, in processing order.
type GroupEvent struct {
	Group     string `json:"group"`
	ProjectID uint32 `json:"project_id,omitempty"`
	Action    Action `json:"action"`
	Message   string `json:"message,omitempty"`
}

// Result summarizes one reconciliation run. Counts are final even when the
// run was interrupted; groups never attempted appear in no count.
type Result struct {
	RunID        string        `json:"run_id"`
	Trigger      string        `json:"trigger"`
	StartedAt    time.Time     `json:"started_at"`
	Duration     time.Duration `json:"duration_ns"`
	DesiredTotal int           `json:"desired_total"`
	StaleTotal   int           `json:"stale_total"`
	Applied      int           `json:"applied"`
	Failed       int           `json:"failed"`
	CleanedStale int           `json:"cleaned_stale"`
	FailedStale  int           `json:"failed_stale"`
	Events       []GroupEvent  `json:"events,omitempty"`
}

// Summary is the one-line aggregate operators grep for.
func (r *Result) Summary() string {
	return fmt.Sprintf("%d applied, %d failed", r.Applied, r.Failed)
}

// Converged reports whether every desired group was applied and every stale
// mapping fully cleaned.
func (r *Result) Converged() bool {
	return r.Failed == 0 && r.FailedStale == 0
}

// Outcome maps the result onto the metrics outcome label.
func (r *Result) Outcome() metrics.OutcomeLabel {
	if r.Converged() {
		return metrics.OutcomeSuccess
	}
	return metrics.OutcomePartial
}
