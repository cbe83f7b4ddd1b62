package metrics

import (
	"testing"
	"time"
)

type testRecorder struct {
	runDurations   int
	runOutcomes    map[OutcomeLabel]int
	applied        int
	failed         int
	staleCleaned   int
	desiredGroups  int
	lastRunSet     bool
	retagDurations int
}

func newTestRecorder() *testRecorder {
	return &testRecorder{runOutcomes: map[OutcomeLabel]int{}}
}

func (t *testRecorder) ObserveRunDuration(_ time.Duration)    { t.runDurations++ }
func (t *testRecorder) IncRunOutcome(outcome OutcomeLabel)    { t.runOutcomes[outcome]++ }
func (t *testRecorder) AddGroupsApplied(n int)                { t.applied += n }
func (t *testRecorder) AddGroupsFailed(n int)                 { t.failed += n }
func (t *testRecorder) AddStaleCleaned(n int)                 { t.staleCleaned += n }
func (t *testRecorder) SetDesiredGroups(n int)                { t.desiredGroups = n }
func (t *testRecorder) SetLastRunTime(_ time.Time)            { t.lastRunSet = true }
func (t *testRecorder) ObserveRetagDuration(_ time.Duration)  { t.retagDurations++ }

func TestRecorderImplementations(t *testing.T) {
	var _ Recorder = NoopRecorder{}
	var _ Recorder = (*PrometheusRecorder)(nil)
	var _ Recorder = newTestRecorder()

	rec := newTestRecorder()
	rec.IncRunOutcome(OutcomeSuccess)
	rec.IncRunOutcome(OutcomeSuccess)
	rec.AddGroupsApplied(2)
	if rec.runOutcomes[OutcomeSuccess] != 2 || rec.applied != 2 {
		t.Errorf("recorder state = %+v", rec)
	}
}
