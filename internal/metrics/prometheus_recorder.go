package metrics

import (
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
)

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	runDuration   prom.Histogram
	runOutcome    *prom.CounterVec
	groupsApplied prom.Counter
	groupsFailed  prom.Counter
	staleCleaned  prom.Counter
	desiredGroups prom.Gauge
	lastRunTime   prom.Gauge
	retagDuration prom.Histogram
}

// NewPrometheusRecorder constructs the metric set and registers it on reg.
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{
		runDuration: prom.NewHistogram(prom.HistogramOpts{
			Namespace: "quotad",
			Name:      "run_duration_seconds",
			Help:      "Total reconciliation run duration",
			Buckets:   prom.DefBuckets,
		}),
		runOutcome: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "quotad",
			Name:      "run_outcomes_total",
			Help:      "Reconciliation runs by final status",
		}, []string{"outcome"}),
		groupsApplied: prom.NewCounter(prom.CounterOpts{
			Namespace: "quotad",
			Name:      "groups_applied_total",
			Help:      "Group quotas applied successfully across all runs",
		}),
		groupsFailed: prom.NewCounter(prom.CounterOpts{
			Namespace: "quotad",
			Name:      "groups_failed_total",
			Help:      "Group quota applications that failed across all runs",
		}),
		staleCleaned: prom.NewCounter(prom.CounterOpts{
			Namespace: "quotad",
			Name:      "stale_cleaned_total",
			Help:      "Stale mappings fully cleaned up across all runs",
		}),
		desiredGroups: prom.NewGauge(prom.GaugeOpts{
			Namespace: "quotad",
			Name:      "desired_groups",
			Help:      "Groups present in the desired-state document at the last run",
		}),
		lastRunTime: prom.NewGauge(prom.GaugeOpts{
			Namespace: "quotad",
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time of the last completed reconciliation run",
		}),
		retagDuration: prom.NewHistogram(prom.HistogramOpts{
			Namespace: "quotad",
			Name:      "retag_walk_duration_seconds",
			Help:      "Duration of full subtree retag walks",
			Buckets:   prom.DefBuckets,
		}),
	}
	reg.MustRegister(pr.runDuration, pr.runOutcome, pr.groupsApplied, pr.groupsFailed, pr.staleCleaned, pr.desiredGroups, pr.lastRunTime, pr.retagDuration)
	return pr
}

func (p *PrometheusRecorder) ObserveRunDuration(d time.Duration) {
	if p == nil || p.runDuration == nil {
		return
	}
	p.runDuration.Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncRunOutcome(outcome OutcomeLabel) {
	if p == nil || p.runOutcome == nil {
		return
	}
	p.runOutcome.WithLabelValues(string(outcome)).Inc()
}

func (p *PrometheusRecorder) AddGroupsApplied(n int) {
	if p == nil || p.groupsApplied == nil {
		return
	}
	p.groupsApplied.Add(float64(n))
}

func (p *PrometheusRecorder) AddGroupsFailed(n int) {
	if p == nil || p.groupsFailed == nil {
		return
	}
	p.groupsFailed.Add(float64(n))
}

func (p *PrometheusRecorder) AddStaleCleaned(n int) {
	if p == nil || p.staleCleaned == nil {
		return
	}
	p.staleCleaned.Add(float64(n))
}

func (p *PrometheusRecorder) SetDesiredGroups(n int) {
	if p == nil || p.desiredGroups == nil {
		return
	}
	p.desiredGroups.Set(float64(n))
}

func (p *PrometheusRecorder) SetLastRunTime(t time.Time) {
	if p == nil || p.lastRunTime == nil {
		return
	}
	p.lastRunTime.Set(float64(t.Unix()))
}

func (p *PrometheusRecorder) ObserveRetagDuration(d time.Duration) {
	if p == nil || p.retagDuration == nil {
		return
	}
	p.retagDuration.Observe(d.Seconds())
}
