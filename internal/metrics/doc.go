// Package metrics provides observability hooks for quota reconciliation runs.
//
// The package implements the Null Object pattern: components take a Recorder
// through dependency injection and default to NoopRecorder, so callers never
// nil-check before recording. When the admin endpoint is enabled, the daemon
// swaps in PrometheusRecorder backed by its own registry.
//
//	engine := reconcile.New(cfg, reconcile.Deps{Metrics: metrics.NoopRecorder{}})
//
//	// with the admin endpoint enabled
//	reg := prom.NewRegistry()
//	engine := reconcile.New(cfg, reconcile.Deps{Metrics: metrics.NewPrometheusRecorder(reg)})
//
// All metrics live under the "quotad" namespace.
package metrics
