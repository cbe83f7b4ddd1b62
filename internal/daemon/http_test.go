package daemon

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	prom "github.com/prometheus/client_golang/prometheus"

	"github.com/ZMB-UZH/omero-docker-extended/internal/metrics"
	"github.com/ZMB-UZH/omero-docker-extended/internal/reconcile"
)

func TestAdminHandler_Status(t *testing.T) {
	runner := &stubRunner{res: convergedResult()}
	d := newTestDaemon(t, runner)
	d.status.Store(StatusRunning)
	d.runOnce(context.Background(), reconcile.TriggerManual)

	rec := httptest.NewRecorder()
	d.adminHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("unexpected content-type: %s", ct)
	}

	var data StatusData
	if err := json.Unmarshal(rec.Body.Bytes(), &data); err != nil {
		t.Fatalf("invalid JSON body: %v", err)
	}
	if data.Daemon.Status != StatusRunning {
		t.Errorf("expected running status, got %s", data.Daemon.Status)
	}
	if data.LastRun == nil || data.LastRun.RunID != "run-1" {
		t.Errorf("expected last run in payload, got %+v", data.LastRun)
	}
}

func TestAdminHandler_HealthUnhealthyReturns503(t *testing.T) {
	d := newTestDaemon(t, &stubRunner{})
	d.status.Store(StatusRunning)
	// No state document and no managed root on disk.

	rec := httptest.NewRecorder()
	d.adminHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 got %d", rec.Code)
	}

	var resp HealthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid JSON body: %v", err)
	}
	if resp.Status != HealthStatusUnhealthy {
		t.Errorf("expected unhealthy, got %s", resp.Status)
	}
}

func TestAdminHandler_HealthHealthyReturns200(t *testing.T) {
	runner := &stubRunner{res: convergedResult()}
	d := newTestDaemon(t, runner)
	d.status.Store(StatusRunning)

	if err := os.MkdirAll(d.cfg.ManagedRoot, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(d.cfg.StatePath, []byte(`{"state_schema_version":1,"quotas_gb":{}}`), 0o644); err != nil {
		t.Fatal(err)
	}
	d.runOnce(context.Background(), reconcile.TriggerSweep)

	rec := httptest.NewRecorder()
	d.adminHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestAdminHandler_MetricsServedWhenRegistryPresent(t *testing.T) {
	registry := prom.NewRegistry()
	recorder := metrics.NewPrometheusRecorder(registry)
	recorder.IncRunOutcome(metrics.OutcomeSuccess)

	d, err := New(testConfig(t), Deps{Runner: &stubRunner{}, Registry: registry, Logger: quietLogger()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rec := httptest.NewRecorder()
	d.adminHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rec.Code)
	}
	if body := rec.Body.String(); body == "" {
		t.Error("expected metrics exposition output")
	}
}

func TestAdminHandler_MetricsAbsentWithoutRegistry(t *testing.T) {
	d := newTestDaemon(t, &stubRunner{})

	rec := httptest.NewRecorder()
	d.adminHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", rec.Code)
	}
}
