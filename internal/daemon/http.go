package daemon

import (
	"encoding/json"
	"net/http"

	"github.com/ZMB-UZH/omero-docker-extended/internal/logfields"
	"github.com/ZMB-UZH/omero-docker-extended/internal/metrics"
)

// adminHandler serves health, status, and Prometheus metrics on the admin
// listener. The endpoint is plain HTTP for the internal network; it exposes
// no mutating operations.
func (d *Daemon) adminHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", d.handleHealth)
	mux.HandleFunc("/status", d.handleStatus)
	if d.registry != nil {
		mux.Handle("/metrics", metrics.HTTPHandler(d.registry))
	}
	return mux
}

func (d *Daemon) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := d.PerformHealthChecks()
	code := http.StatusOK
	if resp.Status == HealthStatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	d.writeJSON(w, code, resp)
}

func (d *Daemon) handleStatus(w http.ResponseWriter, r *http.Request) {
	d.writeJSON(w, http.StatusOK, d.GenerateStatusData(r.Context()))
}

func (d *Daemon) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		d.logger.Error("Failed to encode admin response", logfields.Error(err))
	}
}
