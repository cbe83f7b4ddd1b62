package events

import (
	"io"
	"log/slog"
	"testing"

	"github.com/ZMB-UZH/omero-docker-extended/internal/config"
	"github.com/ZMB-UZH/omero-docker-extended/internal/reconcile"
)

var _ reconcile.Sink = (*Publisher)(nil)

func TestDisabledPublisherIsNoop(t *testing.T) {
	p := NewPublisher(config.EventsConfig{Enabled: false},
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	defer func() { _ = p.Close() }()

	res := &reconcile.Result{RunID: "run-1", Applied: 1}
	if err := p.RecordRun(t.Context(), res); err != nil {
		t.Fatalf("disabled publisher returned error: %v", err)
	}
}

func TestUnreachableServerSurfacesError(t *testing.T) {
	p := NewPublisher(config.EventsConfig{
		Enabled: true,
		URL:     "nats://127.0.0.1:1",
		Subject: "quotad.runs",
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	defer func() { _ = p.Close() }()

	res := &reconcile.Result{RunID: "run-1"}
	if err := p.RecordRun(t.Context(), res); err == nil {
		t.Fatal("expected connect error for unreachable server")
	}
}
