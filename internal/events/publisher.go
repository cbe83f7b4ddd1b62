// Package events publishes run summaries to NATS for downstream consumers
// (the web service shows the last enforcement result next to the quota
// form). Publishing is optional and never blocks or fails a run.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/ZMB-UZH/omero-docker-extended/internal/config"
	"github.com/ZMB-UZH/omero-docker-extended/internal/reconcile"
)

// Publisher sends the JSON run summary to a configured subject. The
// connection is established on first use so a NATS outage at startup does
// not keep the agent from enforcing quotas.
type Publisher struct {
	cfg    config.EventsConfig
	logger *slog.Logger

	mu   sync.Mutex
	conn *nats.Conn
}

// NewPublisher creates a publisher for cfg. With cfg.Enabled false every
// publish is a no-op.
func NewPublisher(cfg config.EventsConfig, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{cfg: cfg, logger: logger}
}

// RecordRun publishes the finished run summary. It satisfies the engine's
// sink interface; errors are reported to the caller, which logs them.
func (p *Publisher) RecordRun(_ context.Context, res *reconcile.Result) error {
	if !p.cfg.Enabled {
		return nil
	}

	conn, err := p.connect()
	if err != nil {
		return fmt.Errorf("connect to NATS: %w", err)
	}

	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("marshal run summary: %w", err)
	}
	if err := conn.Publish(p.cfg.Subject, data); err != nil {
		return fmt.Errorf("publish run summary: %w", err)
	}
	if err := conn.FlushTimeout(5 * time.Second); err != nil {
		return fmt.Errorf("flush run summary: %w", err)
	}

	p.logger.Debug("published run summary",
		"subject", p.cfg.Subject,
		"run_id", res.RunID,
		"summary", res.Summary())
	return nil
}

func (p *Publisher) connect() (*nats.Conn, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.conn != nil {
		return p.conn, nil
	}
	conn, err := nats.Connect(p.cfg.URL,
		nats.Name("quotad"),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, err
	}
	p.conn = conn
	p.logger.Info("NATS publisher connected",
		"url", p.cfg.URL,
		"subject", p.cfg.Subject)
	return conn, nil
}

// Close closes the NATS connection.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn != nil {
		p.conn.Close()
		p.conn = nil
	}
	return nil
}
