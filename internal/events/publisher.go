// Package events publishes artifact-update notifications over NATS so
// downstream consumers can reload their almanacs without polling the store.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"git.home.luguber.info/inful/kernelsync/internal/config"
	"git.home.luguber.info/inful/kernelsync/internal/syncer"
)

// ArtifactUpdated is emitted for every entry a sync run actually fetched.
type ArtifactUpdated struct {
	RunID     string    `json:"run_id"`
	URI       string    `json:"uri"`
	Name      string    `json:"name,omitempty"`
	Bytes     int64     `json:"bytes"`
	Unchecked bool      `json:"unchecked"`
	Timestamp time.Time `json:"timestamp"`
}

// Publisher sends sync events to NATS.
type Publisher struct {
	conn    *nats.Conn
	subject string
}

// NewPublisher connects to NATS using the events configuration.
func NewPublisher(cfg config.EventsConfig) (*Publisher, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("event publishing is disabled")
	}
	conn, err := nats.Connect(cfg.URL,
		nats.Name("kernelsync"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	slog.Info("NATS publisher initialized", "url", cfg.URL, "subject", cfg.Subject)
	return &Publisher{conn: conn, subject: cfg.Subject}, nil
}

// PublishReport emits one ArtifactUpdated event per fetched entry. Publish
// failures are logged and counted, not fatal: event delivery is best
// effort and must never fail a sync run.
func (p *Publisher) PublishReport(ctx context.Context, report *syncer.Report) int {
	published := 0
	for _, e := range report.Entries {
		if e.Status != syncer.StatusFetched {
			continue
		}
		event := ArtifactUpdated{
			RunID:     report.RunID,
			URI:       e.Entry.URI,
			Name:      e.Entry.Name,
			Bytes:     e.Bytes,
			Unchecked: e.Unchecked,
			Timestamp: report.Finished,
		}
		data, err := json.Marshal(event)
		if err != nil {
			slog.Error("failed to marshal event", "uri", e.Entry.URI, "error", err)
			continue
		}
		if err := p.conn.Publish(p.subject, data); err != nil {
			slog.Error("failed to publish event", "uri", e.Entry.URI, "error", err)
			continue
		}
		published++
	}
	if published > 0 {
		// Flush so the daemon's scheduled runs do not accumulate buffered events.
		if err := p.conn.FlushWithContext(ctx); err != nil {
			slog.Warn("NATS flush failed", "error", err)
		}
	}
	return published
}

// Close drains and closes the NATS connection.
func (p *Publisher) Close() {
	if p.conn != nil {
		p.conn.Close()
	}
}
