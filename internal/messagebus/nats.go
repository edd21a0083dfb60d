// Package messagebus publishes run lifecycle events.
package messagebus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/jordanhubbard/healloop/internal/logging"
)

// Event is the envelope published for every run event.
type Event struct {
	Type      string    `json:"type"`
	RunID     string    `json:"run_id"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload,omitempty"`
}

// Config holds NATS configuration
type Config struct {
	URL           string        // NATS server URL (e.g., "nats://nats:4222")
	SubjectPrefix string        // default: "healloop"
	Timeout       time.Duration // Connection timeout
}

// NatsPublisher publishes events to core NATS subjects
// <prefix>.<event>.<run_id>.
type NatsPublisher struct {
	conn   *nats.Conn
	prefix string
	logger *slog.Logger
}

// NewNatsPublisher connects to NATS.
func NewNatsPublisher(cfg Config) (*NatsPublisher, error) {
	if cfg.URL == "" {
		cfg.URL = "nats://localhost:4222"
	}
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = "healloop"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	logger := logging.New("messagebus")

	nc, err := nats.Connect(cfg.URL,
		nats.Name("healloop"),
		nats.Timeout(cfg.Timeout),
		nats.ReconnectWait(1*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	logger.Info("connected to NATS", "url", cfg.URL, "prefix", cfg.SubjectPrefix)
	return &NatsPublisher{conn: nc, prefix: cfg.SubjectPrefix, logger: logger}, nil
}

// Publish sends one event. ctx bounds the flush.
func (p *NatsPublisher) Publish(ctx context.Context, event, runID string, payload any) error {
	data, err := encode(event, runID, payload, time.Now())
	if err != nil {
		return err
	}
	if err := p.conn.Publish(Subject(p.prefix, event, runID), data); err != nil {
		return fmt.Errorf("failed to publish %s: %w", event, err)
	}
	return p.conn.FlushWithContext(ctx)
}

// Subscribe delivers every event under the prefix until ctx is done.
func (p *NatsPublisher) Subscribe(ctx context.Context, handler func(Event)) error {
	sub, err := p.conn.Subscribe(p.prefix+".>", func(m *nats.Msg) {
		var e Event
		if err := json.Unmarshal(m.Data, &e); err != nil {
			p.logger.Debug("dropping malformed event", "subject", m.Subject, "error", err)
			return
		}
		handler(e)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}
	<-ctx.Done()
	return sub.Unsubscribe()
}

// Close drains and closes the connection.
func (p *NatsPublisher) Close() error {
	if err := p.conn.Drain(); err != nil {
		p.conn.Close()
		return err
	}
	return nil
}

// Subject returns <prefix>.<event>.<runID>. Dots in event names are kept so
// "run.finished" becomes two tokens and can be matched with wildcards.
func Subject(prefix, event, runID string) string {
	return fmt.Sprintf("%s.%s.%s", prefix, event, sanitizeToken(runID))
}

func sanitizeToken(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\n':
			return '_'
		}
		return r
	}, s)
}

func encode(event, runID string, payload any, now time.Time) ([]byte, error) {
	data, err := json.Marshal(Event{Type: event, RunID: runID, Timestamp: now.UTC(), Payload: payload})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s: %w", event, err)
	}
	return data, nil
}

// Noop discards events.
type Noop struct{}

func (Noop) Publish(context.Context, string, string, any) error { return nil }
