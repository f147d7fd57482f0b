// Package events publishes build lifecycle events to NATS JetStream so
// downstream consumers (chat notifiers, dashboards) can react without
// polling the API. Publishing is optional; a missing NATS URL disables it.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"git.home.luguber.info/inful/flutterci/internal/retry"
	"git.home.luguber.info/inful/flutterci/internal/store"
)

// BuildEvent is the wire form of a build lifecycle notification.
type BuildEvent struct {
	BuildID    string            `json:"build_id"`
	Repository string            `json:"repository"`
	Branch     string            `json:"branch"`
	CommitSHA  string            `json:"commit_sha"`
	Trigger    store.TriggerType `json:"trigger"`
	Status     store.BuildStatus `json:"status"`
	Error      string            `json:"error,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
}

// Publisher emits build lifecycle events. Implementations must tolerate
// being called from the dispatch hot path; failures are logged, never
// propagated into build state.
type Publisher interface {
	PublishBuildEvent(ctx context.Context, event *BuildEvent) error
	Close()
}

// NoopPublisher discards all events (default when NATS is not configured).
type NoopPublisher struct{}

func (NoopPublisher) PublishBuildEvent(context.Context, *BuildEvent) error { return nil }
func (NoopPublisher) Close()                                               {}

// NATSPublisher publishes build events to a JetStream subject.
type NATSPublisher struct {
	conn    *nats.Conn
	js      jetstream.JetStream
	subject string
}

// NewNATSPublisher connects to NATS and prepares the JetStream context.
// Events are published to "<prefix>.builds". The initial connect retries
// with backoff so a NATS server still coming up does not fail daemon start.
func NewNATSPublisher(ctx context.Context, url, subjectPrefix string) (*NATSPublisher, error) {
	var conn *nats.Conn
	policy := retry.NewPolicy(retry.BackoffExponential, time.Second, 10*time.Second, 3)
	err := retry.Do(ctx, policy, func() error {
		var cerr error
		conn, cerr = nats.Connect(url)
		return cerr
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	if subjectPrefix == "" {
		subjectPrefix = "flutterci"
	}

	slog.Info("NATS publisher initialized",
		"url", url,
		"subject", subjectPrefix+".builds")

	return &NATSPublisher{
		conn:    conn,
		js:      js,
		subject: subjectPrefix + ".builds",
	}, nil
}

// PublishBuildEvent publishes one lifecycle event.
func (p *NATSPublisher) PublishBuildEvent(ctx context.Context, event *BuildEvent) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if _, err := p.js.Publish(ctx, p.subject, data); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// Close drains the connection.
func (p *NATSPublisher) Close() {
	if p.conn != nil {
		p.conn.Close()
	}
}
