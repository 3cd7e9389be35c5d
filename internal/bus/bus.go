// Package bus provides the coarse-grained notification channel. The
// producer publishes run-level events here for other systems to observe;
// nothing on the summarization critical path depends on it, and publish
// failures are logged, never propagated into pipeline state.
package bus

import (
	"context"
	"log/slog"
	"time"

	"hivemail/internal/logging"
)

// Event types published by the pipeline.
const (
	TypeRunCompleted = "ingestion.run.completed"
)

// Event is one notification.
type Event struct {
	Type       string            `json:"type"`
	Time       time.Time         `json:"time"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// Publisher delivers events to the notification channel. Publishers are
// fire-and-forget from the pipeline's perspective: an error return is
// informational, not a correctness dependency.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// LogPublisher writes events to the structured log. The default for local
// runs without a broker.
type LogPublisher struct {
	logger *slog.Logger
}

// NewLogPublisher creates a log-backed publisher.
func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	return &LogPublisher{logger: logging.Component(logger, "bus").With("type", "log")}
}

func (p *LogPublisher) Publish(_ context.Context, ev Event) error {
	attrs := make([]any, 0, 2+2*len(ev.Attributes))
	attrs = append(attrs, "type", ev.Type)
	for k, v := range ev.Attributes {
		attrs = append(attrs, k, v)
	}
	p.logger.Info("event published", attrs...)
	return nil
}

// Discard drops all events. Test use only.
type Discard struct{}

func (Discard) Publish(context.Context, Event) error { return nil }
