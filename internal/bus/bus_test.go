package bus

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestLogPublisher(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	p := NewLogPublisher(logger)

	err := p.Publish(context.Background(), Event{
		Type: TypeRunCompleted,
		Time: time.Now(),
		Attributes: map[string]string{
			"status": "success",
			"seen":   "3",
		},
	})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, TypeRunCompleted) {
		t.Errorf("output missing event type: %s", out)
	}
	if !strings.Contains(out, "status=success") || !strings.Contains(out, "seen=3") {
		t.Errorf("output missing attributes: %s", out)
	}
}

func TestLogPublisherNilLogger(t *testing.T) {
	p := NewLogPublisher(nil)
	if err := p.Publish(context.Background(), Event{Type: TypeRunCompleted}); err != nil {
		t.Errorf("Publish: %v", err)
	}
}

func TestDiscard(t *testing.T) {
	if err := (Discard{}).Publish(context.Background(), Event{}); err != nil {
		t.Errorf("Publish: %v", err)
	}
}
