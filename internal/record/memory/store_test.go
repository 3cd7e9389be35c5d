package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"hivemail/internal/mail"
	"hivemail/internal/record"
	"hivemail/internal/stream"
)

func newTestStore(t *testing.T) (*Store, *stream.Log) {
	t.Helper()
	changes := stream.NewLog(stream.Config{Partitions: 1, Retention: 100})
	return New(Config{Changes: changes}), changes
}

func testRecord(id, body string) record.Record {
	return record.Record{
		ID:         id,
		Payload:    mail.Message{ID: id, Body: body},
		IngestedAt: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestPutInsertEmitsInsertEvent(t *testing.T) {
	s, changes := newTestStore(t)
	cur := changes.Subscribe(stream.StartEarliest)

	if err := s.Put(context.Background(), testRecord("msg-1", "body")); err != nil {
		t.Fatalf("Put: %v", err)
	}

	events, err := cur.Next(context.Background(), 0, 10)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	ev := events[0]
	if ev.Type != stream.TypeInsert {
		t.Errorf("event type = %v, want insert", ev.Type)
	}
	if ev.Before != nil {
		t.Error("insert event should carry no before snapshot")
	}
	if ev.After == nil || ev.After.Payload.Body != "body" {
		t.Errorf("after snapshot = %+v", ev.After)
	}
}

func TestPutUpdateEmitsUpdateEvent(t *testing.T) {
	s, changes := newTestStore(t)
	cur := changes.Subscribe(stream.StartEarliest)
	ctx := context.Background()

	if err := s.Put(ctx, testRecord("msg-1", "v1")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := s.Put(ctx, testRecord("msg-1", "v2")); err != nil {
		t.Fatalf("second Put: %v", err)
	}

	events, err := cur.Next(ctx, 0, 10)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	up := events[1]
	if up.Type != stream.TypeUpdate {
		t.Errorf("second event type = %v, want update", up.Type)
	}
	if up.Before == nil || up.Before.Payload.Body != "v1" {
		t.Errorf("before snapshot = %+v, want v1", up.Before)
	}
	if up.After == nil || up.After.Payload.Body != "v2" {
		t.Errorf("after snapshot = %+v, want v2", up.After)
	}
}

func TestPutIdenticalPayloadStillEmits(t *testing.T) {
	s, changes := newTestStore(t)
	cur := changes.Subscribe(stream.StartEarliest)
	ctx := context.Background()

	rec := testRecord("msg-1", "same")
	for i := 0; i < 3; i++ {
		if err := s.Put(ctx, rec); err != nil {
			t.Fatalf("Put %d: %v", i, err)
		}
	}

	// Store state converges to one record.
	if n, _ := s.Len(ctx); n != 1 {
		t.Errorf("Len = %d, want 1 after re-ingestion", n)
	}

	// Every committed upsert announces itself, unchanged payload included.
	events, err := cur.Next(ctx, 0, 10)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if len(events) != 3 {
		t.Errorf("got %d events, want 3", len(events))
	}
}

func TestPutPreservesOriginalIngestTime(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	first := testRecord("msg-1", "v1")
	if err := s.Put(ctx, first); err != nil {
		t.Fatalf("Put: %v", err)
	}

	second := testRecord("msg-1", "v2")
	second.IngestedAt = first.IngestedAt.Add(time.Hour)
	if err := s.Put(ctx, second); err != nil {
		t.Fatalf("second Put: %v", err)
	}

	got, err := s.Get(ctx, "msg-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !got.IngestedAt.Equal(first.IngestedAt) {
		t.Errorf("IngestedAt = %v, want the first-sight time %v", got.IngestedAt, first.IngestedAt)
	}
	if got.Payload.Body != "v2" {
		t.Errorf("payload not updated: %q", got.Payload.Body)
	}
}

func TestPutAssignsIngestTimeWhenZero(t *testing.T) {
	fixed := time.Date(2026, 8, 2, 9, 0, 0, 0, time.UTC)
	changes := stream.NewLog(stream.Config{Partitions: 1, Retention: 100})
	s := New(Config{Changes: changes, Now: func() time.Time { return fixed }})
	ctx := context.Background()

	rec := record.Record{ID: "msg-1", Payload: mail.Message{ID: "msg-1"}}
	if err := s.Put(ctx, rec); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := s.Get(ctx, "msg-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !got.IngestedAt.Equal(fixed) {
		t.Errorf("IngestedAt = %v, want %v", got.IngestedAt, fixed)
	}
}

func TestPutRejectsMissingID(t *testing.T) {
	s, _ := newTestStore(t)
	err := s.Put(context.Background(), record.Record{})
	if !errors.Is(err, record.ErrMissingID) {
		t.Errorf("Put error = %v, want ErrMissingID", err)
	}
}

func TestGetNotFound(t *testing.T) {
	s, _ := newTestStore(t)
	_, err := s.Get(context.Background(), "nope")
	if !errors.Is(err, record.ErrNotFound) {
		t.Errorf("Get error = %v, want ErrNotFound", err)
	}
}

func TestGetReturnsIsolatedCopy(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	rec := testRecord("msg-1", "body")
	rec.Payload.Metadata = map[string]string{"thread": "t-1"}
	if err := s.Put(ctx, rec); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, _ := s.Get(ctx, "msg-1")
	got.Payload.Metadata["thread"] = "mutated"

	again, _ := s.Get(ctx, "msg-1")
	if again.Payload.Metadata["thread"] != "t-1" {
		t.Error("mutation through a Get result leaked into the store")
	}
}
