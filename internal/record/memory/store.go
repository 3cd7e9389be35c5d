// Package memory provides an in-memory record store. Used for tests and
// ephemeral runs; contents do not survive a restart, but change emission
// and ordering behave exactly like the file store.
package memory

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"hivemail/internal/logging"
	"hivemail/internal/record"
	"hivemail/internal/stream"
)

// Config holds memory store settings.
type Config struct {
	// Changes receives one event per committed Put. Required.
	Changes *stream.Log
	Logger  *slog.Logger
	Now     func() time.Time
}

// Store is a map-backed record store.
type Store struct {
	mu      sync.Mutex
	recs    map[string]record.Record
	changes *stream.Log
	logger  *slog.Logger
	now     func() time.Time
}

// New creates an empty store.
func New(cfg Config) *Store {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Store{
		recs:    make(map[string]record.Record),
		changes: cfg.Changes,
		logger:  logging.Component(cfg.Logger, "record-store").With("type", "memory"),
		now:     now,
	}
}

// Put upserts the record and emits the change event under the store lock,
// so events for one id are appended in commit order.
func (s *Store) Put(ctx context.Context, rec record.Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prev, existed := s.recs[rec.ID]
	stored := rec.Clone()
	if existed {
		// The id was assigned on first sight; keep the original ingest time.
		stored.IngestedAt = prev.IngestedAt
	} else if stored.IngestedAt.IsZero() {
		stored.IngestedAt = s.now()
	}
	s.recs[rec.ID] = stored

	ev := stream.Event{RecordID: rec.ID}
	after := stored.Clone()
	ev.After = &after
	if existed {
		ev.Type = stream.TypeUpdate
		before := prev.Clone()
		ev.Before = &before
	} else {
		ev.Type = stream.TypeInsert
	}
	s.changes.Append(ev)
	return nil
}

// Get returns the record for id, or record.ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (record.Record, error) {
	if err := ctx.Err(); err != nil {
		return record.Record{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.recs[id]
	if !ok {
		return record.Record{}, record.ErrNotFound
	}
	return rec.Clone(), nil
}

// Len returns the number of stored records.
func (s *Store) Len(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.recs), nil
}
