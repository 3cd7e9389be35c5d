// Package file provides the durable record store: a msgpack journal of
// upserts replayed into memory at open. Reads are served from the
// in-memory map; every Put is synced to the journal before its change
// event is emitted, so an emitted event always refers to durable state.
package file

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"hivemail/internal/journal"
	"hivemail/internal/logging"
	"hivemail/internal/record"
	"hivemail/internal/stream"
)

// Config holds file store settings.
type Config struct {
	// Dir is the journal directory for this store.
	Dir string
	// Changes receives one event per committed Put. Required.
	Changes      *stream.Log
	SegmentBytes int64
	Logger       *slog.Logger
	Now          func() time.Time
}

// Store is a journal-backed record store.
type Store struct {
	mu      sync.Mutex
	recs    map[string]record.Record
	jnl     *journal.Journal
	changes *stream.Log
	logger  *slog.Logger
	now     func() time.Time
}

// Open loads or creates a store in cfg.Dir, replaying the journal into
// memory. Replay emits no change events; only live Puts do.
func Open(cfg Config) (*Store, error) {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	logger := logging.Component(cfg.Logger, "record-store").With("type", "file")

	jnl, err := journal.Open(journal.Config{
		Dir:          cfg.Dir,
		SegmentBytes: cfg.SegmentBytes,
		Logger:       cfg.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("record store: %w", err)
	}

	s := &Store{
		recs:    make(map[string]record.Record),
		jnl:     jnl,
		changes: cfg.Changes,
		logger:  logger,
		now:     now,
	}
	if err := jnl.Replay(func(entry []byte) error {
		var rec record.Record
		if err := msgpack.Unmarshal(entry, &rec); err != nil {
			return err
		}
		s.recs[rec.ID] = rec
		return nil
	}); err != nil {
		jnl.Close()
		return nil, fmt.Errorf("record store: %w", err)
	}

	logger.Info("record store opened", "dir", cfg.Dir, "records", len(s.recs))
	return s, nil
}

// Put journals the upsert, applies it, and emits the change event. The
// store lock spans journal write and event emission so events for one id
// stay in commit order.
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
		stored.IngestedAt = prev.IngestedAt
	} else if stored.IngestedAt.IsZero() {
		stored.IngestedAt = s.now()
	}

	entry, err := msgpack.Marshal(stored)
	if err != nil {
		return fmt.Errorf("encode record %s: %w", rec.ID, err)
	}
	if err := s.jnl.Append(entry); err != nil {
		return fmt.Errorf("journal record %s: %w", rec.ID, err)
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

// Close closes the underlying journal.
func (s *Store) Close() error {
	return s.jnl.Close()
}
