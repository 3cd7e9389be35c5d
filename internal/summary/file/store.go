// Package file provides the durable summary store, built on the same
// msgpack journal as the record store. Re-upserts of the same id append a
// new journal entry; replay keeps the last write.
package file

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/vmihailenco/msgpack/v5"

	"hivemail/internal/journal"
	"hivemail/internal/logging"
	"hivemail/internal/summary"
)

// Config holds file store settings.
type Config struct {
	Dir          string
	SegmentBytes int64
	Logger       *slog.Logger
}

// Store is a journal-backed summary store.
type Store struct {
	mu     sync.Mutex
	sums   map[string]summary.Summary
	jnl    *journal.Journal
	logger *slog.Logger
}

// Open loads or creates a store in cfg.Dir, replaying the journal.
func Open(cfg Config) (*Store, error) {
	logger := logging.Component(cfg.Logger, "summary-store").With("type", "file")

	jnl, err := journal.Open(journal.Config{
		Dir:          cfg.Dir,
		SegmentBytes: cfg.SegmentBytes,
		Logger:       cfg.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("summary store: %w", err)
	}

	s := &Store{
		sums:   make(map[string]summary.Summary),
		jnl:    jnl,
		logger: logger,
	}
	if err := jnl.Replay(func(entry []byte) error {
		var sum summary.Summary
		if err := msgpack.Unmarshal(entry, &sum); err != nil {
			return err
		}
		s.sums[sum.ID] = sum
		return nil
	}); err != nil {
		jnl.Close()
		return nil, fmt.Errorf("summary store: %w", err)
	}

	logger.Info("summary store opened", "dir", cfg.Dir, "summaries", len(s.sums))
	return s, nil
}

// Put journals and applies the upsert.
func (s *Store) Put(ctx context.Context, sum summary.Summary) error {
	if err := sum.Validate(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, err := msgpack.Marshal(sum)
	if err != nil {
		return fmt.Errorf("encode summary %s: %w", sum.ID, err)
	}
	if err := s.jnl.Append(entry); err != nil {
		return fmt.Errorf("journal summary %s: %w", sum.ID, err)
	}
	s.sums[sum.ID] = sum
	return nil
}

// Get returns the summary for id, or summary.ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (summary.Summary, error) {
	if err := ctx.Err(); err != nil {
		return summary.Summary{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sum, ok := s.sums[id]
	if !ok {
		return summary.Summary{}, summary.ErrNotFound
	}
	return sum, nil
}

// Len returns the number of stored summaries.
func (s *Store) Len(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sums), nil
}

// Close closes the underlying journal.
func (s *Store) Close() error { return s.jnl.Close() }
