// Package memory provides an in-memory summary store for tests and
// ephemeral runs.
package memory

import (
	"context"
	"log/slog"
	"sync"

	"hivemail/internal/logging"
	"hivemail/internal/summary"
)

// Config holds memory store settings.
type Config struct {
	Logger *slog.Logger
}

// Store is a map-backed summary store.
type Store struct {
	mu     sync.Mutex
	sums   map[string]summary.Summary
	logger *slog.Logger
}

// New creates an empty store.
func New(cfg Config) *Store {
	return &Store{
		sums:   make(map[string]summary.Summary),
		logger: logging.Component(cfg.Logger, "summary-store").With("type", "memory"),
	}
}

// Put upserts the summary, overwriting any prior one for the same id.
func (s *Store) Put(ctx context.Context, sum summary.Summary) error {
	if err := sum.Validate(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	s.sums[sum.ID] = sum
	s.mu.Unlock()
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
