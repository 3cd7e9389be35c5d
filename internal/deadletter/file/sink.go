// Package file provides a local dead-letter sink: one JSON line per
// failed batch, appended to a single file.
package file

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"hivemail/internal/deadletter"
	"hivemail/internal/logging"
)

// Config holds file sink settings.
type Config struct {
	// Path is the JSONL file failed batches are appended to.
	Path   string
	Logger *slog.Logger
}

// Sink appends failed batches to a JSONL file.
type Sink struct {
	mu     sync.Mutex
	path   string
	logger *slog.Logger
}

// New creates the sink, ensuring the parent directory exists.
func New(cfg Config) (*Sink, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("deadletter file sink: path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, fmt.Errorf("deadletter file sink: %w", err)
	}
	return &Sink{
		path:   cfg.Path,
		logger: logging.Component(cfg.Logger, "deadletter").With("type", "file"),
	}, nil
}

// Deposit appends the batch as one JSON line and syncs.
func (s *Sink) Deposit(ctx context.Context, batch deadletter.FailedBatch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	line, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("encode failed batch: %w", err)
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open deadletter file: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(line); err != nil {
		return fmt.Errorf("write deadletter entry: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync deadletter file: %w", err)
	}

	s.logger.Error("batch dead-lettered",
		"partition", batch.Partition,
		"events", len(batch.Events),
		"attempts", batch.Attempts,
		"class", batch.Class,
		"error", batch.LastError,
	)
	return nil
}
