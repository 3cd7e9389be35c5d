package mail

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"hivemail/internal/logging"
	"hivemail/internal/notify"
)

// DirSourceConfig configures a drop-directory source.
type DirSourceConfig struct {
	// Dir holds one JSON-encoded Message per *.json file.
	Dir string

	Logger *slog.Logger
}

// DirSource reads messages from a local drop directory. Each *.json file
// is one Message; the file modification time is the receive watermark.
// Intended for local runs and tests, where a provider API is not
// available.
type DirSource struct {
	cfg    DirSourceConfig
	signal *notify.Signal
	logger *slog.Logger
}

// NewDirSource creates a drop-directory source. The directory must exist.
func NewDirSource(cfg DirSourceConfig) (*DirSource, error) {
	info, err := os.Stat(cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("dir source: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("dir source: %s is not a directory", cfg.Dir)
	}
	return &DirSource{
		cfg:    cfg,
		signal: notify.NewSignal(),
		logger: logging.Component(cfg.Logger, "mail-source").With("type", "dir"),
	}, nil
}

// Fetch returns messages from files modified after the watermark, oldest
// first. Unreadable or malformed files are skipped with a warning; they
// do not abort the fetch.
func (s *DirSource) Fetch(ctx context.Context, since time.Time) ([]Message, error) {
	entries, err := os.ReadDir(s.cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("read drop dir: %w", err)
	}

	var msgs []Message
	for _, entry := range entries {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		info, err := entry.Info()
		if err != nil || !info.ModTime().After(since) {
			continue
		}

		path := filepath.Join(s.cfg.Dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			s.logger.Warn("drop file unreadable", "file", entry.Name(), "error", err)
			continue
		}
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			s.logger.Warn("drop file malformed", "file", entry.Name(), "error", err)
			continue
		}
		if msg.ID == "" {
			msg.ID = strings.TrimSuffix(entry.Name(), ".json")
		}
		if msg.ReceivedAt == 0 {
			msg.ReceivedAt = info.ModTime().UnixMilli()
		}
		msgs = append(msgs, msg)
	}

	sort.Slice(msgs, func(i, j int) bool { return msgs[i].ReceivedAt < msgs[j].ReceivedAt })
	return msgs, nil
}

// Arrivals exposes a signal notified when new files land in the drop
// directory while Watch is running. The scheduler can use it to trigger
// an early ingestion run instead of waiting for the next tick.
func (s *DirSource) Arrivals() *notify.Signal { return s.signal }

// Watch observes the drop directory with fsnotify until ctx is cancelled,
// notifying Arrivals on every create or write.
func (s *DirSource) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(s.cfg.Dir); err != nil {
		return fmt.Errorf("watch %s: %w", s.cfg.Dir, err)
	}
	s.logger.Info("watching drop directory", "dir", s.cfg.Dir)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) {
				if strings.HasSuffix(event.Name, ".json") {
					s.signal.Notify()
				}
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("watcher error", "error", err)
		}
	}
}
