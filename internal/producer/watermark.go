package producer

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// WatermarkStore persists the last successful fetch watermark outside the
// producer process, so restarted or re-scheduled invocations read a
// consistent value. A zero time means "never fetched"; the first run
// fetches everything the source still considers new.
type WatermarkStore interface {
	Load(ctx context.Context) (time.Time, error)
	Save(ctx context.Context, t time.Time) error
}

// FileWatermark stores the watermark as a small JSON file with an atomic
// rename on save.
type FileWatermark struct {
	mu   sync.Mutex
	path string
}

// NewFileWatermark creates a file-backed watermark store, ensuring the
// parent directory exists.
func NewFileWatermark(path string) (*FileWatermark, error) {
	if path == "" {
		return nil, fmt.Errorf("watermark: path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}
	return &FileWatermark{path: path}, nil
}

type watermarkFile struct {
	Watermark time.Time `json:"watermark"`
}

func (w *FileWatermark) Load(ctx context.Context) (time.Time, error) {
	if err := ctx.Err(); err != nil {
		return time.Time{}, err
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	data, err := os.ReadFile(w.path)
	if err != nil {
		if os.IsNotExist(err) {
			return time.Time{}, nil
		}
		return time.Time{}, fmt.Errorf("watermark: read: %w", err)
	}
	var wf watermarkFile
	if err := json.Unmarshal(data, &wf); err != nil {
		return time.Time{}, fmt.Errorf("watermark: decode: %w", err)
	}
	return wf.Watermark, nil
}

func (w *FileWatermark) Save(ctx context.Context, t time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	data, err := json.Marshal(watermarkFile{Watermark: t})
	if err != nil {
		return fmt.Errorf("watermark: encode: %w", err)
	}
	tmp := w.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("watermark: write: %w", err)
	}
	if err := os.Rename(tmp, w.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("watermark: rename: %w", err)
	}
	return nil
}

// MemoryWatermark keeps the watermark in memory. Test use only.
type MemoryWatermark struct {
	mu sync.Mutex
	t  time.Time
}

func (w *MemoryWatermark) Load(context.Context) (time.Time, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.t, nil
}

func (w *MemoryWatermark) Save(_ context.Context, t time.Time) error {
	w.mu.Lock()
	w.t = t
	w.mu.Unlock()
	return nil
}
