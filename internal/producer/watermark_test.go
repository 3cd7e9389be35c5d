package producer

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestFileWatermarkMissingFileIsZero(t *testing.T) {
	w, err := NewFileWatermark(filepath.Join(t.TempDir(), "watermark.json"))
	if err != nil {
		t.Fatalf("NewFileWatermark: %v", err)
	}
	mark, err := w.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !mark.IsZero() {
		t.Errorf("mark = %v, want zero for a fresh store", mark)
	}
}

func TestFileWatermarkRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "watermark.json")
	w, err := NewFileWatermark(path)
	if err != nil {
		t.Fatalf("NewFileWatermark: %v", err)
	}
	ctx := context.Background()

	want := time.Date(2026, 8, 3, 10, 15, 0, 0, time.UTC)
	if err := w.Save(ctx, want); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := w.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !got.Equal(want) {
		t.Errorf("Load = %v, want %v", got, want)
	}

	// A second store at the same path sees the persisted value.
	w2, err := NewFileWatermark(path)
	if err != nil {
		t.Fatalf("NewFileWatermark: %v", err)
	}
	got, err = w2.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !got.Equal(want) {
		t.Errorf("reloaded = %v, want %v", got, want)
	}
}

func TestFileWatermarkCreatesParentDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "deeper", "watermark.json")
	if _, err := NewFileWatermark(path); err != nil {
		t.Fatalf("NewFileWatermark: %v", err)
	}
	if _, err := os.Stat(filepath.Dir(path)); err != nil {
		t.Errorf("parent dir not created: %v", err)
	}
}

func TestFileWatermarkCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "watermark.json")
	if err := os.WriteFile(path, []byte("not json"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	w, err := NewFileWatermark(path)
	if err != nil {
		t.Fatalf("NewFileWatermark: %v", err)
	}
	if _, err := w.Load(context.Background()); err == nil {
		t.Error("expected an error for a corrupt watermark file")
	}
}

func TestFileWatermarkRequiresPath(t *testing.T) {
	if _, err := NewFileWatermark(""); err == nil {
		t.Error("expected an error for an empty path")
	}
}
