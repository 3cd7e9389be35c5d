package mail

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeDropFile(t *testing.T, dir, name string, msg Message) {
	t.Helper()
	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestDirSourceFetch(t *testing.T) {
	dir := t.TempDir()
	writeDropFile(t, dir, "b.json", Message{ID: "b", Body: "later", ReceivedAt: 2000})
	writeDropFile(t, dir, "a.json", Message{ID: "a", Body: "earlier", ReceivedAt: 1000})
	// Non-json files are ignored.
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("skip me"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	s, err := NewDirSource(DirSourceConfig{Dir: dir})
	if err != nil {
		t.Fatalf("NewDirSource: %v", err)
	}

	msgs, err := s.Fetch(context.Background(), time.Time{})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	if msgs[0].ID != "a" || msgs[1].ID != "b" {
		t.Errorf("order = %q, %q, want oldest first", msgs[0].ID, msgs[1].ID)
	}
}

func TestDirSourceWatermarkFiltersOldFiles(t *testing.T) {
	dir := t.TempDir()
	writeDropFile(t, dir, "old.json", Message{ID: "old"})

	// Backdate the file so it falls behind the watermark.
	past := time.Now().Add(-time.Hour)
	if err := os.Chtimes(filepath.Join(dir, "old.json"), past, past); err != nil {
		t.Fatalf("Chtimes: %v", err)
	}

	s, err := NewDirSource(DirSourceConfig{Dir: dir})
	if err != nil {
		t.Fatalf("NewDirSource: %v", err)
	}

	msgs, err := s.Fetch(context.Background(), time.Now().Add(-time.Minute))
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(msgs) != 0 {
		t.Errorf("got %d messages, want files behind the watermark skipped", len(msgs))
	}
}

func TestDirSourceDefaultsIDFromFilename(t *testing.T) {
	dir := t.TempDir()
	writeDropFile(t, dir, "msg-42.json", Message{Body: "no id inside"})

	s, err := NewDirSource(DirSourceConfig{Dir: dir})
	if err != nil {
		t.Fatalf("NewDirSource: %v", err)
	}
	msgs, err := s.Fetch(context.Background(), time.Time{})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(msgs) != 1 || msgs[0].ID != "msg-42" {
		t.Errorf("msgs = %+v, want id derived from filename", msgs)
	}
	if msgs[0].ReceivedAt == 0 {
		t.Error("ReceivedAt should default to the file modification time")
	}
}

func TestDirSourceSkipsMalformedFiles(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "broken.json"), []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	writeDropFile(t, dir, "good.json", Message{ID: "good"})

	s, err := NewDirSource(DirSourceConfig{Dir: dir})
	if err != nil {
		t.Fatalf("NewDirSource: %v", err)
	}
	msgs, err := s.Fetch(context.Background(), time.Time{})
	if err != nil {
		t.Fatalf("Fetch: a malformed file must not abort the run: %v", err)
	}
	if len(msgs) != 1 || msgs[0].ID != "good" {
		t.Errorf("msgs = %+v, want only the valid message", msgs)
	}
}

func TestNewDirSourceValidation(t *testing.T) {
	if _, err := NewDirSource(DirSourceConfig{Dir: filepath.Join(t.TempDir(), "missing")}); err == nil {
		t.Error("expected an error for a missing directory")
	}

	file := filepath.Join(t.TempDir(), "afile")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := NewDirSource(DirSourceConfig{Dir: file}); err == nil {
		t.Error("expected an error when the path is not a directory")
	}
}

func TestDirSourceWatchNotifiesArrivals(t *testing.T) {
	dir := t.TempDir()
	s, err := NewDirSource(DirSourceConfig{Dir: dir})
	if err != nil {
		t.Fatalf("NewDirSource: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- s.Watch(ctx) }()

	// Let the watcher install before dropping the file.
	time.Sleep(50 * time.Millisecond)
	ch := s.Arrivals().C()
	writeDropFile(t, dir, "new.json", Message{ID: "new"})

	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("Arrivals was not notified for a new drop file")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Watch returned %v on shutdown", err)
		}
	case <-time.After(2 * time.Second):
		t.Error("Watch did not stop")
	}
}
