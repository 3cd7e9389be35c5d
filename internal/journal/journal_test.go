package journal

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func openTestJournal(t *testing.T, dir string, segmentBytes int64) *Journal {
	t.Helper()
	j, err := Open(Config{Dir: dir, SegmentBytes: segmentBytes})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { j.Close() })
	return j
}

func collect(t *testing.T, j *Journal) []string {
	t.Helper()
	var entries []string
	if err := j.Replay(func(entry []byte) error {
		entries = append(entries, string(entry))
		return nil
	}); err != nil {
		t.Fatalf("Replay: %v", err)
	}
	return entries
}

func TestAppendAndReplay(t *testing.T) {
	dir := t.TempDir()
	j := openTestJournal(t, dir, 0)

	want := []string{"one", "two", "three"}
	for _, e := range want {
		if err := j.Append([]byte(e)); err != nil {
			t.Fatalf("Append(%q): %v", e, err)
		}
	}

	got := collect(t, j)
	if len(got) != len(want) {
		t.Fatalf("replayed %d entries, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("entry %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestReplaySurvivesReopen(t *testing.T) {
	dir := t.TempDir()

	j := openTestJournal(t, dir, 0)
	if err := j.Append([]byte("persisted")); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := j.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	j2 := openTestJournal(t, dir, 0)
	got := collect(t, j2)
	if len(got) != 1 || got[0] != "persisted" {
		t.Fatalf("after reopen got %v, want [persisted]", got)
	}

	// Appends resume in the same stream.
	if err := j2.Append([]byte("appended")); err != nil {
		t.Fatalf("Append after reopen: %v", err)
	}
	got = collect(t, j2)
	if len(got) != 2 || got[1] != "appended" {
		t.Fatalf("got %v, want [persisted appended]", got)
	}
}

func TestSegmentSealing(t *testing.T) {
	dir := t.TempDir()
	// Tiny threshold so every append seals a segment.
	j := openTestJournal(t, dir, 8)

	for i := 0; i < 3; i++ {
		if err := j.Append([]byte(fmt.Sprintf("entry-%d", i))); err != nil {
			t.Fatalf("Append %d: %v", i, err)
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	var sealed, active int
	for _, e := range entries {
		switch {
		case strings.HasSuffix(e.Name(), ".log.zst"):
			sealed++
		case strings.HasSuffix(e.Name(), ".log"):
			active++
		}
	}
	if sealed != 3 {
		t.Errorf("got %d sealed segments, want 3", sealed)
	}
	if active != 1 {
		t.Errorf("got %d active segments, want 1", active)
	}

	// Replay still yields everything across sealed and active segments.
	got := collect(t, j)
	if len(got) != 3 {
		t.Fatalf("replayed %d entries, want 3", len(got))
	}
	for i, e := range got {
		if e != fmt.Sprintf("entry-%d", i) {
			t.Errorf("entry %d = %q", i, e)
		}
	}
}

func TestReplayToleratesTornTrailingFrame(t *testing.T) {
	dir := t.TempDir()
	j := openTestJournal(t, dir, 0)
	if err := j.Append([]byte("intact")); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := j.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Simulate a crash mid-write: a frame header promising more bytes
	// than the file holds.
	path := filepath.Join(dir, "00000001.log")
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		t.Fatalf("open segment: %v", err)
	}
	if _, err := f.Write([]byte{0, 0, 0, 200, 'x', 'y'}); err != nil {
		t.Fatalf("write torn frame: %v", err)
	}
	f.Close()

	j2 := openTestJournal(t, dir, 0)
	got := collect(t, j2)
	if len(got) != 1 || got[0] != "intact" {
		t.Fatalf("got %v, want the intact entry only", got)
	}
}

func TestAppendAfterClose(t *testing.T) {
	j := openTestJournal(t, t.TempDir(), 0)
	if err := j.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := j.Append([]byte("late")); !errors.Is(err, ErrClosed) {
		t.Errorf("Append after close = %v, want ErrClosed", err)
	}
}

func TestAppendRejectsOversizedEntry(t *testing.T) {
	j := openTestJournal(t, t.TempDir(), 0)
	if err := j.Append(make([]byte, maxEntryBytes+1)); err == nil {
		t.Error("expected error for oversized entry")
	}
}

func TestOpenRequiresDir(t *testing.T) {
	if _, err := Open(Config{}); err == nil {
		t.Error("expected error for empty dir")
	}
}
