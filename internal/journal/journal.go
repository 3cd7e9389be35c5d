// Package journal provides an append-only segmented journal used by the
// file-backed stores.
//
// Layout: one directory per journal, numbered segments. The active
// segment is a plain framed log; when it reaches the size threshold it is
// sealed, which compresses it with zstd and starts a fresh segment:
//
//	00000001.log.zst   sealed
//	00000002.log.zst   sealed
//	00000003.log       active
//
// Entries are opaque byte slices framed with a 4-byte big-endian length.
// Replay visits every entry in append order across all segments; callers
// rebuild their in-memory state from it at open time.
package journal

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/klauspost/compress/zstd"

	"hivemail/internal/logging"
)

const (
	segmentSuffix = ".log"
	sealedSuffix  = ".log.zst"

	defaultSegmentBytes = 4 << 20
	maxEntryBytes       = 16 << 20
)

// ErrClosed is returned by operations on a closed journal.
var ErrClosed = errors.New("journal is closed")

// Config holds journal settings.
type Config struct {
	Dir string
	// SegmentBytes is the seal threshold for the active segment.
	// Defaults to 4 MiB.
	SegmentBytes int64
	FileMode     os.FileMode
	Logger       *slog.Logger
}

// Journal is a single-writer segmented append log.
type Journal struct {
	mu          sync.Mutex
	cfg         Config
	active      *os.File
	activeSeq   uint64
	activeBytes int64
	closed      bool
	logger      *slog.Logger
}

// Open creates or resumes a journal in cfg.Dir, creating the directory
// if needed. The highest existing plain segment becomes the active one.
func Open(cfg Config) (*Journal, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("journal: dir is required")
	}
	if cfg.SegmentBytes <= 0 {
		cfg.SegmentBytes = defaultSegmentBytes
	}
	if cfg.FileMode == 0 {
		cfg.FileMode = 0o644
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("journal: create dir: %w", err)
	}

	j := &Journal{
		cfg:    cfg,
		logger: logging.Component(cfg.Logger, "journal").With("dir", cfg.Dir),
	}

	segs, err := j.segments()
	if err != nil {
		return nil, err
	}
	next := uint64(1)
	for _, s := range segs {
		if s.seq >= next {
			next = s.seq
			if s.sealed {
				next++
			}
		}
	}
	if err := j.openActive(next); err != nil {
		return nil, err
	}
	return j, nil
}

type segment struct {
	seq    uint64
	path   string
	sealed bool
}

// segments lists journal segments in sequence order.
func (j *Journal) segments() ([]segment, error) {
	entries, err := os.ReadDir(j.cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("journal: read dir: %w", err)
	}
	var segs []segment
	for _, e := range entries {
		name := e.Name()
		var base string
		var sealed bool
		switch {
		case strings.HasSuffix(name, sealedSuffix):
			base = strings.TrimSuffix(name, sealedSuffix)
			sealed = true
		case strings.HasSuffix(name, segmentSuffix):
			base = strings.TrimSuffix(name, segmentSuffix)
		default:
			continue
		}
		seq, err := strconv.ParseUint(base, 10, 64)
		if err != nil {
			continue
		}
		segs = append(segs, segment{seq: seq, path: filepath.Join(j.cfg.Dir, name), sealed: sealed})
	}
	sort.Slice(segs, func(a, b int) bool { return segs[a].seq < segs[b].seq })
	return segs, nil
}

func (j *Journal) openActive(seq uint64) error {
	path := filepath.Join(j.cfg.Dir, fmt.Sprintf("%08d%s", seq, segmentSuffix))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, j.cfg.FileMode)
	if err != nil {
		return fmt.Errorf("journal: open segment: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("journal: stat segment: %w", err)
	}
	j.active = f
	j.activeSeq = seq
	j.activeBytes = info.Size()
	return nil
}

// Append writes one entry and seals the segment when the threshold is
// crossed. The entry is durable (synced) before Append returns.
func (j *Journal) Append(data []byte) error {
	if len(data) > maxEntryBytes {
		return fmt.Errorf("journal: entry of %d bytes exceeds limit", len(data))
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return ErrClosed
	}

	var frame [4]byte
	binary.BigEndian.PutUint32(frame[:], uint32(len(data)))
	if _, err := j.active.Write(frame[:]); err != nil {
		return fmt.Errorf("journal: write frame: %w", err)
	}
	if _, err := j.active.Write(data); err != nil {
		return fmt.Errorf("journal: write entry: %w", err)
	}
	if err := j.active.Sync(); err != nil {
		return fmt.Errorf("journal: sync: %w", err)
	}
	j.activeBytes += int64(len(frame)) + int64(len(data))

	if j.activeBytes >= j.cfg.SegmentBytes {
		if err := j.seal(); err != nil {
			return err
		}
	}
	return nil
}

// seal compresses the active segment and opens the next one.
// Caller holds the lock.
func (j *Journal) seal() error {
	rawPath := j.active.Name()
	if err := j.active.Close(); err != nil {
		return fmt.Errorf("journal: close segment: %w", err)
	}

	if err := compressFile(rawPath, rawPath+".zst.tmp"); err != nil {
		return fmt.Errorf("journal: seal segment: %w", err)
	}
	sealedPath := strings.TrimSuffix(rawPath, segmentSuffix) + sealedSuffix
	if err := os.Rename(rawPath+".zst.tmp", sealedPath); err != nil {
		return fmt.Errorf("journal: finalize sealed segment: %w", err)
	}
	if err := os.Remove(rawPath); err != nil {
		return fmt.Errorf("journal: remove raw segment: %w", err)
	}
	j.logger.Info("segment sealed", "seq", j.activeSeq, "bytes", j.activeBytes)

	return j.openActive(j.activeSeq + 1)
}

func compressFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(out)
	if err != nil {
		out.Close()
		return err
	}
	if _, err := io.Copy(enc, in); err != nil {
		enc.Close()
		out.Close()
		os.Remove(dst)
		return err
	}
	if err := enc.Close(); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	return out.Close()
}

// Replay visits every entry across all segments in append order. It must
// run before any Append on a resumed journal; callers conventionally
// replay immediately after Open.
func (j *Journal) Replay(fn func(entry []byte) error) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return ErrClosed
	}

	segs, err := j.segments()
	if err != nil {
		return err
	}
	for _, s := range segs {
		if err := replaySegment(s, fn); err != nil {
			return fmt.Errorf("journal: replay segment %d: %w", s.seq, err)
		}
	}
	return nil
}

func replaySegment(s segment, fn func([]byte) error) error {
	f, err := os.Open(s.path)
	if err != nil {
		return err
	}
	defer f.Close()

	var r io.Reader = f
	if s.sealed {
		dec, err := zstd.NewReader(f)
		if err != nil {
			return err
		}
		defer dec.Close()
		r = dec
	}

	for {
		var frame [4]byte
		if _, err := io.ReadFull(r, frame[:]); err != nil {
			if err == io.EOF {
				return nil
			}
			// A torn trailing frame in the active segment means the
			// process died mid-write; everything before it is intact.
			if err == io.ErrUnexpectedEOF && !s.sealed {
				return nil
			}
			return err
		}
		size := binary.BigEndian.Uint32(frame[:])
		if size > maxEntryBytes {
			return fmt.Errorf("corrupt frame size %d", size)
		}
		entry := make([]byte, size)
		if _, err := io.ReadFull(r, entry); err != nil {
			if err == io.ErrUnexpectedEOF && !s.sealed {
				return nil
			}
			return err
		}
		if err := fn(entry); err != nil {
			return err
		}
	}
}

// Close closes the active segment. Further appends fail with ErrClosed.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return nil
	}
	j.closed = true
	return j.active.Close()
}
