// Package stream provides the ordered, partitioned change log over record
// mutations.
//
// Events are grouped into partitions by a hash of the record id. Ordering
// is guaranteed within a partition only. Cursors read forward from a
// configured start position and advance on explicit acknowledgement, so
// events delivered but never acked are redelivered on the next read.
// Retention is a bounded per-partition window; a cursor that falls behind
// the window observes a gap error and resumes at the earliest retained
// event.
package stream

import (
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"

	"hivemail/internal/logging"
	"hivemail/internal/notify"
	"hivemail/internal/record"
)

// Type classifies a record mutation.
type Type int

const (
	TypeInsert Type = iota + 1
	TypeUpdate
	TypeDelete
)

func (t Type) String() string {
	switch t {
	case TypeInsert:
		return "insert"
	case TypeUpdate:
		return "update"
	case TypeDelete:
		return "delete"
	default:
		return fmt.Sprintf("type(%d)", int(t))
	}
}

// Event is one committed record mutation. Seq is monotonic within the
// event's partition, starting at 1. Before and After are snapshots; After
// is nil for deletes, Before is nil for inserts.
type Event struct {
	RecordID  string
	Type      Type
	Before    *record.Record
	After     *record.Record
	Partition int
	Seq       uint64
}

// ErrGap marks a retention gap; match with errors.Is. The concrete error
// is a *GapError carrying the partition and the number of lost events.
var ErrGap = errors.New("change stream gap")

// GapError reports events aged out of retention before a cursor read
// them. The cursor has already been repositioned to the earliest retained
// event when this is returned.
type GapError struct {
	Partition int
	Missed    uint64
}

func (e *GapError) Error() string {
	return fmt.Sprintf("change stream gap: partition %d lost %d events to retention", e.Partition, e.Missed)
}

func (e *GapError) Is(target error) bool { return target == ErrGap }

// StartPosition selects where a new cursor begins reading.
type StartPosition int

const (
	// StartLatest delivers only events appended after Subscribe. New
	// deployments do not reprocess pre-existing history.
	StartLatest StartPosition = iota
	// StartEarliest delivers from the oldest retained event.
	StartEarliest
)

// Config holds change log settings.
type Config struct {
	// Partitions is the ordering-boundary count. Defaults to 4.
	Partitions int
	// Retention caps retained events per partition. Defaults to 1024.
	Retention int
	Logger    *slog.Logger
}

// PartitionFor maps a record id to its partition.
func PartitionFor(id string, partitions int) int {
	h := fnv.New32a()
	h.Write([]byte(id))
	return int(h.Sum32() % uint32(partitions))
}

type partition struct {
	firstSeq uint64 // seq of events[0]
	nextSeq  uint64 // seq assigned to the next append
	events   []Event
}

// Log is the in-process change log. Stores append under their commit
// path; cursors read concurrently, one goroutine per partition.
type Log struct {
	mu        sync.Mutex
	parts     []*partition
	retention int
	signal    *notify.Signal
	logger    *slog.Logger
}

// NewLog creates a change log.
func NewLog(cfg Config) *Log {
	if cfg.Partitions <= 0 {
		cfg.Partitions = 4
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 1024
	}
	parts := make([]*partition, cfg.Partitions)
	for i := range parts {
		parts[i] = &partition{firstSeq: 1, nextSeq: 1}
	}
	return &Log{
		parts:     parts,
		retention: cfg.Retention,
		signal:    notify.NewSignal(),
		logger:    logging.Component(cfg.Logger, "stream"),
	}
}

// Partitions returns the partition count.
func (l *Log) Partitions() int { return len(l.parts) }

// Append stamps the event with its partition and sequence, retains it,
// and wakes blocked cursors. Returns the stamped event.
func (l *Log) Append(e Event) Event {
	l.mu.Lock()
	e.Partition = PartitionFor(e.RecordID, len(l.parts))
	p := l.parts[e.Partition]
	e.Seq = p.nextSeq
	p.nextSeq++
	p.events = append(p.events, e)
	if len(p.events) > l.retention {
		drop := len(p.events) - l.retention
		p.events = append([]Event(nil), p.events[drop:]...)
		p.firstSeq += uint64(drop)
	}
	l.mu.Unlock()

	l.signal.Notify()
	return e
}

// Subscribe creates a cursor at the given start position. The design
// assumes a single logical consumer group; callers that subscribe twice
// get independent cursors with independent positions.
func (l *Log) Subscribe(pos StartPosition) *Cursor {
	l.mu.Lock()
	defer l.mu.Unlock()

	positions := make([]uint64, len(l.parts))
	for i, p := range l.parts {
		switch pos {
		case StartEarliest:
			positions[i] = p.firstSeq
		default:
			positions[i] = p.nextSeq
		}
	}
	return &Cursor{log: l, pos: positions}
}
