// Package record defines the primary store contract for ingested mail.
//
// Records are keyed by the external source's own message identifier; the
// id is assigned on first sight and never regenerated, so re-ingestion of
// the same external item always lands on the same key. Stores implement
// upsert-by-id only; this pipeline never deletes records.
//
// Implementations live in the memory and file subpackages. Every
// committed mutation is appended to a stream.Log supplied at
// construction, in commit order per record id.
package record

import (
	"context"
	"errors"
	"time"

	"hivemail/internal/mail"
)

// ErrNotFound is returned by Get for unknown ids.
var ErrNotFound = errors.New("record not found")

// ErrMissingID rejects records without a stable identifier.
var ErrMissingID = errors.New("record id is required")

// Record is one ingested mail item. ID is immutable once created.
type Record struct {
	ID         string       `json:"id" msgpack:"id"`
	Payload    mail.Message `json:"payload" msgpack:"payload"`
	IngestedAt time.Time    `json:"ingestedAt" msgpack:"ingested_at"`
}

// FromMessage builds a Record keyed by the message's provider id.
func FromMessage(msg mail.Message, at time.Time) Record {
	return Record{ID: msg.ID, Payload: msg, IngestedAt: at}
}

// Clone returns a copy safe to hand out as a change-event snapshot.
func (r Record) Clone() Record {
	out := r
	if r.Payload.Metadata != nil {
		md := make(map[string]string, len(r.Payload.Metadata))
		for k, v := range r.Payload.Metadata {
			md[k] = v
		}
		out.Payload.Metadata = md
	}
	return out
}

// Validate checks structural invariants before a Put.
func (r Record) Validate() error {
	if r.ID == "" {
		return ErrMissingID
	}
	return nil
}

// Store is an upsert-by-id record store.
//
// Put is idempotent: writing the same (id, payload) twice leaves the
// store in the same state. Each committed Put still emits one change
// event, including no-op overwrites; downstream consumers absorb those
// through idempotent summary upserts.
type Store interface {
	Put(ctx context.Context, rec Record) error
	Get(ctx context.Context, id string) (Record, error)
	Len(ctx context.Context) (int, error)
}
