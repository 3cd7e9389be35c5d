// Package summary defines the result store contract for derived
// summaries.
//
// A summary is keyed by the id of the record it was derived from, so
// there is at most one current summary per record and re-processing
// overwrites instead of duplicating. Summaries are only written after a
// successful inference call, never speculatively.
package summary

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get for unknown ids.
var ErrNotFound = errors.New("summary not found")

// ErrMissingID rejects summaries without a record id.
var ErrMissingID = errors.New("summary id is required")

// Summary is the derived enrichment of one record. ID equals the source
// record id. The message fields are denormalized from the record snapshot
// the summary was generated from, so a summary is readable without a
// record store lookup.
type Summary struct {
	ID          string    `json:"id" msgpack:"id"`
	SummaryText string    `json:"summaryText" msgpack:"summary_text"`
	Model       string    `json:"model" msgpack:"model"`
	GeneratedAt time.Time `json:"generatedAt" msgpack:"generated_at"`

	Username   string `json:"username,omitempty" msgpack:"username"`
	Source     string `json:"source,omitempty" msgpack:"source"`
	Sender     string `json:"sender,omitempty" msgpack:"sender"`
	Subject    string `json:"subject,omitempty" msgpack:"subject"`
	ReceivedAt int64  `json:"receivedAt,omitempty" msgpack:"received_at"`
}

// Validate checks structural invariants before a Put.
func (s Summary) Validate() error {
	if s.ID == "" {
		return ErrMissingID
	}
	return nil
}

// Store is an upsert-by-id summary store. Put overwrites any existing
// summary for the same id.
type Store interface {
	Put(ctx context.Context, sum Summary) error
	Get(ctx context.Context, id string) (Summary, error)
	Len(ctx context.Context) (int, error)
}
