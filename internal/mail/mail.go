// Package mail defines the external mail source boundary: the message
// shape the pipeline ingests and the Source interface fetch runs go
// through. Implementations live in this package (HTTP provider API,
// local drop directory); credential lifecycles stay outside.
package mail

import (
	"context"
	"errors"
	"time"
)

// ErrNoMessages is returned by sources that can distinguish "nothing new"
// from an empty successful fetch. Callers may treat it as a zero-length
// result.
var ErrNoMessages = errors.New("no messages")

// Message is one external mail item, normalized across providers.
// ID is the provider's own stable identifier for the message and is the
// identity the rest of the pipeline keys on; it is never regenerated.
type Message struct {
	ID         string            `json:"id" msgpack:"id"`
	Username   string            `json:"username" msgpack:"username"`
	Platform   string            `json:"platform" msgpack:"platform"`
	Sender     string            `json:"sender" msgpack:"sender"`
	Recipient  string            `json:"recipient" msgpack:"recipient"`
	Subject    string            `json:"subject,omitempty" msgpack:"subject"`
	Body       string            `json:"body,omitempty" msgpack:"body"`
	ReceivedAt int64             `json:"receivedAt" msgpack:"received_at"` // epoch millis
	Metadata   map[string]string `json:"metadata,omitempty" msgpack:"metadata"`
}

// Source fetches messages created or modified since the given watermark.
// Fetch must be safe to call repeatedly with the same watermark; the
// pipeline tolerates re-delivery through idempotent upserts downstream.
type Source interface {
	Fetch(ctx context.Context, since time.Time) ([]Message, error)
}
