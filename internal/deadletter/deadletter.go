// Package deadletter provides the out-of-band sink for batches that
// exhausted their retry budget. This is the one place the pipeline can
// lose data, so deposits must be observable: sinks persist the full batch
// for inspection and manual replay, and a deposit failure is a loud
// error, never a silent drop.
package deadletter

import (
	"context"
	"time"

	"hivemail/internal/stream"
)

// FailureClass records why the batch was abandoned.
type FailureClass string

const (
	// ClassRetryExhausted means transient failures persisted through the
	// whole retry budget.
	ClassRetryExhausted FailureClass = "retry-exhausted"
	// ClassPermanent means the inference service rejected the content.
	ClassPermanent FailureClass = "permanent"
)

// FailedBatch is the terminal form of a consumer batch.
type FailedBatch struct {
	Partition int            `json:"partition"`
	Events    []stream.Event `json:"events"`
	Attempts  int            `json:"attempts"`
	Class     FailureClass   `json:"class"`
	LastError string         `json:"lastError"`
	FailedAt  time.Time      `json:"failedAt"`
}

// Sink persists failed batches.
type Sink interface {
	Deposit(ctx context.Context, batch FailedBatch) error
}
