// Package consumer implements the change-stream side of the pipeline:
// pull bounded batches of record changes, summarize each through the
// external inference service, and upsert the results.
//
// One worker runs per stream partition, so batches in different
// partitions proceed concurrently while events within a partition are
// processed strictly in arrival order. A batch is retried whole on
// transient failure; no partial success is tracked inside the batch,
// because the idempotent summary upsert makes re-summarizing an
// already-committed item a no-op overwrite. Batches that exhaust the
// retry budget, or hit a permanent inference error, go to the dead-letter
// sink and are then acknowledged so the partition keeps moving.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"hivemail/internal/deadletter"
	"hivemail/internal/logging"
	"hivemail/internal/metrics"
	"hivemail/internal/stream"
	"hivemail/internal/summarize"
	"hivemail/internal/summary"
)

// Defaults mirror the deployment the pipeline replaced: stream batches of
// five with two retries.
const (
	DefaultMaxBatchSize = 5
	DefaultMaxRetries   = 2
	DefaultBackoff      = time.Second
)

// Config holds consumer dependencies and tuning.
type Config struct {
	Stream *stream.Log
	// Start selects the cursor start position. The pipeline deploys with
	// StartLatest: new consumers do not reprocess history.
	Start       stream.StartPosition
	Summarizer  summarize.Summarizer
	Summaries   summary.Store
	DeadLetters deadletter.Sink

	// MaxBatchSize caps events pulled per batch. Defaults to 5.
	MaxBatchSize int
	// MaxRetries caps transient whole-batch retries. Defaults to 2.
	MaxRetries int
	// Backoff is the base delay before the first retry; it doubles per
	// retry. Defaults to 1s.
	Backoff time.Duration

	Metrics *metrics.Metrics
	Logger  *slog.Logger
	Now     func() time.Time
}

// Consumer drives summarization off the change stream.
type Consumer struct {
	cfg    Config
	cursor *stream.Cursor
	logger *slog.Logger
	now    func() time.Time
}

// New subscribes to the stream and returns a ready consumer.
func New(cfg Config) (*Consumer, error) {
	if cfg.Stream == nil {
		return nil, fmt.Errorf("consumer: stream is required")
	}
	if cfg.Summarizer == nil {
		return nil, fmt.Errorf("consumer: summarizer is required")
	}
	if cfg.Summaries == nil {
		return nil, fmt.Errorf("consumer: summary store is required")
	}
	if cfg.DeadLetters == nil {
		return nil, fmt.Errorf("consumer: dead-letter sink is required")
	}
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = DefaultMaxBatchSize
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = DefaultBackoff
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Consumer{
		cfg:    cfg,
		cursor: cfg.Stream.Subscribe(cfg.Start),
		logger: logging.Component(cfg.Logger, "consumer"),
		now:    now,
	}, nil
}

// Run processes batches until ctx is cancelled, one goroutine per
// partition. Returns nil on clean shutdown.
func (c *Consumer) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for part := 0; part < c.cfg.Stream.Partitions(); part++ {
		g.Go(func() error { return c.runPartition(ctx, part) })
	}
	c.logger.Info("consumer started",
		"partitions", c.cfg.Stream.Partitions(),
		"max_batch", c.cfg.MaxBatchSize,
		"max_retries", c.cfg.MaxRetries,
	)

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	c.logger.Info("consumer stopped")
	return err
}

func (c *Consumer) runPartition(ctx context.Context, part int) error {
	logger := c.logger.With("partition", part)
	for {
		events, err := c.cursor.Next(ctx, part, c.cfg.MaxBatchSize)
		if err != nil {
			if errors.Is(err, stream.ErrGap) {
				// Events aged out before we read them; surface loudly and
				// continue from the earliest retained event.
				if c.cfg.Metrics != nil {
					c.cfg.Metrics.StreamGaps.Inc()
				}
				logger.Error("events lost to retention", "error", err)
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}

		batch := &Batch{Partition: part, Events: events}
		if err := c.process(ctx, batch); err != nil {
			return err
		}
		// Ack in both the committed and dead-lettered case; a
		// dead-lettered batch is surfaced out of band, not requeued.
		c.cursor.Ack(part, events[len(events)-1].Seq)
	}
}

// process drives one batch through the state machine to Idle or Failed.
// Returns an error only for context cancellation; batch-level failures
// terminate in the dead-letter sink instead.
func (c *Consumer) process(ctx context.Context, batch *Batch) error {
	logger := c.logger.With("partition", batch.Partition)

	st, err := Step(State{Phase: PhaseIdle, Batch: batch}, OutcomeBatchPulled, c.cfg.MaxRetries)
	if err != nil {
		return err
	}

	var results map[uint64]string
	var lastErr error

	for {
		switch st.Phase {
		case PhaseBatchAcquired:
			st, err = Step(st, OutcomeInvokeStarted, c.cfg.MaxRetries)

		case PhaseInvoking:
			results, lastErr = c.invokeAll(ctx, batch)
			switch {
			case lastErr == nil:
				st, err = Step(st, OutcomeInvokedAll, c.cfg.MaxRetries)
			case ctx.Err() != nil:
				return ctx.Err()
			case summarize.IsPermanent(lastErr):
				st, err = Step(st, OutcomePermanentFailure, c.cfg.MaxRetries)
			default:
				st, err = Step(st, OutcomeTransientFailure, c.cfg.MaxRetries)
			}

		case PhaseRetrying:
			if c.cfg.Metrics != nil {
				c.cfg.Metrics.InferenceRetries.Inc()
			}
			logger.Warn("batch retry",
				"attempt", batch.RetryCount,
				"max_retries", c.cfg.MaxRetries,
				"error", lastErr,
			)
			if err := c.backoff(ctx, batch.RetryCount); err != nil {
				return err
			}
			st, err = Step(st, OutcomeInvokeStarted, c.cfg.MaxRetries)

		case PhaseCommitting:
			commitErr := c.commit(ctx, batch, results)
			switch {
			case commitErr == nil:
				st, err = Step(st, OutcomeCommitted, c.cfg.MaxRetries)
			case ctx.Err() != nil:
				return ctx.Err()
			default:
				lastErr = commitErr
				st, err = Step(st, OutcomeTransientFailure, c.cfg.MaxRetries)
			}

		case PhaseIdle:
			if c.cfg.Metrics != nil {
				c.cfg.Metrics.BatchesCommitted.Inc()
			}
			return nil

		case PhaseFailed:
			return c.fail(ctx, batch, lastErr)
		}
		if err != nil {
			return err
		}
	}
}

// invokeAll summarizes every summarizable event in the batch, in order.
// Deletes carry nothing to summarize and are skipped. The first failure
// aborts the attempt; results are keyed by event sequence so a later
// event for the same record overwrites an earlier one at commit time.
func (c *Consumer) invokeAll(ctx context.Context, batch *Batch) (map[uint64]string, error) {
	results := make(map[uint64]string, len(batch.Events))
	for _, ev := range batch.Events {
		if ev.Type == stream.TypeDelete || ev.After == nil {
			continue
		}
		text, err := c.cfg.Summarizer.Summarize(ctx, ev.After.Payload.Body)
		if err != nil {
			return nil, fmt.Errorf("summarize %s: %w", ev.RecordID, err)
		}
		results[ev.Seq] = text
	}
	return results, nil
}

// commit upserts one summary per summarized event, in event order, so the
// newest event for a record id wins.
func (c *Consumer) commit(ctx context.Context, batch *Batch, results map[uint64]string) error {
	generatedAt := c.now()
	for _, ev := range batch.Events {
		text, ok := results[ev.Seq]
		if !ok {
			continue
		}
		sum := summary.Summary{
			ID:          ev.RecordID,
			SummaryText: text,
			Model:       c.cfg.Summarizer.Model(),
			GeneratedAt: generatedAt,
			Username:    ev.After.Payload.Username,
			Source:      ev.After.Payload.Platform,
			Sender:      ev.After.Payload.Sender,
			Subject:     ev.After.Payload.Subject,
			ReceivedAt:  ev.After.Payload.ReceivedAt,
		}
		if err := c.cfg.Summaries.Put(ctx, sum); err != nil {
			return fmt.Errorf("commit summary %s: %w", ev.RecordID, err)
		}
		if c.cfg.Metrics != nil {
			c.cfg.Metrics.SummariesWritten.Inc()
		}
	}
	return nil
}

// fail surfaces an exhausted batch to the dead-letter sink.
func (c *Consumer) fail(ctx context.Context, batch *Batch, lastErr error) error {
	class := deadletter.ClassRetryExhausted
	if summarize.IsPermanent(lastErr) {
		class = deadletter.ClassPermanent
	}
	if c.cfg.Metrics != nil {
		c.cfg.Metrics.BatchesFailed.WithLabelValues(string(class)).Inc()
	}

	// Attempts counts invocations actually made: the initial attempt plus
	// one per retry. On exhaustion the retry count has already ticked past
	// the budget, so cap it.
	attempts := min(batch.RetryCount, c.cfg.MaxRetries) + 1
	failed := deadletter.FailedBatch{
		Partition: batch.Partition,
		Events:    batch.Events,
		Attempts:  attempts,
		Class:     class,
		LastError: lastErr.Error(),
		FailedAt:  c.now(),
	}
	if err := c.cfg.DeadLetters.Deposit(ctx, failed); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		// Deposit failed on top of the batch failing; log everything we
		// know rather than lose the trail entirely.
		c.logger.Error("dead-letter deposit failed",
			"partition", batch.Partition,
			"events", len(batch.Events),
			"batch_error", lastErr,
			"deposit_error", err,
		)
	}
	return nil
}

// backoff sleeps for the base backoff doubled per prior retry.
func (c *Consumer) backoff(ctx context.Context, retry int) error {
	delay := c.cfg.Backoff << (retry - 1)
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
