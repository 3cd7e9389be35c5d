// Package producer implements the scheduled ingestion run: fetch every
// external message since the last watermark and upsert each one into the
// record store.
//
// Runs are idempotent end to end. Record ids come from the source's own
// message identifiers, so refetching the same window upserts the same
// keys, and a lost watermark only costs reprocessing, never duplicates.
// Per-item upsert failures are isolated: the run continues and reports a
// partial status instead of aborting. Overlap between runs is prevented
// by the scheduling layer, not here.
package producer

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"hivemail/internal/bus"
	"hivemail/internal/logging"
	"hivemail/internal/mail"
	"hivemail/internal/metrics"
	"hivemail/internal/record"
)

// Status is the final disposition of one ingestion run.
type Status string

const (
	StatusSuccess Status = "success"
	StatusPartial Status = "partial"
	StatusFailed  Status = "failed"
)

// Report summarizes one run.
type Report struct {
	RunID    string
	Started  time.Time
	Seen     int
	Upserted int
	Failed   int
	Status   Status
}

// Config holds producer dependencies.
type Config struct {
	Source     mail.Source
	Records    record.Store
	Watermarks WatermarkStore
	// Bus receives one run-completed event per run. Optional.
	Bus bus.Publisher
	// Metrics collectors. Optional.
	Metrics *metrics.Metrics
	Logger  *slog.Logger
	Now     func() time.Time
}

// Producer executes ingestion runs.
type Producer struct {
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
}

// New creates a producer.
func New(cfg Config) (*Producer, error) {
	if cfg.Source == nil {
		return nil, fmt.Errorf("producer: source is required")
	}
	if cfg.Records == nil {
		return nil, fmt.Errorf("producer: record store is required")
	}
	if cfg.Watermarks == nil {
		return nil, fmt.Errorf("producer: watermark store is required")
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Producer{
		cfg:    cfg,
		logger: logging.Component(cfg.Logger, "producer"),
		now:    now,
	}, nil
}

// Run executes one ingestion run at the given invocation time.
//
// The watermark advances to the invocation time only when every item
// upserted cleanly; a partial run leaves it in place so the failed items
// are refetched next tick, which the idempotent upsert absorbs. The
// returned error is non-nil only when the run as a whole failed.
func (p *Producer) Run(ctx context.Context, invokedAt time.Time) (Report, error) {
	runID := uuid.Must(uuid.NewV7()).String()
	logger := p.logger.With("run", runID)
	report := Report{RunID: runID, Started: invokedAt}

	since, err := p.cfg.Watermarks.Load(ctx)
	if err != nil {
		report.Status = StatusFailed
		p.finish(ctx, logger, report)
		return report, fmt.Errorf("load watermark: %w", err)
	}

	msgs, err := p.cfg.Source.Fetch(ctx, since)
	if err != nil {
		report.Status = StatusFailed
		p.finish(ctx, logger, report)
		return report, fmt.Errorf("fetch since %s: %w", since.Format(time.RFC3339), err)
	}
	report.Seen = len(msgs)

	for _, msg := range msgs {
		if ctx.Err() != nil {
			report.Status = StatusFailed
			p.finish(ctx, logger, report)
			return report, ctx.Err()
		}
		rec := record.FromMessage(msg, p.now())
		if err := p.cfg.Records.Put(ctx, rec); err != nil {
			report.Failed++
			if p.cfg.Metrics != nil {
				p.cfg.Metrics.UpsertFailures.Inc()
			}
			logger.Warn("record upsert failed", "id", msg.ID, "error", err)
			continue
		}
		report.Upserted++
		if p.cfg.Metrics != nil {
			p.cfg.Metrics.RecordsUpserted.Inc()
		}
	}

	switch {
	case report.Failed == 0:
		report.Status = StatusSuccess
	case report.Upserted > 0:
		report.Status = StatusPartial
	default:
		report.Status = StatusFailed
	}

	if report.Status == StatusSuccess {
		if err := p.cfg.Watermarks.Save(ctx, invokedAt); err != nil {
			// The run itself succeeded; a stale watermark only means the
			// next run refetches this window.
			logger.Warn("watermark save failed", "error", err)
		}
	}

	p.finish(ctx, logger, report)
	if report.Status == StatusFailed && report.Seen > 0 {
		return report, fmt.Errorf("all %d upserts failed", report.Seen)
	}
	return report, nil
}

// finish records run metrics, logs the outcome, and publishes the
// run-completed event. Publishing is fire-and-forget.
func (p *Producer) finish(ctx context.Context, logger *slog.Logger, report Report) {
	if p.cfg.Metrics != nil {
		p.cfg.Metrics.RunsTotal.WithLabelValues(string(report.Status)).Inc()
	}
	logger.Info("ingestion run completed",
		"status", report.Status,
		"seen", report.Seen,
		"upserted", report.Upserted,
		"failed", report.Failed,
	)

	if p.cfg.Bus == nil {
		return
	}
	ev := bus.Event{
		Type: bus.TypeRunCompleted,
		Time: p.now(),
		Attributes: map[string]string{
			"run":      report.RunID,
			"status":   string(report.Status),
			"seen":     strconv.Itoa(report.Seen),
			"upserted": strconv.Itoa(report.Upserted),
			"failed":   strconv.Itoa(report.Failed),
		},
	}
	if err := p.cfg.Bus.Publish(ctx, ev); err != nil {
		logger.Warn("event publish failed", "error", err)
	}
}
