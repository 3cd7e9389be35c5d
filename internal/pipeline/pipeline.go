// Package pipeline wires the producer schedule and the consumer loop
// into one runnable unit. It owns no business logic: components are
// built by the caller and injected here, and this package only starts,
// supervises, and stops them.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-co-op/gocron/v2"
	"golang.org/x/sync/errgroup"

	"hivemail/internal/consumer"
	"hivemail/internal/logging"
	"hivemail/internal/metrics"
	"hivemail/internal/notify"
	"hivemail/internal/producer"
)

// Config holds pipeline dependencies.
type Config struct {
	// Schedule is the producer cron expression.
	Schedule string
	Producer *producer.Producer
	Consumer *consumer.Consumer

	// Arrivals, when set, triggers an early ingestion run on each
	// notification, ahead of the next scheduled tick. The drop-directory
	// source wires its watcher here.
	Arrivals *notify.Signal
	// Watch, when set, runs alongside the pipeline (e.g. the
	// drop-directory fsnotify loop). Its error stops the pipeline.
	Watch func(ctx context.Context) error

	// MetricsAddr serves Prometheus metrics when non-empty.
	MetricsAddr string
	Metrics     *metrics.Metrics

	Logger *slog.Logger
	Now    func() time.Time
}

// Pipeline runs the scheduled producer and the stream consumer.
type Pipeline struct {
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
}

// New creates a pipeline.
func New(cfg Config) (*Pipeline, error) {
	if cfg.Schedule == "" {
		return nil, fmt.Errorf("pipeline: schedule is required")
	}
	if cfg.Producer == nil {
		return nil, fmt.Errorf("pipeline: producer is required")
	}
	if cfg.Consumer == nil {
		return nil, fmt.Errorf("pipeline: consumer is required")
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Pipeline{
		cfg:    cfg,
		logger: logging.Component(cfg.Logger, "pipeline"),
		now:    now,
	}, nil
}

// Run starts everything and blocks until ctx is cancelled or a
// component fails. Returns nil on clean shutdown.
func (p *Pipeline) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	// Scheduled ingestion. Singleton mode with reschedule keeps a tick
	// from overlapping a still-running prior run: overlap prevention
	// lives in the scheduling layer, not in producer locking.
	sched, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("create scheduler: %w", err)
	}
	_, err = sched.NewJob(
		gocron.CronJob(p.cfg.Schedule, true),
		gocron.NewTask(func() { p.runProducer(ctx) }),
		gocron.WithName("ingestion"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("schedule ingestion job: %w", err)
	}
	sched.Start()
	p.logger.Info("pipeline started", "schedule", p.cfg.Schedule)

	g.Go(func() error {
		return p.cfg.Consumer.Run(ctx)
	})

	if p.cfg.Arrivals != nil {
		g.Go(func() error {
			for {
				if err := p.cfg.Arrivals.Wait(ctx); err != nil {
					return err
				}
				p.runProducer(ctx)
			}
		})
	}
	if p.cfg.Watch != nil {
		g.Go(func() error { return p.cfg.Watch(ctx) })
	}

	var metricsSrv *http.Server
	if p.cfg.MetricsAddr != "" && p.cfg.Metrics != nil {
		mux := http.NewServeMux()
		mux.Handle("/metrics", p.cfg.Metrics.Handler())
		metricsSrv = &http.Server{Addr: p.cfg.MetricsAddr, Handler: mux}
		g.Go(func() error {
			err := metricsSrv.ListenAndServe()
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		})
		p.logger.Info("metrics listening", "addr", p.cfg.MetricsAddr)
	}

	<-ctx.Done()

	if err := sched.Shutdown(); err != nil {
		p.logger.Warn("scheduler shutdown failed", "error", err)
	}
	if metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		metricsSrv.Shutdown(shutdownCtx)
		cancel()
	}

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	p.logger.Info("pipeline stopped")
	return err
}

// runProducer executes one ingestion run; failures are logged here and
// retried wholesale on the next tick.
func (p *Pipeline) runProducer(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if _, err := p.cfg.Producer.Run(ctx, p.now()); err != nil {
		p.logger.Error("ingestion run failed", "error", err)
	}
}
