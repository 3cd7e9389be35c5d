// Package metrics defines the pipeline's Prometheus collectors. A single
// Metrics value is created in main and handed to the producer and
// consumer; a nil *Metrics disables collection, so tests don't need a
// registry.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the pipeline collectors.
type Metrics struct {
	registry *prometheus.Registry

	RunsTotal        *prometheus.CounterVec // by status
	RecordsUpserted  prometheus.Counter
	UpsertFailures   prometheus.Counter
	BatchesCommitted prometheus.Counter
	BatchesFailed    *prometheus.CounterVec // by class
	InferenceRetries prometheus.Counter
	StreamGaps       prometheus.Counter
	SummariesWritten prometheus.Counter
}

// New creates and registers the collectors on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hivemail_ingestion_runs_total",
			Help: "Ingestion runs by final status.",
		}, []string{"status"}),
		RecordsUpserted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hivemail_records_upserted_total",
			Help: "Records upserted into the record store.",
		}),
		UpsertFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hivemail_record_upsert_failures_total",
			Help: "Per-item upsert failures during ingestion runs.",
		}),
		BatchesCommitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hivemail_batches_committed_total",
			Help: "Consumer batches committed successfully.",
		}),
		BatchesFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hivemail_batches_failed_total",
			Help: "Consumer batches surfaced to the dead-letter path, by failure class.",
		}, []string{"class"}),
		InferenceRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hivemail_inference_retries_total",
			Help: "Batch retries caused by transient inference failures.",
		}),
		StreamGaps: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hivemail_stream_gaps_total",
			Help: "Retention gaps observed by the consumer cursor.",
		}),
		SummariesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hivemail_summaries_written_total",
			Help: "Summaries upserted into the result store.",
		}),
	}
	reg.MustRegister(
		m.RunsTotal,
		m.RecordsUpserted,
		m.UpsertFailures,
		m.BatchesCommitted,
		m.BatchesFailed,
		m.InferenceRetries,
		m.StreamGaps,
		m.SummariesWritten,
	)
	return m
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
