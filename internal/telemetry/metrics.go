// Package telemetry registers the process-wide Prometheus metrics exposed on
// the ops endpoint.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	IngestRecords = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "heimdall_ingest_records_total",
		Help: "Ingestion outcomes per source family",
	}, []string{"source_family", "status"})

	IngestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "heimdall_ingest_duration_seconds",
		Help:    "Per-entry ingestion latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"source_family"})

	CleanRows = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "heimdall_clean_rows_total",
		Help: "Silver rows written per source family",
	}, []string{"source_family"})

	CleanSkips = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "heimdall_clean_skips_total",
		Help: "Raw items dropped by cleaning validation",
	}, []string{"source_family"})

	CleanBatches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "heimdall_clean_batches_total",
		Help: "Cleaning batches committed per source family",
	}, []string{"source_family"})

	ExtractionFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "heimdall_body_extraction_failures_total",
		Help: "Article body extractions that fell back to the description",
	})

	SchedulerTicks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "heimdall_scheduler_ticks_total",
		Help: "Scheduler firings per frequency and outcome",
	}, []string{"frequency", "outcome"})
)
