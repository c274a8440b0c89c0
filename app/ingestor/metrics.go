package ingestor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Completed page cycles partitioned by check mode
	cyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingestor_cycles_total",
			Help: "Number of ingest cycles completed per check mode",
		},
		[]string{"mode"},
	)

	// last_interaction_at updates evicted from a full queue
	updatesDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ingestor_updates_dropped_total",
			Help: "Number of queued last-interaction updates dropped because the queue was full",
		},
	)

	// Batch writer flush latency
	flushDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ingestor_flush_duration_seconds",
			Help:    "Duration of batch writer flushes in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)
)
