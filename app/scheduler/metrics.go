package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Messages delivered to recipients
	messagesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "campaign_messages_sent_total",
			Help: "Number of campaign messages sent per cohort and message type",
		},
		[]string{"cohort", "type"},
	)

	// Recipients whose dispatch stopped on an error
	dispatchFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "campaign_dispatch_failures_total",
			Help: "Number of recipients whose dispatch failed per cohort",
		},
		[]string{"cohort"},
	)

	// Steps skipped because their asset file is missing
	assetsMissing = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "campaign_assets_missing_total",
			Help: "Number of image or video messages skipped because the asset was not found",
		},
	)

	// Schedules held in memory
	activeSchedules = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "campaign_active_schedules",
			Help: "Number of schedules currently active per cohort",
		},
		[]string{"cohort"},
	)

	// Cohort tick latency
	tickDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "campaign_tick_duration_seconds",
			Help:    "Duration of one cohort evaluation tick in seconds",
			Buckets: []float64{0.01, 0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
		},
		[]string{"cohort"},
	)
)
