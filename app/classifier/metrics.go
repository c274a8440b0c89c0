package classifier

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Category changes partitioned by the pipeline stage that decided them
	decisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "classifier_decisions_total",
			Help: "Number of classification rows written per decision source",
		},
		[]string{"source"},
	)

	// LLM calls that produced no usable category
	llmNoAnswer = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "classifier_llm_no_answer_total",
			Help: "Number of LLM classification calls without a parsable category",
		},
	)
)
