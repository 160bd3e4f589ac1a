package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RowsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pulse_rows_processed_total",
		Help: "The total number of source rows handled by the extract stage",
	}, []string{"outcome"})

	LLMRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pulse_llm_requests_total",
		Help: "The total number of chat completion attempts",
	}, []string{"status"})

	LLMRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pulse_llm_retries_total",
		Help: "The total number of retried chat completion attempts",
	})

	LLMRateLimitWaitSeconds = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pulse_llm_rate_limit_wait_seconds_total",
		Help: "Total time in seconds spent honoring provider retry-after hints",
	})

	LLMRequestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pulse_llm_request_duration_seconds",
		Help:    "Duration of chat completion calls including retries",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
	})

	CategorizeBatches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pulse_categorize_batches_total",
		Help: "The total number of categorization batches by status",
	}, []string{"status"})

	CodesDerived = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pulse_codes_derived",
		Help: "The number of thematic codes produced by the most recent analysis",
	})

	StageRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pulse_stage_runs_total",
		Help: "The total number of pipeline stage executions by stage and status",
	}, []string{"stage", "status"})
)

// Row outcome label values for RowsProcessed.
const (
	OutcomeAppended  = "appended"
	OutcomeSkipped   = "skipped"
	OutcomeFiltered  = "filtered"
	OutcomeEmpty     = "empty"
	OutcomeMalformed = "malformed"
	OutcomeFailed    = "failed"
)
