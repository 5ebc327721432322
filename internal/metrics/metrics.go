package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Evaluation metrics
	EvaluationCyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "simpleexpr_evaluation_cycles_total",
			Help: "Total number of evaluation cycles",
		},
		[]string{"result"}, // result: true, false, malformed
	)

	EvaluationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "simpleexpr_evaluation_duration_seconds",
			Help:    "Time taken to evaluate one cycle across all assets",
			Buckets: []float64{.00001, .00005, .0001, .0005, .001, .005, .01, .05},
		},
	)

	AssetFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "simpleexpr_asset_failures_total",
			Help: "Total number of per-asset evaluation failures",
		},
		[]string{"reason"}, // reason: absent, no_datapoints, non_finite, eval_error
	)

	// State machine metrics
	StateTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "simpleexpr_state_transitions_total",
			Help: "Total number of rule state transitions",
		},
		[]string{"state"}, // state: triggered, cleared
	)

	// Configuration metrics
	ReconfigurationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "simpleexpr_reconfigurations_total",
			Help: "Total number of configure/reconfigure attempts",
		},
		[]string{"status"}, // status: success, failed
	)

	RegisteredTriggers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "simpleexpr_registered_triggers",
			Help: "Number of assets currently registered as triggers",
		},
	)

	BindingRejectionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "simpleexpr_binding_rejections_total",
			Help: "Total number of variables rejected because the binding table was full",
		},
	)

	ProgramCacheLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "simpleexpr_program_cache_lookups_total",
			Help: "Total number of compiled program cache lookups",
		},
		[]string{"result"}, // result: hit, miss
	)

	// Notification metrics
	NotificationsPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "simpleexpr_notifications_published_total",
			Help: "Total number of transition notifications published",
		},
		[]string{"sink", "status"}, // status: success, failed
	)

	IngestMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "simpleexpr_ingest_messages_total",
			Help: "Total number of input batches consumed from Kafka",
		},
		[]string{"status"}, // status: evaluated, rejected
	)
)
