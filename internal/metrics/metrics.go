package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "liftlog_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "liftlog_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	QuotaDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "liftlog_quota_decisions_total",
			Help: "Quota ledger decisions by family and outcome.",
		},
		[]string{"family", "outcome"},
	)

	QuotaRefundsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "liftlog_quota_refunds_total",
			Help: "Quota refunds by family and result.",
		},
		[]string{"family", "result"},
	)

	QuotaLedgerErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "liftlog_quota_ledger_errors_total",
			Help: "Quota ledger transactions that could not complete.",
		},
		[]string{"family"},
	)

	LLMRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "liftlog_llm_requests_total",
			Help: "Upstream LLM requests by operation and status.",
		},
		[]string{"operation", "status"},
	)

	LLMRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "liftlog_llm_request_duration_seconds",
			Help:    "Upstream LLM request duration in seconds.",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40, 60},
		},
		[]string{"operation"},
	)

	LLMCircuitBreakerState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "liftlog_llm_circuit_breaker_state",
			Help: "LLM circuit breaker state (0=closed, 1=half-open, 2=open).",
		},
	)

	QuotaEventsRecordedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "liftlog_quota_events_recorded_total",
			Help: "Quota events persisted by the usage log consumer.",
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		QuotaDecisionsTotal,
		QuotaRefundsTotal,
		QuotaLedgerErrorsTotal,
		LLMRequestsTotal,
		LLMRequestDuration,
		LLMCircuitBreakerState,
		QuotaEventsRecordedTotal,
	)
}
