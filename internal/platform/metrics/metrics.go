package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the application. Components take
// the struct at construction; nothing registers metrics ad hoc.
type Metrics struct {
	ReceiptsSubmitted prometheus.Counter
	ReceiptsCompleted prometheus.Counter
	ReceiptsFailed    *prometheus.CounterVec
	AnalysisDuration  prometheus.Histogram
	AnchorsWritten    prometheus.Counter
	AnchorFailures    prometheus.Counter

	AccountChecks  prometheus.Counter
	CacheHits      prometheus.Counter
	CacheRefreshes prometheus.Counter
	FraudReports   prometheus.Counter
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	return NewWith(prometheus.DefaultRegisterer)
}

// NewWith registers metrics against a specific registerer; tests pass a fresh
// registry to avoid duplicate-registration panics.
func NewWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ReceiptsSubmitted: factory.NewCounter(prometheus.CounterOpts{
			Name: "confirmit_receipts_submitted_total",
			Help: "Total number of receipt scans submitted",
		}),
		ReceiptsCompleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "confirmit_receipts_completed_total",
			Help: "Total number of receipt scans that reached a verdict",
		}),
		ReceiptsFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "confirmit_receipts_failed_total",
			Help: "Total number of failed receipt scans by cause",
		}, []string{"cause"}),
		AnalysisDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "confirmit_analysis_duration_seconds",
			Help:    "Latency of analysis backend calls",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 30, 45, 60},
		}),
		AnchorsWritten: factory.NewCounter(prometheus.CounterOpts{
			Name: "confirmit_anchors_written_total",
			Help: "Total number of verdicts anchored to the ledger",
		}),
		AnchorFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "confirmit_anchor_failures_total",
			Help: "Total number of anchor attempts that failed (non-fatal)",
		}),
		AccountChecks: factory.NewCounter(prometheus.CounterOpts{
			Name: "confirmit_account_checks_total",
			Help: "Total number of account reputation checks",
		}),
		CacheHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "confirmit_reputation_cache_hits_total",
			Help: "Account checks served from the reputation cache",
		}),
		CacheRefreshes: factory.NewCounter(prometheus.CounterOpts{
			Name: "confirmit_reputation_refreshes_total",
			Help: "Account checks that re-queried the analysis backend",
		}),
		FraudReports: factory.NewCounter(prometheus.CounterOpts{
			Name: "confirmit_fraud_reports_total",
			Help: "Total number of community fraud reports ingested",
		}),
	}
}
