// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Contribution metrics
	ContributionsTotal  *prometheus.CounterVec
	ContributionUSD     *prometheus.CounterVec
	TokensReserved      *prometheus.CounterVec
	ValuationSources    *prometheus.CounterVec
	ReplayedAttestation prometheus.Counter

	// Vesting and refund metrics
	ClaimsTotal     *prometheus.CounterVec
	TokensClaimed   *prometheus.CounterVec
	RefundsTotal    *prometheus.CounterVec
	WithdrawalsFees *prometheus.CounterVec

	// Operation metrics
	OperationErrors   *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec

	// Event delivery metrics
	EventsPublished    prometheus.Counter
	EventPublishErrors prometheus.Counter
	EventStreamClients prometheus.Gauge

	// Sale gauges
	SaleRaisedUSD    *prometheus.GaugeVec
	SaleTokensSold   *prometheus.GaugeVec
	SaleContributors *prometheus.GaugeVec

	// Scheduler metrics
	SalesFinalized   *prometheus.CounterVec
	LastSchedulerRun prometheus.Gauge
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "presale_ledger"
	}

	return &Metrics{
		// Contribution metrics
		ContributionsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "contributions_total",
			Help:      "Total number of accepted contributions by sale",
		}, []string{"sale"}),
		ContributionUSD: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "contribution_usd_total",
			Help:      "Total whole-dollar value of accepted contributions by sale",
		}, []string{"sale"}),
		TokensReserved: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "tokens_reserved_total",
			Help:      "Total base units reserved for contributors by sale and phase",
		}, []string{"sale", "phase"}),
		ValuationSources: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "valuation",
			Name:      "sources_total",
			Help:      "Total number of valuations by source",
		}, []string{"source"}),
		ReplayedAttestation: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "valuation",
			Name:      "replayed_attestations_total",
			Help:      "Total number of attestations rejected as already used",
		}),

		// Vesting and refund metrics
		ClaimsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "vesting",
			Name:      "claims_total",
			Help:      "Total number of successful claims by sale",
		}, []string{"sale"}),
		TokensClaimed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "vesting",
			Name:      "tokens_claimed_total",
			Help:      "Total base units released to contributors by sale",
		}, []string{"sale"}),
		RefundsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lifecycle",
			Name:      "refunds_total",
			Help:      "Total number of refunds issued by sale",
		}, []string{"sale"}),
		WithdrawalsFees: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "custody",
			Name:      "withdrawal_fees_total",
			Help:      "Total fee amount paid on treasury sweeps by asset",
		}, []string{"asset"}),

		// Operation metrics
		OperationErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sale",
			Name:      "operation_errors_total",
			Help:      "Total number of rejected operations by operation and error code",
		}, []string{"operation", "code"}),
		OperationDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sale",
			Name:      "operation_duration_seconds",
			Help:      "Sale operation duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),

		// Event delivery metrics
		EventsPublished: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "published_total",
			Help:      "Total number of events handed to sinks",
		}),
		EventPublishErrors: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "publish_errors_total",
			Help:      "Total number of failed event publishes",
		}),
		EventStreamClients: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "stream_clients",
			Help:      "Current number of WebSocket event subscribers",
		}),

		// Sale gauges
		SaleRaisedUSD: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sale",
			Name:      "raised_usd",
			Help:      "Whole dollars raised by sale",
		}, []string{"sale"}),
		SaleTokensSold: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sale",
			Name:      "tokens_sold",
			Help:      "Base units sold by sale",
		}, []string{"sale"}),
		SaleContributors: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sale",
			Name:      "contributors",
			Help:      "Distinct contributors by sale",
		}, []string{"sale"}),

		// Scheduler metrics
		SalesFinalized: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "sales_finalized_total",
			Help:      "Total number of sales finalized by outcome",
		}, []string{"status"}),
		LastSchedulerRun: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "last_run_timestamp",
			Help:      "Unix timestamp of the last scheduler pass",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordContribution records an accepted contribution.
func RecordContribution(saleID, phase, source string, usd, tokens uint64) {
	DefaultMetrics.ContributionsTotal.WithLabelValues(saleID).Inc()
	DefaultMetrics.ContributionUSD.WithLabelValues(saleID).Add(float64(usd))
	DefaultMetrics.TokensReserved.WithLabelValues(saleID, phase).Add(float64(tokens))
	DefaultMetrics.ValuationSources.WithLabelValues(source).Inc()
}

// RecordReplayedAttestation counts an attestation rejected as already used.
func RecordReplayedAttestation() {
	DefaultMetrics.ReplayedAttestation.Inc()
}

// RecordClaim records a successful vesting claim.
func RecordClaim(saleID string, tokens uint64) {
	DefaultMetrics.ClaimsTotal.WithLabelValues(saleID).Inc()
	DefaultMetrics.TokensClaimed.WithLabelValues(saleID).Add(float64(tokens))
}

// RecordRefund records an issued refund.
func RecordRefund(saleID string) {
	DefaultMetrics.RefundsTotal.WithLabelValues(saleID).Inc()
}

// RecordWithdrawalFee records a fee paid on a treasury sweep.
func RecordWithdrawalFee(asset string, fee uint64) {
	DefaultMetrics.WithdrawalsFees.WithLabelValues(asset).Add(float64(fee))
}

// RecordOperation records operation latency and, on failure, its error code.
func RecordOperation(operation string, seconds float64, code string) {
	DefaultMetrics.OperationDuration.WithLabelValues(operation).Observe(seconds)
	if code != "" {
		DefaultMetrics.OperationErrors.WithLabelValues(operation, code).Inc()
	}
}

// RecordEventsPublished records an event publish attempt.
func RecordEventsPublished(n int, err error) {
	DefaultMetrics.EventsPublished.Add(float64(n))
	if err != nil {
		DefaultMetrics.EventPublishErrors.Inc()
	}
}

// UpdateStreamClients updates the WebSocket subscriber gauge.
func UpdateStreamClients(n int) {
	DefaultMetrics.EventStreamClients.Set(float64(n))
}

// UpdateSaleGauges updates the per-sale progress gauges.
func UpdateSaleGauges(saleID string, raisedUSD, tokensSold, contributors uint64) {
	DefaultMetrics.SaleRaisedUSD.WithLabelValues(saleID).Set(float64(raisedUSD))
	DefaultMetrics.SaleTokensSold.WithLabelValues(saleID).Set(float64(tokensSold))
	DefaultMetrics.SaleContributors.WithLabelValues(saleID).Set(float64(contributors))
}

// RecordSaleFinalized records a scheduler finalization.
func RecordSaleFinalized(status string) {
	DefaultMetrics.SalesFinalized.WithLabelValues(status).Inc()
}

// RecordSchedulerRun records the time of a scheduler pass.
func RecordSchedulerRun(unix int64) {
	DefaultMetrics.LastSchedulerRun.Set(float64(unix))
}
