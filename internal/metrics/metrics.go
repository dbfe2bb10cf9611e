// Package metrics exposes the pipeline's Prometheus counters and gauges, the
// same prometheus/client_golang idiom as the chidi150c-coinbase pack repo's
// metrics.go (package-level vectors registered once in init, updated by the
// stages that own each event), generalized from that bot's
// orders/decisions/trades vocabulary to this engine's
// admission/settlement/route vocabulary.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"copytrade-engine/internal/model"
)

var (
	AdmissionDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "copytrade_admission_decisions_total",
			Help: "Admission Filter verdicts by direction and accept/reject.",
		},
		[]string{"direction", "accepted"},
	)

	SettlementOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "copytrade_settlement_outcomes_total",
			Help: "Settlement Processor terminal outcomes by status.",
		},
		[]string{"status"},
	)

	RouteBuildLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "copytrade_route_build_latency_seconds",
			Help:    "Time spent in Route Registry Build, by route.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)

	OpenHoldings = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "copytrade_open_holdings",
			Help: "Current count of open holdings across all subscriptions.",
		},
	)

	FailedTimesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "copytrade_failed_times_total",
			Help: "Cumulative failed_times increments across all subscriptions.",
		},
	)
)

func init() {
	prometheus.MustRegister(AdmissionDecisions, SettlementOutcomes, RouteBuildLatency, OpenHoldings, FailedTimesTotal)
}

// ObserveRouteBuild records a Route Registry Build call's latency.
func ObserveRouteBuild(route model.Route, d time.Duration) {
	RouteBuildLatency.WithLabelValues(route.String()).Observe(d.Seconds())
}

// ObserveAdmissionDecision records one Admission Filter verdict.
func ObserveAdmissionDecision(direction model.SwapDirection, accepted bool) {
	dir := "buy"
	if direction == model.Sell {
		dir = "sell"
	}
	acc := "false"
	if accepted {
		acc = "true"
	}
	AdmissionDecisions.WithLabelValues(dir, acc).Inc()
}

// ObserveSettlement records one Settlement Processor terminal outcome.
func ObserveSettlement(status model.SwapStatus) {
	SettlementOutcomes.WithLabelValues(status.String()).Inc()
	if status == model.StatusFailed || status == model.StatusExpired || status == model.StatusBuildFailed {
		FailedTimesTotal.Inc()
	}
}
