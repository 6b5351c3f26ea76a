// Package metrics provides Prometheus metrics for the auction engine.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics.
type Metrics struct {
	// Auction metrics
	AuctionsTotal      *prometheus.CounterVec
	AuctionDuration     *prometheus.HistogramVec
	BidsReceived        *prometheus.CounterVec
	BidPrice            *prometheus.HistogramVec
	ClearingPrice        *prometheus.HistogramVec
	UnfilledDemand       *prometheus.HistogramVec
	TiedBidsEvicted      prometheus.Counter

	// Phantom auction metrics
	PhantomRounds        *prometheus.CounterVec
	PhantomImprovementBps *prometheus.HistogramVec
	PhantomReveals        *prometheus.CounterVec

	// Coordinator metrics
	CoordinationRounds   *prometheus.CounterVec
	CoordinationLatency  *prometheus.HistogramVec
	ParticipantStatus    *prometheus.GaugeVec

	// Settlement executor metrics
	SettlementBatches    *prometheus.CounterVec
	SettlementDuration    *prometheus.HistogramVec
	SagaCompensations     *prometheus.CounterVec
	SettlementRetries     prometheus.Counter

	// Router bridge metrics
	BridgeRequests       *prometheus.CounterVec
	BridgeLatency        *prometheus.HistogramVec

	// Circuit breaker metrics
	BreakerState         *prometheus.GaugeVec
	BreakerTrips         *prometheus.CounterVec

	// System metrics
	DrainMode            prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics under namespace
// (default "auctionengine").
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "auctionengine"
	}

	m := &Metrics{
		AuctionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "auctions_total",
				Help:      "Total number of auctions cleared, by mechanism and outcome",
			},
			[]string{"mechanism", "outcome"},
		),
		AuctionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "auction_clear_duration_seconds",
				Help:      "Time spent in the clearing algorithm",
				Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5},
			},
			[]string{"mechanism"},
		),
		BidsReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "bids_received_total",
				Help:      "Total number of bids accepted into an auction",
			},
			[]string{"auction_id"},
		),
		BidPrice: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "bid_price",
				Help:      "Distribution of submitted bid prices",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 16),
			},
			[]string{"auction_id"},
		),
		ClearingPrice: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "clearing_price",
				Help:      "Distribution of clearing prices produced",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 16),
			},
			[]string{"mechanism"},
		),
		UnfilledDemand: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "unfilled_demand",
				Help:      "Demand left unfilled after clearing",
				Buckets:   prometheus.ExponentialBuckets(0.1, 2, 16),
			},
			[]string{"mechanism"},
		),
		TiedBidsEvicted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tied_bids_evicted_total",
				Help:      "Total marginal bids evicted for falling below min_quantity during tie-break redistribution",
			},
		),

		PhantomRounds: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "phantom_rounds_total",
				Help:      "Total phantom auction rounds, by outcome",
			},
			[]string{"outcome"}, // improved, no_improvement, quorum_not_met
		),
		PhantomImprovementBps: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "phantom_improvement_bps",
				Help:      "Accepted price improvement in basis points over base_price",
				Buckets:   []float64{1, 2, 5, 10, 20, 30, 40, 50, 75, 100},
			},
			[]string{"mechanism"},
		),
		PhantomReveals: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "phantom_reveals_total",
				Help:      "Total reveal attempts, by result",
			},
			[]string{"result"}, // accepted, duplicate, mismatched, late
		),

		CoordinationRounds: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "coordination_rounds_total",
				Help:      "Total 2PC rounds, by outcome",
			},
			[]string{"outcome"}, // committed, aborted, rolled_back
		),
		CoordinationLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "coordination_latency_seconds",
				Help:      "Wall-clock time for one 2PC phase, by phase",
				Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2, 5},
			},
			[]string{"phase"},
		),
		ParticipantStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "participant_status",
				Help:      "Participant liveness status (0=active, 1=degraded, 2=failed, 3=exited)",
			},
			[]string{"participant_id"},
		),

		SettlementBatches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "settlement_batches_total",
				Help:      "Total settlement batches, by terminal status",
			},
			[]string{"status"},
		),
		SettlementDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "settlement_duration_seconds",
				Help:      "Wall-clock time for one Execute saga run",
				Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2, 5, 10},
			},
			[]string{"status"},
		),
		SagaCompensations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "saga_compensations_total",
				Help:      "Total compensating actions invoked during saga unwind, by step",
			},
			[]string{"step"},
		),
		SettlementRetries: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "settlement_retries_total",
				Help:      "Total batches reset to ready for a transient-failure retry",
			},
		),

		BridgeRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "bridge_requests_total",
				Help:      "Total Router Bridge calls, by method and result",
			},
			[]string{"method", "result"},
		),
		BridgeLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "bridge_latency_seconds",
				Help:      "Router Bridge call latency",
				Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"method"},
		),

		BreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "circuit_breaker_state",
				Help:      "Circuit breaker state (0=closed, 1=open, 2=half-open)",
			},
			[]string{"breaker"},
		),
		BreakerTrips: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "circuit_breaker_trips_total",
				Help:      "Total transitions into the open state",
			},
			[]string{"breaker"},
		),

		DrainMode: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "drain_mode",
				Help:      "1 if the engine has flipped into drain mode after an unrecovered atomicity violation",
			},
		),
	}

	prometheus.MustRegister(
		m.AuctionsTotal, m.AuctionDuration, m.BidsReceived, m.BidPrice, m.ClearingPrice, m.UnfilledDemand, m.TiedBidsEvicted,
		m.PhantomRounds, m.PhantomImprovementBps, m.PhantomReveals,
		m.CoordinationRounds, m.CoordinationLatency, m.ParticipantStatus,
		m.SettlementBatches, m.SettlementDuration, m.SagaCompensations, m.SettlementRetries,
		m.BridgeRequests, m.BridgeLatency,
		m.BreakerState, m.BreakerTrips,
		m.DrainMode,
	)

	return m
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordAuction records one clearing run.
func (m *Metrics) RecordAuction(mechanism, outcome string, duration time.Duration, clearingPrice, unfilledDemand float64) {
	m.AuctionsTotal.WithLabelValues(mechanism, outcome).Inc()
	m.AuctionDuration.WithLabelValues(mechanism).Observe(duration.Seconds())
	m.ClearingPrice.WithLabelValues(mechanism).Observe(clearingPrice)
	m.UnfilledDemand.WithLabelValues(mechanism).Observe(unfilledDemand)
}

// RecordBid records one accepted bid.
func (m *Metrics) RecordBid(auctionID string, price float64) {
	m.BidsReceived.WithLabelValues(auctionID).Inc()
	m.BidPrice.WithLabelValues(auctionID).Observe(price)
}

// RecordPhantomRound records one phantom auction resolution.
func (m *Metrics) RecordPhantomRound(mechanism, outcome string, improvementBps float64) {
	m.PhantomRounds.WithLabelValues(outcome).Inc()
	if outcome == "improved" {
		m.PhantomImprovementBps.WithLabelValues(mechanism).Observe(improvementBps)
	}
}

// RecordPhantomReveal records one reveal attempt's result.
func (m *Metrics) RecordPhantomReveal(result string) {
	m.PhantomReveals.WithLabelValues(result).Inc()
}

// RecordCoordination records one 2PC round.
func (m *Metrics) RecordCoordination(outcome string, prepareLatency, commitLatency time.Duration) {
	m.CoordinationRounds.WithLabelValues(outcome).Inc()
	m.CoordinationLatency.WithLabelValues("prepare").Observe(prepareLatency.Seconds())
	m.CoordinationLatency.WithLabelValues("commit").Observe(commitLatency.Seconds())
}

// SetParticipantStatus records a participant's current liveness status.
func (m *Metrics) SetParticipantStatus(participantID, status string) {
	var value float64
	switch status {
	case "degraded":
		value = 1
	case "failed":
		value = 2
	case "exited":
		value = 3
	default:
		value = 0
	}
	m.ParticipantStatus.WithLabelValues(participantID).Set(value)
}

// RecordSettlement records one batch's terminal outcome.
func (m *Metrics) RecordSettlement(status string, duration time.Duration) {
	m.SettlementBatches.WithLabelValues(status).Inc()
	m.SettlementDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// RecordCompensation records one compensating action invoked during a
// saga unwind.
func (m *Metrics) RecordCompensation(step string) {
	m.SagaCompensations.WithLabelValues(step).Inc()
}

// RecordRetry records a batch reset to ready for a transient-failure
// retry.
func (m *Metrics) RecordRetry() {
	m.SettlementRetries.Inc()
}

// RecordBridgeCall records one Router Bridge call.
func (m *Metrics) RecordBridgeCall(method, result string, latency time.Duration) {
	m.BridgeRequests.WithLabelValues(method, result).Inc()
	m.BridgeLatency.WithLabelValues(method).Observe(latency.Seconds())
}

// SetBreakerState records a circuit breaker's current state.
func (m *Metrics) SetBreakerState(breaker, state string) {
	var value float64
	switch state {
	case "open":
		value = 1
		m.BreakerTrips.WithLabelValues(breaker).Inc()
	case "half_open":
		value = 2
	default:
		value = 0
	}
	m.BreakerState.WithLabelValues(breaker).Set(value)
}

// SetDrainMode records whether the engine is currently draining.
func (m *Metrics) SetDrainMode(draining bool) {
	if draining {
		m.DrainMode.Set(1)
		return
	}
	m.DrainMode.Set(0)
}
