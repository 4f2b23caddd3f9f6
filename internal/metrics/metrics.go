// Package metrics holds the Prometheus instrumentation of the service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Recorder records service metrics. A nil *Recorder is valid and records nothing.
type Recorder struct {
	requestCounter     *prometheus.CounterVec
	requestDuration    *prometheus.HistogramVec
	operationCounter   *prometheus.CounterVec
	confirmLatency     *prometheus.HistogramVec
	submissionFailures *prometheus.CounterVec
	scoreFallbacks     prometheus.Counter
	rewardsClaimed     prometheus.Counter
	circuitBreaker     prometheus.Gauge
	pendingOperations  prometheus.Gauge
}

// NewRecorder creates the service metrics and registers them with reg.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	m := &Recorder{
		requestCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "creditstake_requests_total",
				Help: "Total number of HTTP requests processed",
			},
			[]string{"handler", "status"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "creditstake_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"handler"},
		),
		operationCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "creditstake_operations_total",
				Help: "Core operations by outcome",
			},
			[]string{"op", "status"},
		),
		confirmLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "creditstake_confirmation_seconds",
				Help:    "Time from submission to observed confirmation",
				Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
			},
			[]string{"op"},
		),
		submissionFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "creditstake_submission_failures_total",
				Help: "Submissions the authority did not accept or rejected",
			},
			[]string{"op"},
		),
		scoreFallbacks: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "creditstake_score_fallbacks_total",
				Help: "Confirmed score submissions whose result was computed locally",
			},
		),
		rewardsClaimed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "creditstake_rewards_claimed_eth_total",
				Help: "Rewards claimed, in ETH",
			},
		),
		circuitBreaker: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "creditstake_circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
			},
		),
		pendingOperations: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "creditstake_pending_operations",
				Help: "Submitted operations awaiting confirmation",
			},
		),
	}

	reg.MustRegister(
		m.requestCounter,
		m.requestDuration,
		m.operationCounter,
		m.confirmLatency,
		m.submissionFailures,
		m.scoreFallbacks,
		m.rewardsClaimed,
		m.circuitBreaker,
		m.pendingOperations,
	)
	return m
}

// ObserveRequest records one HTTP request.
func (m *Recorder) ObserveRequest(handler, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.requestCounter.WithLabelValues(handler, status).Inc()
	m.requestDuration.WithLabelValues(handler).Observe(d.Seconds())
}

// Operation records the outcome of a core operation.
func (m *Recorder) Operation(op, status string) {
	if m == nil {
		return
	}
	m.operationCounter.WithLabelValues(op, status).Inc()
}

// Confirmed records the confirmation latency of a submission.
func (m *Recorder) Confirmed(op string, d time.Duration) {
	if m == nil {
		return
	}
	m.confirmLatency.WithLabelValues(op).Observe(d.Seconds())
}

// SubmissionFailed counts a failed submission.
func (m *Recorder) SubmissionFailed(op string) {
	if m == nil {
		return
	}
	m.submissionFailures.WithLabelValues(op).Inc()
}

// ScoreFallback counts a locally computed score.
func (m *Recorder) ScoreFallback() {
	if m == nil {
		return
	}
	m.scoreFallbacks.Inc()
}

// RewardClaimed adds a claimed reward, in ETH.
func (m *Recorder) RewardClaimed(eth float64) {
	if m == nil {
		return
	}
	m.rewardsClaimed.Add(eth)
}

// BreakerState sets the circuit breaker gauge.
func (m *Recorder) BreakerState(state int) {
	if m == nil {
		return
	}
	m.circuitBreaker.Set(float64(state))
}

// PendingOperations sets the number of operations awaiting confirmation.
func (m *Recorder) PendingOperations(n int) {
	if m == nil {
		return
	}
	m.pendingOperations.Set(float64(n))
}
