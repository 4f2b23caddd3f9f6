package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorderRegistersAndRecords(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewRecorder(reg)

	m.Operation("stake", "success")
	m.Operation("stake", "success")
	m.SubmissionFailed("claim")
	m.ScoreFallback()
	m.RewardClaimed(0.5)
	m.BreakerState(1)
	m.PendingOperations(3)
	m.Confirmed("stake", 2*time.Second)
	m.ObserveRequest("/stake", "200", 10*time.Millisecond)

	families, err := reg.Gather()
	require.NoError(t, err)

	values := make(map[string]float64)
	for _, f := range families {
		for _, metric := range f.GetMetric() {
			switch {
			case metric.Counter != nil:
				values[f.GetName()] += metric.Counter.GetValue()
			case metric.Gauge != nil:
				values[f.GetName()] = metric.Gauge.GetValue()
			case metric.Histogram != nil:
				values[f.GetName()] += float64(metric.Histogram.GetSampleCount())
			}
		}
	}

	assert.Equal(t, 2.0, values["creditstake_operations_total"])
	assert.Equal(t, 1.0, values["creditstake_submission_failures_total"])
	assert.Equal(t, 1.0, values["creditstake_score_fallbacks_total"])
	assert.Equal(t, 0.5, values["creditstake_rewards_claimed_eth_total"])
	assert.Equal(t, 1.0, values["creditstake_circuit_breaker_state"])
	assert.Equal(t, 3.0, values["creditstake_pending_operations"])
	assert.Equal(t, 1.0, values["creditstake_confirmation_seconds"])
	assert.Equal(t, 1.0, values["creditstake_requests_total"])
}

func TestNilRecorderIsNoop(t *testing.T) {
	var m *Recorder
	assert.NotPanics(t, func() {
		m.Operation("score", "error")
		m.ScoreFallback()
		m.BreakerState(2)
		m.ObserveRequest("/health", "200", time.Millisecond)
	})
}
