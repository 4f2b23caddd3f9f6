package circuitbreaker

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircuitBreaker_BasicFunctionality(t *testing.T) {
	cb := New(Thresholds{FailureThreshold: 3})
	assert.Equal(t, StateClosed, cb.GetState(), "Circuit breaker should start closed")

	assert.NoError(t, cb.Allow())
	cb.RecordSuccess()
	assert.Equal(t, StateClosed, cb.GetState())
}

func TestCircuitBreaker_TripsAfterConsecutiveFailures(t *testing.T) {
	cb := New(Thresholds{FailureThreshold: 3})

	cb.RecordFailure("dial tcp: connection refused")
	cb.RecordFailure("dial tcp: connection refused")
	assert.Equal(t, StateClosed, cb.GetState(), "two failures stay below the threshold")

	cb.RecordSuccess()
	cb.RecordFailure("timeout")
	cb.RecordFailure("timeout")
	assert.Equal(t, StateClosed, cb.GetState(), "a success resets the failure count")

	cb.RecordFailure("timeout")
	assert.Equal(t, StateOpen, cb.GetState())

	err := cb.Allow()
	assert.ErrorIs(t, err, ErrOpen)
}

func TestCircuitBreaker_Recovery(t *testing.T) {
	cb := New(Thresholds{FailureThreshold: 1}).
		WithResetDelay(50 * time.Millisecond).
		WithSuccessThreshold(1)

	cb.RecordFailure("unreachable")
	require.Equal(t, StateOpen, cb.GetState())
	assert.ErrorIs(t, cb.Allow(), ErrOpen)

	time.Sleep(60 * time.Millisecond)

	assert.NoError(t, cb.Allow(), "Allow should pass after the reset delay")
	assert.Equal(t, StateHalfOpen, cb.GetState())

	cb.RecordSuccess()
	assert.Equal(t, StateClosed, cb.GetState(), "Circuit should close after a successful probe")
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	now := time.Now()
	cb := New(Thresholds{FailureThreshold: 1}).WithResetDelay(time.Minute)
	cb.now = func() time.Time { return now }

	cb.RecordFailure("unreachable")
	now = now.Add(2 * time.Minute)
	require.NoError(t, cb.Allow())
	require.Equal(t, StateHalfOpen, cb.GetState())

	cb.RecordFailure("still unreachable")
	assert.Equal(t, StateOpen, cb.GetState())
	assert.ErrorIs(t, cb.Allow(), ErrOpen)
}

func TestCircuitBreaker_Callbacks(t *testing.T) {
	var wg sync.WaitGroup
	wg.Add(1)

	var reason string
	var states []State
	cb := New(Thresholds{FailureThreshold: 1}).
		WithTripCallback(func(r string) {
			reason = r
			wg.Done()
		}).
		WithStateCallback(func(s State) { states = append(states, s) })

	cb.RecordFailure("rpc down")
	wg.Wait()

	assert.Equal(t, "rpc down", reason)

	cb.Reset()
	assert.Equal(t, []State{StateOpen, StateClosed}, states)
	assert.Equal(t, "closed", cb.GetState().String())
}
