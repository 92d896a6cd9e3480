package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func trip(cb *CircuitBreaker, times int) {
	for i := 0; i < times; i++ {
		_ = cb.Execute(context.Background(), func(_ context.Context) error {
			return errors.New("postgres: connection refused")
		})
	}
}

func TestCircuitBreaker_ClosedPassesThrough(t *testing.T) {
	cb := NewCircuitBreaker(DefaultCircuitBreakerConfig())

	calls := 0
	err := cb.Execute(context.Background(), func(_ context.Context) error {
		calls++
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 3,
		ResetTimeout:     time.Minute,
	})

	trip(cb, 3)
	require.Equal(t, CircuitOpen, cb.State())

	err := cb.Execute(context.Background(), func(_ context.Context) error {
		t.Fatal("call must not run while open")
		return nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestCircuitBreaker_SuccessClearsFailures(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 3,
		ResetTimeout:     time.Minute,
	})

	trip(cb, 2)
	assert.Equal(t, 2, cb.Failures())
	assert.Equal(t, CircuitClosed, cb.State())

	_ = cb.Execute(context.Background(), func(_ context.Context) error { return nil })
	assert.Equal(t, 0, cb.Failures())
}

func TestCircuitBreaker_ProbeClosesAfterResetTimeout(t *testing.T) {
	now := time.Now()
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 2,
		ResetTimeout:     100 * time.Millisecond,
	})
	cb.now = func() time.Time { return now }

	trip(cb, 2)
	require.Equal(t, CircuitOpen, cb.State())

	cb.now = func() time.Time { return now.Add(200 * time.Millisecond) }
	assert.Equal(t, CircuitHalfOpen, cb.State())

	err := cb.Execute(context.Background(), func(_ context.Context) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, CircuitClosed, cb.State())
	assert.Equal(t, 0, cb.Failures())
}

func TestCircuitBreaker_ProbeFailureReopens(t *testing.T) {
	now := time.Now()
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 2,
		ResetTimeout:     100 * time.Millisecond,
	})
	cb.now = func() time.Time { return now }

	trip(cb, 2)

	cb.now = func() time.Time { return now.Add(200 * time.Millisecond) }
	trip(cb, 1)

	assert.Equal(t, CircuitOpen, cb.State())
	assert.Equal(t, 3, cb.Failures())
}

func TestCircuitBreaker_ShouldTripFilters(t *testing.T) {
	tripworthy := errors.New("connection lost")
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 2,
		ResetTimeout:     time.Minute,
		ShouldTrip:       func(err error) bool { return errors.Is(err, tripworthy) },
	})

	for i := 0; i < 5; i++ {
		_ = cb.Execute(context.Background(), func(_ context.Context) error {
			return errors.New("bad input")
		})
	}
	assert.Equal(t, CircuitClosed, cb.State())

	for i := 0; i < 2; i++ {
		_ = cb.Execute(context.Background(), func(_ context.Context) error {
			return tripworthy
		})
	}
	assert.Equal(t, CircuitOpen, cb.State())
}

func TestCircuitBreaker_OnStateChange(t *testing.T) {
	type transition struct{ from, to CircuitState }
	var seen []transition

	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 2,
		ResetTimeout:     time.Minute,
		OnStateChange: func(from, to CircuitState) {
			seen = append(seen, transition{from, to})
		},
	})

	trip(cb, 2)
	cb.Reset()

	require.Len(t, seen, 2)
	assert.Equal(t, transition{CircuitClosed, CircuitOpen}, seen[0])
	assert.Equal(t, transition{CircuitOpen, CircuitClosed}, seen[1])
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 2,
		ResetTimeout:     time.Hour,
	})

	trip(cb, 2)
	require.Equal(t, CircuitOpen, cb.State())

	cb.Reset()
	assert.Equal(t, CircuitClosed, cb.State())
	assert.Equal(t, 0, cb.Failures())

	err := cb.Execute(context.Background(), func(_ context.Context) error { return nil })
	assert.NoError(t, err)
}
