package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errRegistryDown = errors.New("registry unreachable")

// lookupThrough runs a canned lookup result through the breaker and reports
// whether the breaker admitted the call.
func lookupThrough(cb *CircuitBreaker, fail bool) (admitted bool, err error) {
	_, err = ExecuteVal(context.Background(), cb, func(context.Context) ([]string, error) {
		admitted = true
		if fail {
			return nil, errRegistryDown
		}
		return []string{"APPLE INC"}, nil
	})
	return admitted, err
}

func testBreaker(threshold int, reset time.Duration) (*CircuitBreaker, *time.Time) {
	now := time.Now()
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: threshold,
		ResetTimeout:     reset,
	})
	cb.nowFunc = func() time.Time { return now }
	return cb, &now
}

func TestBreakerPassesThroughWhenClosed(t *testing.T) {
	t.Parallel()
	cb := NewCircuitBreaker(DefaultCircuitBreakerConfig())

	got, err := ExecuteVal(context.Background(), cb, func(context.Context) (string, error) {
		return "HWUPKR0MPOU8FGXBT394", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "HWUPKR0MPOU8FGXBT394", got)
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestBreakerOpensAtThreshold(t *testing.T) {
	t.Parallel()
	cb, _ := testBreaker(3, time.Minute)

	for i := 0; i < 3; i++ {
		_, err := lookupThrough(cb, true)
		require.ErrorIs(t, err, errRegistryDown)
	}
	assert.Equal(t, CircuitOpen, cb.State())

	// The fourth call is rejected without reaching the registry.
	admitted, err := lookupThrough(cb, false)
	assert.False(t, admitted)
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	t.Parallel()
	cb, _ := testBreaker(3, time.Minute)

	for i := 0; i < 2; i++ {
		_, _ = lookupThrough(cb, true)
	}
	_, err := lookupThrough(cb, false)
	require.NoError(t, err)

	// Two more failures stay under the threshold again.
	for i := 0; i < 2; i++ {
		_, _ = lookupThrough(cb, true)
	}
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestBreakerRecoversThroughHalfOpen(t *testing.T) {
	t.Parallel()
	cb, now := testBreaker(2, 30*time.Second)

	for i := 0; i < 2; i++ {
		_, _ = lookupThrough(cb, true)
	}
	require.Equal(t, CircuitOpen, cb.State())

	*now = now.Add(31 * time.Second)
	assert.Equal(t, CircuitHalfOpen, cb.State())

	// A successful probe closes the circuit.
	admitted, err := lookupThrough(cb, false)
	require.NoError(t, err)
	assert.True(t, admitted)
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestBreakerFailedProbeReopens(t *testing.T) {
	t.Parallel()
	cb, now := testBreaker(2, 30*time.Second)

	for i := 0; i < 2; i++ {
		_, _ = lookupThrough(cb, true)
	}
	*now = now.Add(31 * time.Second)

	admitted, err := lookupThrough(cb, true)
	assert.True(t, admitted, "half-open admits the probe")
	require.ErrorIs(t, err, errRegistryDown)

	// Reopened: the next call is rejected until the timeout elapses again.
	admitted, err = lookupThrough(cb, false)
	assert.False(t, admitted)
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestBreakerStateChangeHook(t *testing.T) {
	t.Parallel()

	type change struct{ from, to CircuitState }
	var changes []change
	now := time.Now()
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 2,
		ResetTimeout:     time.Second,
		OnStateChange:    func(from, to CircuitState) { changes = append(changes, change{from, to}) },
	})
	cb.nowFunc = func() time.Time { return now }

	for i := 0; i < 2; i++ {
		_, _ = lookupThrough(cb, true)
	}
	now = now.Add(2 * time.Second)
	_, _ = lookupThrough(cb, false)

	assert.Equal(t, []change{
		{CircuitClosed, CircuitOpen},
		{CircuitOpen, CircuitHalfOpen},
		{CircuitHalfOpen, CircuitClosed},
	}, changes)
}

func TestBreakerConcurrentLookups(t *testing.T) {
	t.Parallel()
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 50, ResetTimeout: time.Minute})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		fail := i%2 == 0
		go func() {
			defer wg.Done()
			_, _ = lookupThrough(cb, fail)
		}()
	}
	wg.Wait()
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestCircuitStateString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "closed", CircuitClosed.String())
	assert.Equal(t, "open", CircuitOpen.String())
	assert.Equal(t, "half-open", CircuitHalfOpen.String())
	assert.Equal(t, "unknown", CircuitState(9).String())
}
