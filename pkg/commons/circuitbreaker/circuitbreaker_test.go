//go:build unit

package circuitbreaker

import (
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return Config{
		MaxRequests:         1,
		Interval:            time.Minute,
		Timeout:             time.Minute,
		ConsecutiveFailures: 3,
		FailureRatio:        0.5,
		MinRequests:         100,
	}
}

func TestPresetConfigs(t *testing.T) {
	t.Parallel()

	standard := DefaultConfig()
	external := HTTPServiceConfig()

	assert.Less(t, external.ConsecutiveFailures, standard.ConsecutiveFailures,
		"external HTTP remotes trip sooner than the balanced profile")
	assert.Less(t, external.Timeout, standard.Timeout)
}

func TestBreaker_PassesResultsThrough(t *testing.T) {
	t.Parallel()

	b := New("datastore", testConfig(), nil)

	result, err := b.Execute(func() (any, error) {
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, StateClosed, b.State())
	assert.True(t, b.IsHealthy())
}

func TestBreaker_PropagatesCallErrors(t *testing.T) {
	t.Parallel()

	b := New("datastore", testConfig(), nil)
	callErr := errors.New("remote said no")

	result, err := b.Execute(func() (any, error) {
		return nil, callErr
	})

	require.ErrorIs(t, err, callErr)
	assert.Nil(t, result)
	assert.Equal(t, StateClosed, b.State(), "a single failure must not trip the breaker")
}

func TestBreaker_TripsAfterConsecutiveFailures(t *testing.T) {
	t.Parallel()

	b := New("datastore", testConfig(), nil)
	callErr := errors.New("boom")

	for range 3 {
		_, err := b.Execute(func() (any, error) { return nil, callErr })
		require.ErrorIs(t, err, callErr)
	}

	assert.Equal(t, StateOpen, b.State())
	assert.False(t, b.IsHealthy())

	calls := 0
	_, err := b.Execute(func() (any, error) {
		calls++
		return nil, nil
	})

	require.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Zero(t, calls, "open breaker must fast-fail without invoking the call")
}

func TestBreaker_Counts(t *testing.T) {
	t.Parallel()

	b := New("datastore", testConfig(), nil)

	_, _ = b.Execute(func() (any, error) { return nil, nil })
	_, _ = b.Execute(func() (any, error) { return nil, errors.New("boom") })

	counts := b.Counts()
	assert.Equal(t, uint32(2), counts.Requests)
	assert.Equal(t, uint32(1), counts.TotalSuccesses)
	assert.Equal(t, uint32(1), counts.TotalFailures)
	assert.Equal(t, uint32(1), counts.ConsecutiveFailures)
}
