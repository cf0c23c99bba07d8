package circuitbreaker

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errUpstream = errors.New("upstream failed")

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(threshold int, timeout time.Duration, opts ...Option) (*CircuitBreaker, *fakeClock) {
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	cb := NewCircuitBreaker(threshold, timeout, opts...)
	cb.now = clock.now
	return cb, clock
}

func fail() error    { return errUpstream }
func succeed() error { return nil }

func TestCircuitBreaker_OpensAtThreshold(t *testing.T) {
	cb, _ := newTestBreaker(3, time.Minute)

	for i := 0; i < 2; i++ {
		assert.ErrorIs(t, cb.Execute(fail, nil), errUpstream)
		assert.Equal(t, StateClosed, cb.State())
	}
	assert.ErrorIs(t, cb.Execute(fail, nil), errUpstream)
	assert.Equal(t, StateOpen, cb.State())

	called := false
	err := cb.Execute(func() error { called = true; return nil }, nil)
	assert.ErrorIs(t, err, ErrOpen)
	assert.Contains(t, err.Error(), errUpstream.Error())
	assert.False(t, called)
}

func TestCircuitBreaker_SuccessResetsFailures(t *testing.T) {
	cb, _ := newTestBreaker(2, time.Minute)

	require.Error(t, cb.Execute(fail, nil))
	require.NoError(t, cb.Execute(succeed, nil))
	require.Error(t, cb.Execute(fail, nil))
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_HalfOpen(t *testing.T) {
	tests := []struct {
		name     string
		probe    func() error
		expected State
	}{
		{name: "successful probe closes", probe: succeed, expected: StateClosed},
		{name: "failed probe reopens", probe: fail, expected: StateOpen},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cb, clock := newTestBreaker(1, time.Minute)
			require.Error(t, cb.Execute(fail, nil))
			require.Equal(t, StateOpen, cb.State())

			clock.advance(30 * time.Second)
			assert.False(t, cb.AllowRequest())

			clock.advance(31 * time.Second)
			assert.True(t, cb.AllowRequest())
			assert.Equal(t, StateHalfOpen, cb.State())
			assert.False(t, cb.AllowRequest(), "only one probe while half-open")

			cb.RecordResult(tt.probe())
			assert.Equal(t, tt.expected, cb.State())
		})
	}
}

func TestCircuitBreaker_NonCountableErrors(t *testing.T) {
	errNotFound := errors.New("not found")
	countable := func(err error) bool { return !errors.Is(err, errNotFound) }
	cb, _ := newTestBreaker(1, time.Minute)

	for i := 0; i < 5; i++ {
		assert.ErrorIs(t, cb.Execute(func() error { return errNotFound }, countable), errNotFound)
	}
	assert.Equal(t, StateClosed, cb.State())

	assert.ErrorIs(t, cb.Execute(fail, countable), errUpstream)
	assert.Equal(t, StateOpen, cb.State())
}

func TestCircuitBreaker_StateChangeCallback(t *testing.T) {
	var transitions []string
	cb, clock := newTestBreaker(1, time.Second, WithStateChange(func(from, to State) {
		transitions = append(transitions, from.String()+"->"+to.String())
	}))

	require.Error(t, cb.Execute(fail, nil))
	clock.advance(2 * time.Second)
	require.NoError(t, cb.Execute(succeed, nil))

	assert.Equal(t, []string{"closed->open", "open->half-open", "half-open->closed"}, transitions)
}
