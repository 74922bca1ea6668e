package resilience

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errDial = errors.New("connection refused")

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestBreaker(settings Settings) (*Breaker, *clock) {
	clk := &clock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	b := New("test", settings)
	b.now = clk.Now
	return b, clk
}

func fail() error    { return errDial }
func succeed() error { return nil }

func TestBreakerStateTransitions(t *testing.T) {
	tests := []struct {
		name     string
		calls    []func() error
		expected State
	}{
		{name: "stays closed on successes", calls: []func() error{succeed, succeed, succeed}, expected: StateClosed},
		{name: "opens at threshold", calls: []func() error{fail, fail, fail}, expected: StateOpen},
		{name: "success resets the streak", calls: []func() error{fail, fail, succeed, fail, fail}, expected: StateClosed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, _ := newTestBreaker(Settings{Threshold: 3, Cooldown: time.Minute})
			for _, call := range tt.calls {
				_ = b.Do(call)
			}
			assert.Equal(t, tt.expected, b.State())
		})
	}
}

func TestBreakerOpenRejects(t *testing.T) {
	b, _ := newTestBreaker(Settings{Threshold: 2, Cooldown: time.Minute})

	assert.ErrorIs(t, b.Do(fail), errDial)
	assert.ErrorIs(t, b.Do(fail), errDial)
	require.Equal(t, StateOpen, b.State())

	called := false
	err := b.Do(func() error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrOpen)
	assert.False(t, called)
}

func TestBreakerTrialAfterCooldown(t *testing.T) {
	b, clk := newTestBreaker(Settings{Threshold: 1, Cooldown: time.Minute})

	_ = b.Do(fail)
	require.Equal(t, StateOpen, b.State())

	clk.Advance(time.Minute)
	assert.Equal(t, StateHalfOpen, b.State())

	// A failed trial reopens
	assert.ErrorIs(t, b.Do(fail), errDial)
	assert.Equal(t, StateOpen, b.State())

	clk.Advance(time.Minute)
	require.NoError(t, b.Do(succeed))
	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, uint32(0), b.Failures())
}

func TestBreakerSingleTrial(t *testing.T) {
	b, clk := newTestBreaker(Settings{Threshold: 1, Cooldown: time.Second})
	_ = b.Do(fail)
	clk.Advance(time.Second)

	release := make(chan struct{})
	trying := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- b.Do(func() error {
			close(trying)
			<-release
			return nil
		})
	}()

	<-trying
	assert.ErrorIs(t, b.Do(succeed), ErrOpen)
	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerCountsFilter(t *testing.T) {
	errBadInput := errors.New("bad input")
	b, _ := newTestBreaker(Settings{
		Threshold: 1,
		Counts:    func(err error) bool { return err != nil && !errors.Is(err, errBadInput) },
	})

	assert.ErrorIs(t, b.Do(func() error { return errBadInput }), errBadInput)
	assert.Equal(t, StateClosed, b.State())

	_ = b.Do(fail)
	assert.Equal(t, StateOpen, b.State())
}

func TestBreakerPanicCountsAsFailure(t *testing.T) {
	b, _ := newTestBreaker(Settings{Threshold: 1})

	assert.Panics(t, func() {
		_ = b.Do(func() error { panic("boom") })
	})
	assert.Equal(t, StateOpen, b.State())
}

func TestBreakerStateChangeCallback(t *testing.T) {
	var transitions []string
	b, clk := newTestBreaker(Settings{
		Threshold: 1,
		Cooldown:  time.Second,
		OnStateChange: func(name string, from, to State) {
			transitions = append(transitions, from.String()+"->"+to.String())
		},
	})

	_ = b.Do(fail)
	clk.Advance(time.Second)
	_ = b.Do(succeed)

	assert.Equal(t, []string{"closed->open", "open->half-open", "half-open->closed"}, transitions)
}

func TestGroupKeysIndependent(t *testing.T) {
	g := NewGroup(Settings{Threshold: 1, Cooldown: time.Minute})

	_ = g.Get("down:22").Do(fail)

	assert.Same(t, g.Get("down:22"), g.Get("down:22"))
	assert.Equal(t, StateOpen, g.Get("down:22").State())
	assert.Equal(t, StateClosed, g.Get("up:22").State())
	assert.Equal(t, []string{"down:22"}, g.Open())
}
