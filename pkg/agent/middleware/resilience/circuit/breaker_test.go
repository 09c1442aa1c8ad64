package circuit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lynx-Eco/lib-ai/pkg/agent/llmerrors"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Unix(1_700_000_000, 0)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var errBoom = errors.New("boom")

func fail(context.Context) error    { return errBoom }
func succeed(context.Context) error { return nil }

func testConfig() Config {
	return Config{
		FailureThreshold:    50,
		MinimumRequests:     4,
		Window:              time.Minute,
		RecoveryTimeout:     10 * time.Second,
		HalfOpenMaxRequests: 2,
		SuccessThreshold:    100,
	}
}

func TestBreakerStaysClosedBelowMinimumRequests(t *testing.T) {
	clock := newTestClock()
	b := New("dep", testConfig(), WithClock(clock.Now))

	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, b.Execute(context.Background(), fail), errBoom)
	}
	assert.Equal(t, Closed, b.State(), "three failures are below the minimum of four")
}

func TestBreakerOpensAtMinimumRequests(t *testing.T) {
	clock := newTestClock()
	b := New("dep", testConfig(), WithClock(clock.Now))

	require.NoError(t, b.Execute(context.Background(), succeed))
	require.NoError(t, b.Execute(context.Background(), succeed))
	_ = b.Execute(context.Background(), fail)
	assert.Equal(t, Closed, b.State())

	// 2/4 failures = 50% at the minimum request count.
	_ = b.Execute(context.Background(), fail)
	assert.Equal(t, Open, b.State())

	called := false
	err := b.Execute(context.Background(), func(context.Context) error {
		called = true
		return nil
	})
	assert.False(t, called, "open breaker must not invoke the operation")
	assert.ErrorIs(t, err, ErrOpen)

	var openErr *OpenError
	require.ErrorAs(t, err, &openErr)
	assert.Equal(t, "dep", openErr.Name)
	assert.Equal(t, 10*time.Second, openErr.RetryIn)
}

func TestBreakerOpensWhenMinimumIsReachedBySuccess(t *testing.T) {
	clock := newTestClock()
	b := New("dep", testConfig(), WithClock(clock.Now))

	_ = b.Execute(context.Background(), fail)
	_ = b.Execute(context.Background(), fail)
	require.NoError(t, b.Execute(context.Background(), succeed))
	assert.Equal(t, Closed, b.State())

	// The fourth request succeeds, but 2/4 failures still meets the threshold.
	require.NoError(t, b.Execute(context.Background(), succeed))
	assert.Equal(t, Open, b.State())
	assert.Equal(t, 50.0, b.Metrics().FailureRate)
}

func TestBreakerWindowSlides(t *testing.T) {
	clock := newTestClock()
	b := New("dep", testConfig(), WithClock(clock.Now))

	for i := 0; i < 3; i++ {
		_ = b.Execute(context.Background(), fail)
	}
	clock.Advance(61 * time.Second)

	// Old failures fell out of the window, so one more does not trip the breaker.
	_ = b.Execute(context.Background(), fail)
	assert.Equal(t, Closed, b.State())
	assert.Equal(t, 1, b.Metrics().RequestsInWindow)
}

func tripBreaker(t *testing.T, b *Breaker) {
	t.Helper()
	for i := 0; i < 4; i++ {
		_ = b.Execute(context.Background(), fail)
	}
	require.Equal(t, Open, b.State())
}

func TestHalfOpenSingleFailureReopens(t *testing.T) {
	clock := newTestClock()
	b := New("dep", testConfig(), WithClock(clock.Now))
	tripBreaker(t, b)

	clock.Advance(10 * time.Second)
	require.ErrorIs(t, b.Execute(context.Background(), fail), errBoom)
	assert.Equal(t, Open, b.State())
	assert.Equal(t, clock.Now(), b.Metrics().OpenedAt, "reopening stamps a new openedAt")

	assert.ErrorIs(t, b.Execute(context.Background(), succeed), ErrOpen)
}

func TestHalfOpenSuccessfulProbesClose(t *testing.T) {
	clock := newTestClock()
	b := New("dep", testConfig(), WithClock(clock.Now))
	tripBreaker(t, b)

	clock.Advance(10 * time.Second)
	require.NoError(t, b.Execute(context.Background(), succeed))
	assert.Equal(t, HalfOpen, b.State())
	require.NoError(t, b.Execute(context.Background(), succeed))
	assert.Equal(t, Closed, b.State())

	m := b.Metrics()
	assert.Zero(t, m.RequestsInWindow, "closing clears the window")
	assert.Zero(t, m.FailureRate)
}

func TestHalfOpenProbeBudgetIsReserved(t *testing.T) {
	clock := newTestClock()
	b := New("dep", testConfig(), WithClock(clock.Now))
	tripBreaker(t, b)
	clock.Advance(10 * time.Second)

	release := make(chan struct{})
	var invoked atomic.Int32
	var wg sync.WaitGroup
	errs := make(chan error, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- b.Execute(context.Background(), func(context.Context) error {
				invoked.Add(1)
				<-release
				return nil
			})
		}()
	}

	require.Eventually(t, func() bool { return b.Metrics().Rejected == 3 }, time.Second, time.Millisecond)
	close(release)
	wg.Wait()
	close(errs)

	assert.Equal(t, int32(2), invoked.Load(), "only the probe budget may be in flight")
	rejected := 0
	for err := range errs {
		if errors.Is(err, ErrOpen) {
			rejected++
		}
	}
	assert.Equal(t, 3, rejected)
	assert.Equal(t, Closed, b.State())
}

func TestCancellationIsNotRecorded(t *testing.T) {
	clock := newTestClock()
	b := New("dep", testConfig(), WithClock(clock.Now))

	for i := 0; i < 10; i++ {
		_ = b.Execute(context.Background(), func(context.Context) error { return context.Canceled })
		_ = b.Execute(context.Background(), func(context.Context) error {
			return llmerrors.FromContext(context.Canceled)
		})
	}
	assert.Equal(t, Closed, b.State())
	assert.Zero(t, b.Metrics().TotalRequests)

	tripBreaker(t, b)
	clock.Advance(10 * time.Second)
	// A cancelled probe releases its slot.
	_ = b.Execute(context.Background(), func(context.Context) error { return context.Canceled })
	require.NoError(t, b.Execute(context.Background(), succeed))
	require.NoError(t, b.Execute(context.Background(), succeed))
	assert.Equal(t, Closed, b.State())
}

func TestManualControlsAndHook(t *testing.T) {
	var mu sync.Mutex
	var seen []string
	hook := func(name string, from, to State) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, fmt.Sprintf("%s:%s->%s", name, from, to))
	}
	b := New("dep", testConfig(), WithStateChangeHook(hook))

	b.ForceOpen()
	assert.Equal(t, Open, b.State())
	assert.ErrorIs(t, b.Execute(context.Background(), succeed), ErrOpen)

	b.ForceClosed()
	assert.Equal(t, Closed, b.State())
	require.NoError(t, b.Execute(context.Background(), succeed))

	b.Reset()
	m := b.Metrics()
	assert.Equal(t, Closed, m.State)
	assert.Zero(t, m.TotalRequests)
	assert.Zero(t, m.Rejected)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"dep:CLOSED->OPEN", "dep:OPEN->CLOSED"}, seen)
}

func TestPanicCountsAsFailure(t *testing.T) {
	b := New("dep", testConfig())
	assert.Panics(t, func() {
		_ = b.Execute(context.Background(), func(context.Context) error { panic("kaboom") })
	})
	assert.Equal(t, int64(1), b.Metrics().Failures)
}

func TestCallReturnsValue(t *testing.T) {
	b := New("dep", testConfig())
	v, err := Call(context.Background(), b, func(context.Context) (int, error) { return 42, nil })
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestMetricsDoNotBlockOnInFlightCalls(t *testing.T) {
	b := New("dep", testConfig())
	started := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = b.Execute(context.Background(), func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	done := make(chan Metrics, 1)
	go func() { done <- b.Metrics() }()
	select {
	case m := <-done:
		assert.Equal(t, Closed, m.State)
	case <-time.After(time.Second):
		t.Fatal("Metrics blocked behind an executing operation")
	}
	close(release)
}

func TestConfigDefaultsAndValidate(t *testing.T) {
	b := New("dep", Config{})
	assert.Equal(t, DefaultConfig(), b.Config())

	cfg := DefaultConfig()
	assert.NoError(t, cfg.Validate())
	cfg.FailureThreshold = 150
	assert.Error(t, cfg.Validate())
}
