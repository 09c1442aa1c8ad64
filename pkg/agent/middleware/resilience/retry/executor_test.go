package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/Lynx-Eco/lib-ai/pkg/agent/llmerrors"
	"github.com/Lynx-Eco/lib-ai/pkg/agent/middleware/resilience/circuit"
)

// fakeClock advances instantly on Sleep and records requested delays.
type fakeClock struct {
	now    time.Time
	sleeps  []time.Duration
	onSleep func()
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1_700_000_000, 0)}
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	if c.onSleep != nil {
		c.onSleep()
	}
	return ctx.Err()
}

func noJitter(attempts int) Config {
	return Config{
		MaxAttempts:  attempts,
		InitialDelay: time.Second,
		MaxDelay:     time.Minute,
		Backoff:      BackoffExponential,
		Multiplier:   2,
		Jitter:       JitterNone,
	}
}

var errTransient = llmerrors.NewError(llmerrors.ErrorTypeNetwork, "connection reset")

func TestExecuteSucceedsAfterFailures(t *testing.T) {
	clock := newFakeClock()
	calls := 0
	out := Run(context.Background(), New(noJitter(5), WithClock(clock)), func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", errTransient
		}
		return "ok", nil
	})

	if out.Err != nil {
		t.Fatalf("unexpected error: %v", out.Err)
	}
	if out.Value != "ok" || out.Attempts != 3 {
		t.Errorf("got value %q attempts %d, want ok/3", out.Value, out.Attempts)
	}
	want := []time.Duration{time.Second, 2 * time.Second}
	if fmt.Sprint(clock.sleeps) != fmt.Sprint(want) {
		t.Errorf("sleeps = %v, want %v", clock.sleeps, want)
	}
	if out.Elapsed != 3*time.Second {
		t.Errorf("elapsed = %v, want 3s", out.Elapsed)
	}
}

func TestExecuteStopsAtMaxAttemptsWithLastError(t *testing.T) {
	for _, k := range []int{1, 2, 5} {
		t.Run(fmt.Sprintf("k=%d", k), func(t *testing.T) {
			calls := 0
			out := Run(context.Background(), New(noJitter(k), WithClock(newFakeClock())), func(context.Context) (int, error) {
				calls++
				return 0, llmerrors.NewErrorWithCause(llmerrors.ErrorTypeTimeout, fmt.Errorf("attempt %d", calls), "slow")
			})

			if calls != k || out.Attempts != k {
				t.Errorf("calls = %d attempts = %d, want %d", calls, out.Attempts, k)
			}
			if !llmerrors.Is(out.Err, llmerrors.ErrorTypeTimeout) {
				t.Fatalf("expected classified error, got %v", out.Err)
			}
			if want := fmt.Sprintf("attempt %d", k); errors.Unwrap(out.Err).Error() != want {
				t.Errorf("expected last error %q, got %v", want, out.Err)
			}
		})
	}
}

func TestExecuteDoesNotRetryIneligibleErrors(t *testing.T) {
	errs := []error{
		llmerrors.NewError(llmerrors.ErrorTypeAuth, "bad key"),
		llmerrors.NewError(llmerrors.ErrorTypeBadPrompt, "too long"),
		&circuit.OpenError{Name: "anthropic"},
		errors.New("plain error"),
	}
	for _, want := range errs {
		calls := 0
		out := Run(context.Background(), New(noJitter(5), WithClock(newFakeClock())), func(context.Context) (int, error) {
			calls++
			return 0, want
		})
		if calls != 1 {
			t.Errorf("%v: expected 1 call, got %d", want, calls)
		}
		if out.Err != want {
			t.Errorf("expected error returned unchanged, got %v", out.Err)
		}
	}
}

func TestExecuteRespectsBudgetBeforeSleeping(t *testing.T) {
	clock := newFakeClock()
	cfg := noJitter(10)
	cfg.MaxTotalTime = Budget(5 * time.Second)

	out := Run(context.Background(), New(cfg, WithClock(clock)), func(context.Context) (int, error) {
		return 0, errTransient
	})

	// Sleeps of 1s and 2s fit (3s); the next 4s sleep would reach 7s.
	if out.Attempts != 3 {
		t.Errorf("attempts = %d, want 3", out.Attempts)
	}
	if out.Elapsed > 5*time.Second {
		t.Errorf("elapsed %v exceeds budget", out.Elapsed)
	}
	if !errors.Is(out.Err, errTransient) {
		t.Errorf("expected last error, got %v", out.Err)
	}
}

func TestExecuteZeroBudgetMakesOneAttempt(t *testing.T) {
	cfg := noJitter(5)
	cfg.MaxTotalTime = Budget(0)

	calls := 0
	out := Run(context.Background(), New(cfg, WithClock(newFakeClock())), func(context.Context) (int, error) {
		calls++
		return 0, errTransient
	})
	if calls != 1 || out.Attempts != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestExecuteHonorsRetryAfter(t *testing.T) {
	clock := newFakeClock()
	cfg := noJitter(2)
	cfg.RespectRetryAfter = true

	_ = Run(context.Background(), New(cfg, WithClock(clock)), func(context.Context) (int, error) {
		return 0, llmerrors.NewRateLimitError(429, 7*time.Second, "slow down")
	})
	if len(clock.sleeps) != 1 || clock.sleeps[0] != 7*time.Second {
		t.Errorf("sleeps = %v, want [7s]", clock.sleeps)
	}

	clock = newFakeClock()
	cfg.RespectRetryAfter = false
	_ = Run(context.Background(), New(cfg, WithClock(clock)), func(context.Context) (int, error) {
		return 0, llmerrors.NewRateLimitError(429, 7*time.Second, "slow down")
	})
	if len(clock.sleeps) != 1 || clock.sleeps[0] != time.Second {
		t.Errorf("sleeps = %v, want [1s]", clock.sleeps)
	}
}

func TestExecuteCancellationDuringSleep(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	clock := newFakeClock()
	clock.onSleep = cancel

	calls := 0
	out := Run(ctx, New(noJitter(5), WithClock(clock)), func(context.Context) (int, error) {
		calls++
		return 0, errTransient
	})

	if calls != 1 {
		t.Errorf("expected no attempt after cancellation, got %d calls", calls)
	}
	if !errors.Is(out.Err, context.Canceled) || !out.Cancelled() {
		t.Errorf("expected cancelled outcome, got %v", out.Err)
	}
	if ShouldRetry(out.Err) {
		t.Error("cancellation must not be classified retryable")
	}
}

func TestExecuteRealSleepAbortsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := noJitter(2)
	cfg.InitialDelay = time.Hour

	done := make(chan Outcome[int], 1)
	go func() {
		done <- Run(ctx, New(cfg), func(context.Context) (int, error) { return 0, errTransient })
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case out := <-done:
		if !errors.Is(out.Err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", out.Err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("sleep was not interrupted by cancellation")
	}
}

func TestExecuteParentCancelledDuringOperation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	out := Run(ctx, New(noJitter(5), WithClock(newFakeClock())), func(context.Context) (int, error) {
		calls++
		cancel()
		return 0, errTransient
	})
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if !errors.Is(out.Err, context.Canceled) {
		t.Errorf("expected cancellation to surface, got %v", out.Err)
	}
}

func TestRetryHookAndExecutorExecute(t *testing.T) {
	var hooked []int
	e := New(noJitter(3), WithClock(newFakeClock()), WithRetryHook(func(attempt int, _ time.Duration, _ error) {
		hooked = append(hooked, attempt)
	}))

	out := e.Execute(context.Background(), func(context.Context) error { return errTransient })
	if out.Attempts != 3 {
		t.Errorf("attempts = %d, want 3", out.Attempts)
	}
	if fmt.Sprint(hooked) != "[2 3]" {
		t.Errorf("hook attempts = %v, want [2 3]", hooked)
	}
}

func TestShouldRetry(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"canceled", context.Canceled, false},
		{"wrapped canceled", fmt.Errorf("call: %w", context.Canceled), false},
		{"cancelled type", llmerrors.FromContext(context.Canceled), false},
		{"per-call deadline", fmt.Errorf("http: %w", context.DeadlineExceeded), true},
		{"deadline inside unknown", llmerrors.NewErrorWithCause(llmerrors.ErrorTypeUnknown, context.DeadlineExceeded, "timed out"), true},
		{"circuit open", fmt.Errorf("x: %w", &circuit.OpenError{Name: "a"}), false},
		{"rate limit", llmerrors.NewRateLimitError(429, 0, "busy"), true},
		{"service unavailable", llmerrors.NewServiceUnavailableError(nil, "503"), true},
		{"auth", llmerrors.NewError(llmerrors.ErrorTypeAuth, "nope"), false},
		{"quota", llmerrors.NewError(llmerrors.ErrorTypeQuota, "billing"), false},
		{"unknown", llmerrors.NewError(llmerrors.ErrorTypeUnknown, "?"), false},
		{"connection reset text", errors.New("read tcp: connection reset by peer"), true},
		{"plain", errors.New("something unexpected"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ShouldRetry(tt.err); got != tt.want {
				t.Errorf("ShouldRetry(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestConfigValidate(t *testing.T) {
	good := DefaultConfig()
	if err := good.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}

	bad := []Config{
		{MaxAttempts: 0},
		{MaxAttempts: 1, Backoff: "quadratic"},
		{MaxAttempts: 1, Backoff: BackoffSequence},
		{MaxAttempts: 1, Jitter: "wobbly"},
		{MaxAttempts: 1, MaxTotalTime: Budget(-time.Second)},
	}
	for i := range bad {
		if err := bad[i].Validate(); err == nil {
			t.Errorf("config %d should be invalid: %+v", i, bad[i])
		}
	}
}
