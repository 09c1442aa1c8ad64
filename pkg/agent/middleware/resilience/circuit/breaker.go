// Package circuit provides a sliding-window circuit breaker and a registry of named breakers.
package circuit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Lynx-Eco/lib-ai/pkg/agent/llmerrors"
	"github.com/Lynx-Eco/lib-ai/pkg/logx"
)

// State represents the current state of a circuit breaker.
type State int

// Circuit breaker states for managing dependency failure patterns.
const (
	Closed   State = iota // Normal operation
	Open                  // Failing, reject requests
	HalfOpen              // Probing whether the dependency recovered
)

func (s State) String() string {
	switch s {
	case Closed:
		return "CLOSED"
	case Open:
		return "OPEN"
	case HalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// Config defines circuit breaker behavior. Thresholds are percentages.
type Config struct {
	FailureThreshold    float64       `json:"failure_threshold"`      // Open at or above this failure rate
	SuccessThreshold    float64       `json:"success_threshold"`      // Close when probes succeed at or above this rate
	MinimumRequests     int           `json:"minimum_requests"`       // Rate not evaluated below this many requests
	HalfOpenMaxRequests int           `json:"half_open_max_requests"` // Probe budget
	Window              time.Duration `json:"window"`
	RecoveryTimeout     time.Duration `json:"recovery_timeout"`
}

// DefaultConfig returns 50% over at least 10 requests in 60s, 30s recovery and 3 probes needing 60%.
func DefaultConfig() Config {
	return Config{
		FailureThreshold:    50,
		MinimumRequests:     10,
		Window:              60 * time.Second,
		RecoveryTimeout:     30 * time.Second,
		HalfOpenMaxRequests: 3,
		SuccessThreshold:    60,
	}
}

// withDefaults fills zero fields from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = d.FailureThreshold
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = d.SuccessThreshold
	}
	if c.MinimumRequests <= 0 {
		c.MinimumRequests = d.MinimumRequests
	}
	if c.HalfOpenMaxRequests <= 0 {
		c.HalfOpenMaxRequests = d.HalfOpenMaxRequests
	}
	if c.Window <= 0 {
		c.Window = d.Window
	}
	if c.RecoveryTimeout <= 0 {
		c.RecoveryTimeout = d.RecoveryTimeout
	}
	return c
}

// Validate reports configuration errors.
func (c *Config) Validate() error {
	if c.FailureThreshold < 0 || c.FailureThreshold > 100 {
		return fmt.Errorf("failure_threshold must be within 0-100, got %v", c.FailureThreshold)
	}
	if c.SuccessThreshold < 0 || c.SuccessThreshold > 100 {
		return fmt.Errorf("success_threshold must be within 0-100, got %v", c.SuccessThreshold)
	}
	if c.MinimumRequests < 0 || c.HalfOpenMaxRequests < 0 {
		return fmt.Errorf("request counts must not be negative")
	}
	if c.Window < 0 || c.RecoveryTimeout < 0 {
		return fmt.Errorf("durations must not be negative")
	}
	return nil
}

// ErrOpen is matched by every rejection issued by a breaker.
var ErrOpen = errors.New("circuit breaker is open")

// OpenError is returned without invoking the operation when the breaker rejects a call.
type OpenError struct {
	Name    string
	State   State
	RetryIn time.Duration // Remaining recovery time, zero when half-open probes are exhausted
}

func (e *OpenError) Error() string {
	if e.State == HalfOpen {
		return fmt.Sprintf("circuit breaker %q is %s: probe budget exhausted", e.Name, e.State)
	}
	return fmt.Sprintf("circuit breaker %q is %s (retry in %v)", e.Name, e.State, e.RetryIn.Round(time.Millisecond))
}

// Is makes errors.Is(err, ErrOpen) hold.
func (e *OpenError) Is(target error) bool {
	return target == ErrOpen
}

// Metrics is a point-in-time snapshot of a breaker.
type Metrics struct {
	OpenedAt         time.Time `json:"opened_at,omitempty"`
	Name             string    `json:"name"`
	State            State     `json:"state"`
	TotalRequests    int64     `json:"total_requests"`
	Successes        int64     `json:"successes"`
	Failures         int64     `json:"failures"`
	Rejected         int64     `json:"rejected"`
	FailureRate      float64   `json:"failure_rate"` // Percent, over the current window
	RequestsInWindow int       `json:"requests_in_window"`
}

// StateChangeHook observes transitions. It runs outside the breaker lock.
type StateChangeHook func(name string, from, to State)

type transition struct {
	from, to State
}

// Breaker is a per-dependency Closed/Open/HalfOpen state machine over a sliding window.
//
//nolint:govet // Logical field grouping preferred over memory alignment
type Breaker struct {
	name          string
	cfg           Config
	logger        *logx.Logger
	now           func() time.Time
	onStateChange StateChangeHook

	// mu serializes admission, outcome recording and transitions.
	mu                sync.Mutex
	state             State
	generation        uint64 // Bumped on every transition; stale outcomes are ignored
	openedAt          time.Time
	probesReserved    int
	probesCompleted   int
	probeSuccesses    int
	window            *window
	totalRequests     int64
	successes         int64
	failures          int64
	rejected          int64
	pendingTransition []transition

	// snapMu guards snapshot so Metrics never waits behind mu.
	snapMu   sync.RWMutex
	snapshot Metrics
}

// Option configures a Breaker.
type Option func(*Breaker)

// WithLogger sets the logger.
func WithLogger(l *logx.Logger) Option {
	return func(b *Breaker) { b.logger = l }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) { b.now = now }
}

// WithStateChangeHook registers a transition observer.
func WithStateChangeHook(h StateChangeHook) Option {
	return func(b *Breaker) { b.onStateChange = h }
}

// New creates a closed breaker. Zero config fields take DefaultConfig values.
func New(name string, cfg Config, opts ...Option) *Breaker {
	b := &Breaker{
		name:   name,
		cfg:    cfg.withDefaults(),
		logger: logx.NewLogger("circuit"),
		now:    time.Now,
		state:  Closed,
	}
	for _, opt := range opts {
		opt(b)
	}
	b.window = newWindow(b.cfg.Window)
	b.publishLocked()
	return b
}

// Name returns the dependency name.
func (b *Breaker) Name() string {
	return b.name
}

// Config returns the effective configuration.
func (b *Breaker) Config() Config {
	return b.cfg
}

// Execute runs op if the breaker admits it and records the outcome. A rejection
// returns *OpenError without invoking op. Cancellation is not recorded.
func (b *Breaker) Execute(ctx context.Context, op func(ctx context.Context) error) error {
	gen, err := b.admit()
	if err != nil {
		return err
	}

	finished := false
	defer func() {
		if !finished {
			// op panicked
			b.record(gen, outcomeFailure)
		}
	}()

	err = op(ctx)
	finished = true
	b.record(gen, classify(err))
	return err //nolint:wrapcheck // breaker passes errors through unchanged
}

// Call runs a value-returning operation through b.
func Call[T any](ctx context.Context, b *Breaker, op func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := b.Execute(ctx, func(ctx context.Context) error {
		v, err := op(ctx)
		if err == nil {
			result = v
		}
		return err
	})
	return result, err
}

type outcome int

const (
	outcomeSuccess outcome = iota
	outcomeFailure
	outcomeIgnored
)

func classify(err error) outcome {
	switch {
	case err == nil:
		return outcomeSuccess
	case llmerrors.IsCancelled(err):
		return outcomeIgnored
	default:
		return outcomeFailure
	}
}

// admit decides whether a call may proceed and reserves a probe slot when half-open.
func (b *Breaker) admit() (uint64, error) {
	b.mu.Lock()
	now := b.now()

	if b.state == Open {
		if elapsed := now.Sub(b.openedAt); elapsed < b.cfg.RecoveryTimeout {
			b.rejected++
			b.publishLocked()
			b.mu.Unlock()
			return 0, &OpenError{Name: b.name, State: Open, RetryIn: b.cfg.RecoveryTimeout - elapsed}
		}
		b.transitionLocked(HalfOpen)
	}

	if b.state == HalfOpen {
		if b.probesReserved >= b.cfg.HalfOpenMaxRequests {
			b.rejected++
			b.publishLocked()
			b.mu.Unlock()
			b.flushTransitions()
			return 0, &OpenError{Name: b.name, State: HalfOpen}
		}
		b.probesReserved++
	}

	gen := b.generation
	b.publishLocked()
	b.mu.Unlock()
	b.flushTransitions()
	return gen, nil
}

func (b *Breaker) record(gen uint64, o outcome) {
	b.mu.Lock()
	now := b.now()

	if o == outcomeIgnored {
		if gen == b.generation && b.state == HalfOpen && b.probesReserved > 0 {
			b.probesReserved--
		}
		b.mu.Unlock()
		return
	}

	b.totalRequests++
	if o == outcomeSuccess {
		b.successes++
	} else {
		b.failures++
	}

	if gen == b.generation {
		switch b.state {
		case Closed:
			b.window.record(now, o == outcomeSuccess)
			total, failures := b.window.counts(now)
			if total >= b.cfg.MinimumRequests && failures > 0 && failureRate(total, failures) >= b.cfg.FailureThreshold {
				b.logger.Warn("🔌 Circuit %q opening: %d/%d requests failed in %v",
					b.name, failures, total, b.cfg.Window)
				b.transitionLocked(Open)
			}
		case HalfOpen:
			b.probesCompleted++
			if o == outcomeFailure {
				b.logger.Warn("🔌 Circuit %q probe failed, reopening", b.name)
				b.transitionLocked(Open)
				break
			}
			b.probeSuccesses++
			if b.probesCompleted >= b.cfg.HalfOpenMaxRequests {
				if float64(b.probeSuccesses)/float64(b.probesCompleted)*100 >= b.cfg.SuccessThreshold {
					b.logger.Info("✅ Circuit %q closed after %d successful probes", b.name, b.probeSuccesses)
					b.transitionLocked(Closed)
				} else {
					b.transitionLocked(Open)
				}
			}
		case Open:
			// Forced open while the call was in flight.
		}
	}

	b.publishLocked()
	b.mu.Unlock()
	b.flushTransitions()
}

// transitionLocked moves to state `to`, resetting per-state bookkeeping.
func (b *Breaker) transitionLocked(to State) {
	from := b.state
	b.state = to
	b.generation++
	b.probesReserved = 0
	b.probesCompleted = 0
	b.probeSuccesses = 0

	switch to {
	case Open:
		b.openedAt = b.now()
	case Closed:
		b.window.reset()
		b.openedAt = time.Time{}
	case HalfOpen:
	}

	if from != to {
		logx.Debug(context.Background(), "circuit", "%s: %s -> %s", b.name, from, to)
		b.pendingTransition = append(b.pendingTransition, transition{from: from, to: to})
	}
}

// flushTransitions delivers queued transitions to the hook outside mu.
func (b *Breaker) flushTransitions() {
	b.mu.Lock()
	pending := b.pendingTransition
	b.pendingTransition = nil
	b.mu.Unlock()

	if b.onStateChange == nil {
		return
	}
	for _, t := range pending {
		b.onStateChange(b.name, t.from, t.to)
	}
}

func (b *Breaker) publishLocked() {
	total, failures := b.window.counts(b.now())
	m := Metrics{
		Name:             b.name,
		State:            b.state,
		TotalRequests:    b.totalRequests,
		Successes:        b.successes,
		Failures:         b.failures,
		Rejected:         b.rejected,
		FailureRate:      failureRate(total, failures),
		RequestsInWindow: total,
		OpenedAt:         b.openedAt,
	}
	b.snapMu.Lock()
	b.snapshot = m
	b.snapMu.Unlock()
}

// Metrics returns the latest snapshot.
func (b *Breaker) Metrics() Metrics {
	b.snapMu.RLock()
	defer b.snapMu.RUnlock()
	return b.snapshot
}

// State returns the current state. An open breaker whose recovery timeout elapsed
// reports Open until the next call moves it to HalfOpen.
func (b *Breaker) State() State {
	return b.Metrics().State
}

// ForceOpen opens the breaker regardless of the window.
func (b *Breaker) ForceOpen() {
	b.mu.Lock()
	b.logger.Warn("🔌 Circuit %q forced open", b.name)
	b.transitionLocked(Open)
	b.publishLocked()
	b.mu.Unlock()
	b.flushTransitions()
}

// ForceClosed closes the breaker and clears the window.
func (b *Breaker) ForceClosed() {
	b.mu.Lock()
	b.logger.Info("🔌 Circuit %q forced closed", b.name)
	b.transitionLocked(Closed)
	b.publishLocked()
	b.mu.Unlock()
	b.flushTransitions()
}

// Reset closes the breaker with an empty window and zeroed totals.
func (b *Breaker) Reset() {
	b.mu.Lock()
	b.transitionLocked(Closed)
	b.totalRequests = 0
	b.successes = 0
	b.failures = 0
	b.rejected = 0
	b.publishLocked()
	b.mu.Unlock()
	b.flushTransitions()
}
