// Package breaker implements a circuit breaker for calls to remote peers.
//
// A Breaker gates one dependency. While Closed it passes calls through and
// tracks outcomes over a sliding window of recent calls; when at least
// RequestThreshold outcomes are recorded and the failure ratio reaches
// FailureThresholdPct, the breaker Opens and fails calls fast without
// invoking the operation. After RecoveryTimeout it admits a single probe
// (HalfOpen); SuccessThreshold consecutive successes close it again, any
// half-open failure reopens it immediately.
//
// The breaker bounds the rate of doomed calls to a degraded dependency —
// the half-open probe limits the blast radius of retrying too early. It
// never retries on the caller's behalf: ErrCircuitOpen means no remote call
// was made, while the operation's own error is propagated unchanged.
package breaker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned when the breaker is open and the recovery
// timeout has not yet elapsed. No remote call was made.
var ErrCircuitOpen = errors.New("breaker: circuit open")

// Clock supplies the current time. Inject a fake in tests.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

// Now returns time.Now().
func (SystemClock) Now() time.Time { return time.Now() }

// State is the breaker's gate state.
type State int

const (
	// Closed passes calls through while tracking outcomes.
	Closed State = iota
	// Open fails calls fast until the recovery timeout elapses.
	Open
	// HalfOpen admits probe calls to test whether the dependency recovered.
	HalfOpen
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// StateChangeFunc is notified of state transitions.
type StateChangeFunc func(name string, from, to State)

// Config holds breaker tuning parameters.
type Config struct {
	// FailureThresholdPct is the failure ratio in (0, 1] that trips the
	// breaker once the window holds at least RequestThreshold outcomes.
	FailureThresholdPct float64

	// RequestThreshold is both the sliding window size and the minimum
	// number of observed calls before the breaker may trip.
	RequestThreshold int

	// RecoveryTimeout is how long an open breaker waits before admitting
	// a half-open probe.
	RecoveryTimeout time.Duration

	// SuccessThreshold is the number of consecutive half-open successes
	// required to close the breaker.
	SuccessThreshold int
}

// DefaultConfig returns breaker defaults: trip at 50% failures over the
// last 10 calls, probe after 5s, close after 2 consecutive successes.
func DefaultConfig() Config {
	return Config{
		FailureThresholdPct: 0.5,
		RequestThreshold:    10,
		RecoveryTimeout:     5 * time.Second,
		SuccessThreshold:    2,
	}
}

// Breaker gates calls to a single dependency. Safe for concurrent use.
type Breaker struct {
	name string
	cfg  Config

	mu        sync.Mutex
	state     State
	openedAt  time.Time
	window    []bool // true = failure; ring buffer of recent outcomes
	windowPos int
	windowLen int
	successes int // consecutive half-open successes

	clock    Clock
	onChange StateChangeFunc
	logger   *slog.Logger
}

// Option configures a Breaker.
type Option func(*Breaker)

// WithClock sets the time source. Defaults to the system clock.
func WithClock(c Clock) Option {
	return func(b *Breaker) { b.clock = c }
}

// WithStateChange sets a callback invoked on every state transition.
// The callback runs synchronously while the breaker's lock is held, so it
// must be cheap and must not call back into the breaker.
func WithStateChange(fn StateChangeFunc) Option {
	return func(b *Breaker) { b.onChange = fn }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Breaker) { b.logger = l }
}

// New creates a Breaker named for the dependency it guards.
func New(name string, cfg Config, opts ...Option) (*Breaker, error) {
	if cfg.FailureThresholdPct <= 0 || cfg.FailureThresholdPct > 1 {
		return nil, fmt.Errorf("breaker: failure threshold %v must be in (0, 1]", cfg.FailureThresholdPct)
	}
	if cfg.RequestThreshold <= 0 {
		return nil, fmt.Errorf("breaker: request threshold %d must be positive", cfg.RequestThreshold)
	}
	if cfg.RecoveryTimeout <= 0 {
		return nil, fmt.Errorf("breaker: recovery timeout %v must be positive", cfg.RecoveryTimeout)
	}
	if cfg.SuccessThreshold <= 0 {
		return nil, fmt.Errorf("breaker: success threshold %d must be positive", cfg.SuccessThreshold)
	}

	b := &Breaker{
		name:   name,
		cfg:    cfg,
		window: make([]bool, cfg.RequestThreshold),
		clock:  SystemClock{},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// Name returns the dependency name this breaker guards.
func (b *Breaker) Name() string { return b.name }

// State returns the current gate state, accounting for recovery timeout
// expiry (an expired Open reports HalfOpen).
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == Open && b.clock.Now().Sub(b.openedAt) >= b.cfg.RecoveryTimeout {
		return HalfOpen
	}
	return b.state
}

// Do invokes op through the breaker. If the circuit is open and the
// recovery timeout has not elapsed, Do returns ErrCircuitOpen without
// invoking op. Otherwise op runs and its outcome is recorded; op's error —
// including context cancellation — counts as a failure and is returned
// unchanged.
func (b *Breaker) Do(ctx context.Context, op func(ctx context.Context) error) error {
	if err := b.admit(); err != nil {
		return err
	}

	err := op(ctx)
	b.record(err == nil)
	return err
}

// Call invokes op through breaker b, returning op's value. It exists
// because methods cannot have type parameters.
func Call[T any](ctx context.Context, b *Breaker, op func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := b.Do(ctx, func(ctx context.Context) error {
		var opErr error
		out, opErr = op(ctx)
		return opErr
	})
	return out, err
}

// admit decides whether a call may proceed, transitioning Open → HalfOpen
// when the recovery timeout has elapsed.
func (b *Breaker) admit() error {
	b.mu.Lock()

	if b.state == Open {
		if b.clock.Now().Sub(b.openedAt) < b.cfg.RecoveryTimeout {
			b.mu.Unlock()
			return ErrCircuitOpen
		}
		b.transitionLocked(HalfOpen)
	}

	b.mu.Unlock()
	return nil
}

// record accounts one call outcome and applies state transitions.
func (b *Breaker) record(success bool) {
	b.mu.Lock()

	switch b.state {
	case HalfOpen:
		if !success {
			// Any failure while half-open reopens immediately.
			b.successes = 0
			b.openedAt = b.clock.Now()
			b.transitionLocked(Open)
			b.mu.Unlock()
			return
		}
		b.successes++
		if b.successes >= b.cfg.SuccessThreshold {
			b.successes = 0
			b.resetWindowLocked()
			b.transitionLocked(Closed)
		}

	case Closed:
		b.pushOutcomeLocked(!success)
		if success {
			break
		}
		if b.windowLen >= b.cfg.RequestThreshold && b.failureRatioLocked() >= b.cfg.FailureThresholdPct {
			b.openedAt = b.clock.Now()
			b.transitionLocked(Open)
		}

	case Open:
		// A racing call admitted just before the breaker opened; its
		// outcome no longer matters.
	}

	b.mu.Unlock()
}

// pushOutcomeLocked appends an outcome to the sliding window.
func (b *Breaker) pushOutcomeLocked(failure bool) {
	b.window[b.windowPos] = failure
	b.windowPos = (b.windowPos + 1) % len(b.window)
	if b.windowLen < len(b.window) {
		b.windowLen++
	}
}

func (b *Breaker) resetWindowLocked() {
	b.windowPos = 0
	b.windowLen = 0
}

func (b *Breaker) failureRatioLocked() float64 {
	if b.windowLen == 0 {
		return 0
	}
	failures := 0
	for i := range b.windowLen {
		if b.window[i] {
			failures++
		}
	}
	return float64(failures) / float64(b.windowLen)
}

// transitionLocked moves to a new state and schedules the change callback.
// Caller holds b.mu; the callback and log run synchronously here because
// both are cheap, but onChange implementations must not call back into the
// breaker.
func (b *Breaker) transitionLocked(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to

	b.logger.Debug("breaker state change",
		slog.String("breaker", b.name),
		slog.String("from", from.String()),
		slog.String("to", to.String()),
	)
	if b.onChange != nil {
		b.onChange(b.name, from, to)
	}
}
