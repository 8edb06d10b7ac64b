// Package backoff provides pluggable retry delay and timer jitter
// strategies for peer RPCs and election scheduling. All strategies are
// safe for concurrent use (they are stateless).
package backoff

import (
	"math"
	"math/rand/v2"
	"time"
)

// Strategy computes the delay before a retry attempt.
type Strategy interface {
	// Delay returns how long to wait before retry attempt n (1-indexed).
	// Attempt 1 is the first retry after the initial failure.
	Delay(attempt int) time.Duration
}

// ──────────────────────────────────────────────────
// Constant
// ──────────────────────────────────────────────────

// Constant always returns the same delay regardless of attempt number.
type Constant struct {
	Interval time.Duration
}

// NewConstant creates a constant backoff strategy.
func NewConstant(interval time.Duration) *Constant {
	return &Constant{Interval: interval}
}

// Delay returns the fixed interval.
func (c *Constant) Delay(_ int) time.Duration {
	return c.Interval
}

// ──────────────────────────────────────────────────
// Exponential
// ──────────────────────────────────────────────────

// Exponential doubles the delay each attempt.
// Delay = min(Initial * 2^(attempt-1), Max).
type Exponential struct {
	Initial time.Duration
	Max     time.Duration
}

// NewExponential creates an exponential backoff strategy.
func NewExponential(initial, maxDelay time.Duration) *Exponential {
	return &Exponential{Initial: initial, Max: maxDelay}
}

// Delay returns Initial * 2^(attempt-1), capped at Max.
func (e *Exponential) Delay(attempt int) time.Duration {
	d := time.Duration(float64(e.Initial) * math.Pow(2, float64(attempt-1)))
	if e.Max > 0 && d > e.Max {
		return e.Max
	}
	return d
}

// ──────────────────────────────────────────────────
// ExponentialWithJitter (full jitter)
// ──────────────────────────────────────────────────

// ExponentialWithJitter applies full jitter to an exponential base.
// Delay = random value in [0, min(Initial * 2^(attempt-1), Max)].
// This prevents thundering herd when many retries happen simultaneously.
type ExponentialWithJitter struct {
	Initial time.Duration
	Max     time.Duration
}

// NewExponentialWithJitter creates an exponential backoff with full jitter.
func NewExponentialWithJitter(initial, maxDelay time.Duration) *ExponentialWithJitter {
	return &ExponentialWithJitter{Initial: initial, Max: maxDelay}
}

// Delay returns a random duration in [0, min(Initial * 2^(attempt-1), Max)].
func (e *ExponentialWithJitter) Delay(attempt int) time.Duration {
	base := float64(e.Initial) * math.Pow(2, float64(attempt-1))
	if e.Max > 0 && base > float64(e.Max) {
		base = float64(e.Max)
	}
	return time.Duration(rand.Float64() * base) //nolint:gosec // jitter intentionally uses non-crypto rand
}

// ──────────────────────────────────────────────────
// Jitter (uniform interval)
// ──────────────────────────────────────────────────

// Jitter draws a uniformly random duration from [Min, Max] on every call.
// Election timers use it so that repeated split votes eventually diverge:
// correctness depends only on eventual divergence, not on the distribution.
type Jitter struct {
	Min time.Duration
	Max time.Duration
}

// NewJitter creates a uniform jitter over [minDelay, maxDelay].
// It panics if the range is inverted (programming error).
func NewJitter(minDelay, maxDelay time.Duration) *Jitter {
	if maxDelay < minDelay {
		panic("backoff: jitter max < min")
	}
	return &Jitter{Min: minDelay, Max: maxDelay}
}

// Delay returns a random duration in [Min, Max]. The attempt number is
// ignored: every draw is independent.
func (j *Jitter) Delay(_ int) time.Duration {
	return j.Next()
}

// Next returns a random duration in [Min, Max].
func (j *Jitter) Next() time.Duration {
	if j.Max == j.Min {
		return j.Min
	}
	span := int64(j.Max - j.Min + 1)
	return j.Min + time.Duration(rand.Int64N(span)) //nolint:gosec // timer jitter intentionally uses non-crypto rand
}

// ──────────────────────────────────────────────────
// Default
// ──────────────────────────────────────────────────

// DefaultStrategy returns a suggested default for caller-side retry
// loops: ExponentialWithJitter with 50ms initial and 2s max. The library
// itself never retries peer RPCs; the circuit breaker accounts each
// failure exactly once.
func DefaultStrategy() Strategy {
	return NewExponentialWithJitter(50*time.Millisecond, 2*time.Second)
}
