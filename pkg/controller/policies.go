package controller

import (
	"time"

	"github.com/sgrams/trxd/pkg/rig"
)

// RetryPolicy decides whether and when a failed CAT operation is
// retried.
type RetryPolicy interface {
	ShouldRetry(attempt int, err error) bool
	Delay(attempt int) time.Duration
	MaxAttempts() int
}

// ExponentialBackoff doubles the delay on each attempt up to a cap.
// Only transient errors are retried.
type ExponentialBackoff struct {
	Attempts  int
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

// DefaultBackoff returns the standard rig retry policy: 3 attempts,
// 100 ms base, capped at 2 s.
func DefaultBackoff() ExponentialBackoff {
	return ExponentialBackoff{
		Attempts:  3,
		BaseDelay: 100 * time.Millisecond,
		MaxDelay:  2 * time.Second,
	}
}

// ShouldRetry implements RetryPolicy.
func (p ExponentialBackoff) ShouldRetry(attempt int, err error) bool {
	if attempt >= p.Attempts {
		return false
	}
	return rig.Transient(err)
}

// Delay implements RetryPolicy.
func (p ExponentialBackoff) Delay(attempt int) time.Duration {
	d := p.BaseDelay
	for i := 0; i < attempt && d < p.MaxDelay; i++ {
		d *= 2
	}
	if d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

// MaxAttempts implements RetryPolicy.
func (p ExponentialBackoff) MaxAttempts() int {
	return p.Attempts
}

// FixedDelay retries transient errors with a constant delay.
type FixedDelay struct {
	Attempts int
	Wait     time.Duration
}

// ShouldRetry implements RetryPolicy.
func (p FixedDelay) ShouldRetry(attempt int, err error) bool {
	return attempt < p.Attempts && rig.Transient(err)
}

// Delay implements RetryPolicy.
func (p FixedDelay) Delay(int) time.Duration {
	return p.Wait
}

// MaxAttempts implements RetryPolicy.
func (p FixedDelay) MaxAttempts() int {
	return p.Attempts
}

// NoRetry fails operations immediately.
type NoRetry struct{}

// ShouldRetry implements RetryPolicy.
func (NoRetry) ShouldRetry(int, error) bool { return false }

// Delay implements RetryPolicy.
func (NoRetry) Delay(int) time.Duration { return 0 }

// MaxAttempts implements RetryPolicy.
func (NoRetry) MaxAttempts() int { return 1 }

// PollingPolicy decides how often the controller reads status from CAT.
type PollingPolicy interface {
	Interval(transmitting bool) time.Duration
	ShouldPoll(transmitting bool) bool
}

// AdaptivePolling polls faster while transmitting so the TX meters
// track power and SWR.
type AdaptivePolling struct {
	IdleInterval   time.Duration
	ActiveInterval time.Duration
}

// DefaultPolling returns 500 ms at rest, 100 ms during TX.
func DefaultPolling() AdaptivePolling {
	return AdaptivePolling{
		IdleInterval:   500 * time.Millisecond,
		ActiveInterval: 100 * time.Millisecond,
	}
}

// Interval implements PollingPolicy.
func (p AdaptivePolling) Interval(transmitting bool) time.Duration {
	if transmitting {
		return p.ActiveInterval
	}
	return p.IdleInterval
}

// ShouldPoll implements PollingPolicy.
func (p AdaptivePolling) ShouldPoll(bool) bool { return true }

// FixedPolling polls at a constant interval.
type FixedPolling struct {
	Every time.Duration
}

// Interval implements PollingPolicy.
func (p FixedPolling) Interval(bool) time.Duration { return p.Every }

// ShouldPoll implements PollingPolicy.
func (p FixedPolling) ShouldPoll(bool) bool { return true }

// NoPolling disables automatic polling.
type NoPolling struct{}

// Interval implements PollingPolicy.
func (NoPolling) Interval(bool) time.Duration { return time.Hour * 24 * 365 }

// ShouldPoll implements PollingPolicy.
func (NoPolling) ShouldPoll(bool) bool { return false }
