// Package poller awaits results that GitHub computes asynchronously.
package poller

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// DefaultInterval is the delay between polls of a pending result.
const DefaultInterval = 500 * time.Millisecond

// Poll outcomes reported to an Observer.
const (
	OutcomePending = "pending"
	OutcomeReady   = "ready"
	OutcomeError   = "error"
)

// ErrAttemptsExhausted is returned when a result is still pending after Policy.MaxAttempts polls.
var ErrAttemptsExhausted = errors.New("result still pending after max attempts")

// Result is either pending or ready with a value. The zero Result is pending.
type Result[T any] struct {
	ready bool
	value T
}

// Pending returns a result whose computation has not finished.
func Pending[T any]() Result[T] {
	return Result[T]{}
}

// Ready returns a finished result.
func Ready[T any](value T) Result[T] {
	return Result[T]{ready: true, value: value}
}

// IsPending reports whether the computation is still running.
func (r Result[T]) IsPending() bool {
	return !r.ready
}

// Value returns the value and true when the result is ready.
func (r Result[T]) Value() (T, bool) {
	return r.value, r.ready
}

// PollFunc performs one read of an asynchronously computed resource.
type PollFunc[T any] func(ctx context.Context) (Result[T], error)

// Observer receives the outcome of every poll.
type Observer interface {
	ObservePoll(outcome string)
}

// Policy controls how Await re-polls.
type Policy struct {
	Interval time.Duration
	// MaxAttempts bounds the number of polls. Zero means unbounded.
	MaxAttempts int
	// Wait blocks for d or until ctx ends. Defaults to a timer-based sleep.
	Wait     func(ctx context.Context, d time.Duration) error
	Observer Observer
}

// Await polls until the result is ready and returns its value. Pending results are never
// returned; the loop ends early on a poll error, cancellation or exhausted attempts.
func Await[T any](ctx context.Context, policy Policy, poll PollFunc[T]) (T, error) {
	var zero T
	if poll == nil {
		return zero, fmt.Errorf("poll is required")
	}
	interval := policy.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	wait := policy.Wait
	if wait == nil {
		wait = SleepContext
	}

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		result, err := poll(ctx)
		if err != nil {
			observe(policy.Observer, OutcomeError)
			return zero, err
		}
		if value, ok := result.Value(); ok {
			observe(policy.Observer, OutcomeReady)
			return value, nil
		}
		observe(policy.Observer, OutcomePending)

		if policy.MaxAttempts > 0 && attempt >= policy.MaxAttempts {
			return zero, fmt.Errorf("%w (%d)", ErrAttemptsExhausted, attempt)
		}
		if err := wait(ctx, interval); err != nil {
			return zero, err
		}
	}
}

// Once performs a single poll and returns whichever state it observed.
func Once[T any](ctx context.Context, policy Policy, poll PollFunc[T]) (Result[T], error) {
	if poll == nil {
		return Result[T]{}, fmt.Errorf("poll is required")
	}
	result, err := poll(ctx)
	switch {
	case err != nil:
		observe(policy.Observer, OutcomeError)
	case result.IsPending():
		observe(policy.Observer, OutcomePending)
	default:
		observe(policy.Observer, OutcomeReady)
	}
	return result, err
}

// SleepContext waits for d, returning early with the context error when ctx ends.
func SleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func observe(observer Observer, outcome string) {
	if observer != nil {
		observer.ObservePoll(outcome)
	}
}
