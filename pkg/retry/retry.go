package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrRetriesExhausted is returned when every allowed retry failed with a retryable error
var ErrRetriesExhausted = errors.New("retries exhausted")

// Decision tells the retrier what to do with an error returned by an operation
type Decision int

const (
	// Fail stops immediately and returns the error
	Fail Decision = iota
	// Retry waits for the backoff delay and runs the operation again
	Retry
	// Resolve stops immediately and treats the error as success
	Resolve
)

func (d Decision) String() string {
	switch d {
	case Retry:
		return "retry"
	case Resolve:
		return "resolve"
	default:
		return "fail"
	}
}

// Classifier maps an operation error to a Decision
type Classifier func(err error) Decision

// Operation is a unit of work run by the retrier
type Operation func(ctx context.Context) error

// SleepFunc waits for d or until ctx is done
type SleepFunc func(ctx context.Context, d time.Duration) error

// Policy holds the retry ceiling and the exponential backoff parameters
type Policy struct {
	MaxRetries int           // Retries after the first attempt
	BaseDelay  time.Duration // Delay before the first retry
	MaxDelay   time.Duration // Upper bound for any single delay
}

// DefaultPolicy returns 3 retries with delays of 2s, 4s, 8s capped at 15s
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries: 3,
		BaseDelay:  2000 * time.Millisecond,
		MaxDelay:   15000 * time.Millisecond,
	}
}

// Backoff returns the delay before retry number attempt (0-based):
// min(BaseDelay * 2^attempt, MaxDelay)
func (p Policy) Backoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	delay := p.BaseDelay
	for i := 0; i < attempt; i++ {
		delay *= 2
		if p.MaxDelay > 0 && delay >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		return p.MaxDelay
	}
	return delay
}

// Outcome describes how a Do call ended
type Outcome struct {
	Attempts int   // Number of times the operation ran
	Resolved error // Error that was classified as Resolve, if any
}

// Option configures a Retrier
type Option func(*Retrier)

// WithSleep replaces the real timer, mostly for tests
func WithSleep(sleep SleepFunc) Option {
	return func(r *Retrier) {
		r.sleep = sleep
	}
}

// WithObserver registers a callback invoked before every backoff wait
func WithObserver(observe func(attempt int, delay time.Duration, err error)) Option {
	return func(r *Retrier) {
		r.observe = observe
	}
}

// Retrier runs operations under a Policy. Attempts are strictly sequential.
type Retrier struct {
	policy  Policy
	sleep   SleepFunc
	observe func(attempt int, delay time.Duration, err error)
}

// New creates a Retrier for the given policy
func New(policy Policy, opts ...Option) *Retrier {
	r := &Retrier{
		policy: policy,
		sleep:  sleepContext,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Policy returns the policy the retrier was built with
func (r *Retrier) Policy() Policy {
	return r.policy
}

// Do runs op until it succeeds, the classifier says Fail or Resolve, or the retry
// ceiling is reached. A nil classifier treats every error as Fail.
func (r *Retrier) Do(ctx context.Context, classify Classifier, op Operation) (Outcome, error) {
	var outcome Outcome

	for retries := 0; ; retries++ {
		outcome.Attempts++
		err := op(ctx)
		if err == nil {
			return outcome, nil
		}

		decision := Fail
		if classify != nil {
			decision = classify(err)
		}

		switch decision {
		case Resolve:
			outcome.Resolved = err
			return outcome, nil
		case Retry:
			if retries >= r.policy.MaxRetries {
				return outcome, fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, outcome.Attempts, err)
			}
			delay := r.policy.Backoff(retries)
			if r.observe != nil {
				r.observe(retries+1, delay, err)
			}
			if sleepErr := r.sleep(ctx, delay); sleepErr != nil {
				return outcome, fmt.Errorf("retry wait interrupted: %w", sleepErr)
			}
		default:
			return outcome, err
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
