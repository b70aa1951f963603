package retry

import (
	"context"
	"errors"
	"time"

	"github.com/halo-iot/halo-go/pkg/backoff"
	"github.com/halo-iot/halo-go/pkg/halolog"
)

// Operation is the unit of work being retried.
type Operation func(ctx context.Context) error

// ReadyFunc reports whether the operation is currently actionable.
// A nil ReadyFunc means always ready.
type ReadyFunc func() bool

// Executor retries operations under a backoff policy.
// Executor is safe for concurrent use; each Run call keeps its own
// attempt state.
type Executor struct {
	policy *backoff.Policy
	logger halolog.Logger
}

// NewExecutor creates an executor using the given policy.
// A nil logger disables logging.
func NewExecutor(policy *backoff.Policy, logger halolog.Logger) *Executor {
	if logger == nil {
		logger = halolog.NoopLogger{}
	}
	return &Executor{
		policy: policy,
		logger: logger,
	}
}

// Run invokes op until it succeeds, the policy gives up, or ctx is
// cancelled. The name labels log entries only.
//
// While isReady reports false the operation is skipped: the iteration
// still sleeps one policy delay but does not advance the attempt counter
// and is not treated as a failure.
//
// Returns nil on success, ctx.Err() on cancellation, and otherwise the
// last failure once the policy refuses further retries.
func (e *Executor) Run(ctx context.Context, name string, op Operation, isReady ReadyFunc) error {
	attempt := 0
	var lastErr error

	for {
		if err := ctx.Err(); err != nil {
			e.log(name, attempt, "cancelled", 0, lastErr)
			return err
		}

		if isReady != nil && !isReady() {
			e.log(name, attempt, "skipped", 0, nil)

			// Not actionable. Wait without consuming the attempt
			// budget; the failure that made us not-ready is being
			// handled elsewhere.
			retryAfter, delay := e.policy.ShouldRetry(attempt, nil)
			if !retryAfter {
				return lastErr
			}
			if err := sleep(ctx, delay); err != nil {
				return err
			}
			continue
		}

		err := op(ctx)
		if err == nil {
			e.log(name, attempt, "success", 0, nil)
			return nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			e.log(name, attempt, "cancelled", 0, err)
			return err
		}
		lastErr = err

		retryAfter, delay := e.policy.ShouldRetry(attempt, lastErr)
		if !retryAfter {
			e.log(name, attempt, "give-up", 0, lastErr)
			return lastErr
		}

		e.log(name, attempt, "retry", delay, lastErr)
		if err := sleep(ctx, delay); err != nil {
			return err
		}
		attempt++
	}
}

// sleep waits for d or until ctx is cancelled.
// An interrupted sleep returns ctx.Err(), never an application error.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (e *Executor) log(name string, attempt int, outcome string, delay time.Duration, failure error) {
	event := halolog.NewEvent(halolog.CategoryRetry)
	event.Retry = &halolog.RetryEvent{
		Operation: name,
		Attempt:   attempt,
		Delay:     delay,
		Outcome:   outcome,
	}
	if failure != nil {
		event.Retry.Failure = failure.Error()
	}
	if outcome == "give-up" {
		event.Severity = halolog.SeverityWarn
	}
	e.logger.Log(event)
}
