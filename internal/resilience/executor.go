// executor.go implements the operation executor: a single
// execute() pipeline layering a circuit breaker, a timeout, and a retry
// policy around an arbitrary call. Retry delays are produced by
// cenkalti/backoff/v4.BackOff, promoting what was previously only an
// indirect dependency (pulled in transitively via hashicorp/vault/api) to
// direct, first-class use.
package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/yanizio/storex/internal/storexerr"
)

// FailureKind discriminates OperationResult's failure variants.
type FailureKind int

const (
	FailureNone FailureKind = iota
	FailureCircuitOpen
	FailureTimedOut
	FailureCancelled
	FailureError
)

// OperationResult is execute's outcome: either a Success carrying Value, or
// one of the Failure variants.
type OperationResult[T any] struct {
	Failure      FailureKind
	Value        T
	Err          error
	AttemptCount int
}

// Succeeded reports whether the call produced a value.
func (r OperationResult[T]) Succeeded() bool { return r.Failure == FailureNone }

// Config configures one Execute call.
type Config[T any] struct {
	Call    func(ctx context.Context) (T, error)
	Breaker *Breaker // nil disables the breaker check
	Timeout time.Duration

	// Backoff yields the delay before the next attempt; backoff.Stop (-1)
	// ends retries. A nil Backoff means "never retry" regardless of RetryOn.
	Backoff backoff.BackOff

	// RetryOn decides whether a given failure is worth retrying at all. A
	// nil RetryOn defaults to DefaultRetryPolicy.
	RetryOn func(err error) bool

	// MaxTries bounds the total attempt count; 0 means unbounded (governed
	// solely by Backoff returning Stop).
	MaxTries int
}

// Execute runs cfg.Call under the breaker/timeout/retry pipeline: acquire
// the breaker, run with a timeout, then retry on a retryable failure per
// cfg.Backoff until it returns backoff.Stop or cfg.MaxTries is reached.
func Execute[T any](ctx context.Context, cfg Config[T]) OperationResult[T] {
	retryOn := cfg.RetryOn
	if retryOn == nil {
		retryOn = DefaultRetryPolicy
	}

	attempts := 0
	for {
		attempts++

		var finish func(success bool)
		if cfg.Breaker != nil {
			ok, f := cfg.Breaker.TryAcquire()
			if !ok {
				return OperationResult[T]{Failure: FailureCircuitOpen, AttemptCount: attempts}
			}
			finish = f
		}

		val, err := callWithTimeout(ctx, cfg.Timeout, cfg.Call)

		if err == nil {
			if finish != nil {
				finish(true)
			}
			return OperationResult[T]{Value: val, AttemptCount: attempts}
		}

		// Cancellation always propagates and never counts against the
		// breaker.
		if errors.Is(err, context.Canceled) {
			if finish != nil {
				finish(true)
			}
			return OperationResult[T]{Failure: FailureCancelled, Err: err, AttemptCount: attempts}
		}

		if finish != nil {
			finish(false)
		}

		timedOut := errors.Is(err, context.DeadlineExceeded)

		if cfg.MaxTries > 0 && attempts >= cfg.MaxTries {
			return terminalResult[T](timedOut, err, attempts)
		}
		if !timedOut && !retryOn(err) {
			return terminalResult[T](false, err, attempts)
		}
		if cfg.Backoff == nil {
			return terminalResult[T](timedOut, err, attempts)
		}

		delay := cfg.Backoff.NextBackOff()
		if delay == backoff.Stop {
			return terminalResult[T](timedOut, err, attempts)
		}
		if !sleep(ctx, delay) {
			return OperationResult[T]{Failure: FailureCancelled, AttemptCount: attempts}
		}
	}
}

func terminalResult[T any](timedOut bool, err error, attempts int) OperationResult[T] {
	if timedOut {
		return OperationResult[T]{Failure: FailureTimedOut, Err: err, AttemptCount: attempts}
	}
	return OperationResult[T]{Failure: FailureError, Err: err, AttemptCount: attempts}
}

func callWithTimeout[T any](ctx context.Context, timeout time.Duration, call func(ctx context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return call(ctx)
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return call(cctx)
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// DefaultRetryPolicy retries anything storexerr classifies as retryable.
func DefaultRetryPolicy(err error) bool {
	se := storexerr.From(err)
	return se != nil && se.Retryable()
}
