// guardedfetcher.go adapts any fetcher.Fetcher behind the breaker/timeout/
// retry pipeline in executor.go, so the read pipeline's network calls are
// guarded the same way any other outbound operation is (see httpfetcher's
// own comment, which presumes this package sits above it).
package resilience

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/yanizio/storex/internal/fetcher"
	"github.com/yanizio/storex/internal/storexerr"
)

// GuardedFetcherConfig configures a GuardedFetcher's Execute pipeline.
type GuardedFetcherConfig struct {
	Breaker  *Breaker // nil disables the breaker check
	Timeout  time.Duration
	Backoff  backoff.BackOff
	RetryOn  func(err error) bool
	MaxTries int
}

// GuardedFetcher wraps an inner fetcher.Fetcher so every Fetch call runs
// under a circuit breaker, a per-attempt timeout, and a retry/backoff
// policy, without the inner fetcher needing to know about any of it.
type GuardedFetcher[Net any] struct {
	inner fetcher.Fetcher[Net]
	cfg   GuardedFetcherConfig
}

// NewGuardedFetcher builds a GuardedFetcher around inner.
func NewGuardedFetcher[Net any](inner fetcher.Fetcher[Net], cfg GuardedFetcherConfig) *GuardedFetcher[Net] {
	return &GuardedFetcher[Net]{inner: inner, cfg: cfg}
}

// Fetch satisfies fetcher.Fetcher: it runs the inner fetcher's call through
// Execute and emits exactly one terminal Result, translating circuit-open,
// timeout, and cancellation outcomes into the same storexerr taxonomy a
// direct fetcher failure would carry.
func (g *GuardedFetcher[Net]) Fetch(ctx context.Context, k string, cond *fetcher.Conditional) <-chan fetcher.Result[Net] {
	out := make(chan fetcher.Result[Net], 1)

	go func() {
		defer close(out)

		res := Execute(ctx, Config[fetcher.Result[Net]]{
			Call: func(ctx context.Context) (fetcher.Result[Net], error) {
				return g.awaitInner(ctx, k, cond)
			},
			Breaker:  g.cfg.Breaker,
			Timeout:  g.cfg.Timeout,
			Backoff:  g.cfg.Backoff,
			RetryOn:  g.cfg.RetryOn,
			MaxTries: g.cfg.MaxTries,
		})

		if res.Succeeded() {
			out <- res.Value
			return
		}
		out <- fetcher.Result[Net]{Kind: fetcher.Failure, Err: failureErr(res)}
	}()

	return out
}

// awaitInner drains the inner fetcher's channel for its single terminal
// result, surfacing a Failure Result's Err as execute's retryable error so
// the breaker/retry pipeline can classify it.
func (g *GuardedFetcher[Net]) awaitInner(ctx context.Context, k string, cond *fetcher.Conditional) (fetcher.Result[Net], error) {
	ch := g.inner.Fetch(ctx, k, cond)
	select {
	case r, ok := <-ch:
		if !ok {
			return fetcher.Result[Net]{}, storexerr.New(storexerr.Unknown, "inner fetcher closed without a terminal result")
		}
		if r.Kind == fetcher.Failure {
			return fetcher.Result[Net]{}, r.Err
		}
		return r, nil
	case <-ctx.Done():
		return fetcher.Result[Net]{}, ctx.Err()
	}
}

// failureErr turns an exhausted OperationResult into the error a Failure
// Result carries, mapping the breaker/timeout-specific failure kinds onto
// the engine's own taxonomy so downstream retry/enqueue decisions (see
// mutationstore.isNetworkUnavailable) treat an open breaker the same as any
// other unreachable-network failure.
func failureErr[T any](res OperationResult[T]) error {
	switch res.Failure {
	case FailureCircuitOpen:
		return storexerr.New(storexerr.NetworkNoConnection, "circuit breaker open")
	case FailureTimedOut:
		return storexerr.Wrap(res.Err, storexerr.NetworkTimeout, "operation timed out")
	case FailureCancelled:
		if res.Err != nil {
			return res.Err
		}
		return context.Canceled
	default:
		return res.Err
	}
}
