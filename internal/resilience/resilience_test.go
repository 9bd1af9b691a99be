// internal/resilience/resilience_test.go
//
// Unit-tests for the circuit breaker and the execute() pipeline.

package resilience

import (
	"context"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/yanizio/storex/internal/fetcher"
	"github.com/yanizio/storex/internal/storexerr"
)

func TestBreakerTripsAfterConsecutiveFailures(t *testing.T) {
	b := NewBreaker(BreakerConfig{
		Name:             "t",
		FailureThreshold: 2,
		OpenTTL:          time.Hour,
		ProbeQuota:       1,
	})

	for i := 0; i < 2; i++ {
		ok, finish := b.TryAcquire()
		if !ok {
			t.Fatalf("expected TryAcquire to succeed before the threshold trips")
		}
		finish(false)
	}

	ok, _ := b.TryAcquire()
	if ok {
		t.Fatalf("expected the breaker to be open after reaching FailureThreshold consecutive failures")
	}
	if b.State() != StateOpen {
		t.Fatalf("expected State() = StateOpen, got %v", b.State())
	}
}

func TestBreakerHalfOpenProbeAfterOpenTTL(t *testing.T) {
	b := NewBreaker(BreakerConfig{
		Name:             "t",
		FailureThreshold: 1,
		OpenTTL:          20 * time.Millisecond,
		ProbeQuota:       1,
	})

	ok, finish := b.TryAcquire()
	if !ok {
		t.Fatalf("expected the first call through a closed breaker to be allowed")
	}
	finish(false) // trips the breaker open

	if ok, _ := b.TryAcquire(); ok {
		t.Fatalf("expected the breaker to reject calls immediately after tripping open")
	}

	time.Sleep(40 * time.Millisecond)

	ok, finish = b.TryAcquire()
	if !ok {
		t.Fatalf("expected a probe call to be allowed once OpenTTL has elapsed")
	}
	finish(true)

	if b.State() != StateClosed {
		t.Fatalf("expected a successful probe to close the breaker, got %v", b.State())
	}
}

func TestBreakerEventsPublishesStateChanges(t *testing.T) {
	b := NewBreaker(BreakerConfig{
		Name:             "t",
		FailureThreshold: 1,
		OpenTTL:          time.Hour,
		ProbeQuota:       1,
	})
	events := b.Events()

	ok, finish := b.TryAcquire()
	if !ok {
		t.Fatalf("expected the first call through")
	}
	finish(false)

	select {
	case ev := <-events:
		if ev.To != StateOpen {
			t.Fatalf("expected a transition to StateOpen, got %v", ev.To)
		}
	case <-time.After(time.Second):
		t.Fatalf("expected a state-change event after tripping the breaker")
	}
}

func TestExecuteSucceedsWithoutRetry(t *testing.T) {
	calls := 0
	res := Execute(context.Background(), Config[int]{
		Call: func(ctx context.Context) (int, error) {
			calls++
			return 7, nil
		},
	})
	if !res.Succeeded() || res.Value != 7 {
		t.Fatalf("expected a successful result carrying 7, got %#v", res)
	}
	if calls != 1 {
		t.Fatalf("expected exactly 1 call, got %d", calls)
	}
}

func TestExecuteRetriesUntilSuccess(t *testing.T) {
	calls := 0
	res := Execute(context.Background(), Config[int]{
		Call: func(ctx context.Context) (int, error) {
			calls++
			if calls < 3 {
				return 0, storexerr.New(storexerr.NetworkTimeout, "timed out")
			}
			return 42, nil
		},
		Backoff: backoff.NewConstantBackOff(time.Millisecond),
	})
	if !res.Succeeded() || res.Value != 42 {
		t.Fatalf("expected eventual success carrying 42, got %#v", res)
	}
	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
}

func TestExecuteStopsAtMaxTries(t *testing.T) {
	calls := 0
	res := Execute(context.Background(), Config[int]{
		Call: func(ctx context.Context) (int, error) {
			calls++
			return 0, storexerr.New(storexerr.NetworkTimeout, "timed out")
		},
		Backoff:  backoff.NewConstantBackOff(time.Millisecond),
		MaxTries: 2,
	})
	if res.Succeeded() {
		t.Fatalf("expected failure, got success")
	}
	if calls != 2 {
		t.Fatalf("expected exactly MaxTries=2 attempts, got %d", calls)
	}
	if res.Failure != FailureError {
		t.Fatalf("expected FailureError, got %v", res.Failure)
	}
}

func TestExecuteNonRetryableFailsImmediately(t *testing.T) {
	calls := 0
	res := Execute(context.Background(), Config[int]{
		Call: func(ctx context.Context) (int, error) {
			calls++
			return 0, storexerr.New(storexerr.Validation, "bad input")
		},
		Backoff: backoff.NewConstantBackOff(time.Millisecond),
	})
	if calls != 1 {
		t.Fatalf("expected exactly 1 attempt for a non-retryable error, got %d", calls)
	}
	if res.Failure != FailureError {
		t.Fatalf("expected FailureError, got %v", res.Failure)
	}
}

func TestExecuteTimeout(t *testing.T) {
	res := Execute(context.Background(), Config[int]{
		Call: func(ctx context.Context) (int, error) {
			<-ctx.Done()
			return 0, ctx.Err()
		},
		Timeout: 10 * time.Millisecond,
	})
	if res.Failure != FailureTimedOut {
		t.Fatalf("expected FailureTimedOut, got %v", res.Failure)
	}
}

func TestExecuteCircuitOpenShortCircuitsCall(t *testing.T) {
	b := NewBreaker(BreakerConfig{Name: "t", FailureThreshold: 1, OpenTTL: time.Hour, ProbeQuota: 1})
	ok, finish := b.TryAcquire()
	if !ok {
		t.Fatalf("expected the first call through")
	}
	finish(false) // trips the breaker open

	calls := 0
	res := Execute(context.Background(), Config[int]{
		Call: func(ctx context.Context) (int, error) {
			calls++
			return 1, nil
		},
		Breaker: b,
	})
	if res.Failure != FailureCircuitOpen {
		t.Fatalf("expected FailureCircuitOpen, got %v", res.Failure)
	}
	if calls != 0 {
		t.Fatalf("expected Call to never run while the breaker is open, got %d calls", calls)
	}
}

func TestExecuteCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := Execute(ctx, Config[int]{
		Call: func(ctx context.Context) (int, error) {
			return 0, ctx.Err()
		},
	})
	if res.Failure != FailureCancelled {
		t.Fatalf("expected FailureCancelled, got %v", res.Failure)
	}
}

// fakeFetcher lets tests script a sequence of per-call outcomes for
// GuardedFetcher.
type fakeFetcher struct {
	results []fetcher.Result[string]
	calls   int
}

func (f *fakeFetcher) Fetch(ctx context.Context, k string, cond *fetcher.Conditional) <-chan fetcher.Result[string] {
	out := make(chan fetcher.Result[string], 1)
	idx := f.calls
	if idx >= len(f.results) {
		idx = len(f.results) - 1
	}
	f.calls++
	out <- f.results[idx]
	close(out)
	return out
}

func TestGuardedFetcherRetriesThenSucceeds(t *testing.T) {
	inner := &fakeFetcher{results: []fetcher.Result[string]{
		{Kind: fetcher.Failure, Err: storexerr.New(storexerr.NetworkTimeout, "timed out")},
		{Kind: fetcher.Success, Body: "ok"},
	}}
	g := NewGuardedFetcher[string](inner, GuardedFetcherConfig{
		Backoff: backoff.NewConstantBackOff(time.Millisecond),
	})

	res := <-g.Fetch(context.Background(), "k", nil)
	if res.Kind != fetcher.Success || res.Body != "ok" {
		t.Fatalf("expected an eventual Success result, got %#v", res)
	}
	if inner.calls != 2 {
		t.Fatalf("expected the inner fetcher to be called twice, got %d", inner.calls)
	}
}

func TestGuardedFetcherSurfacesCircuitOpenAsNetworkUnavailable(t *testing.T) {
	b := NewBreaker(BreakerConfig{Name: "t", FailureThreshold: 1, OpenTTL: time.Hour, ProbeQuota: 1})
	ok, finish := b.TryAcquire()
	if !ok {
		t.Fatalf("expected the first call through")
	}
	finish(false)

	inner := &fakeFetcher{results: []fetcher.Result[string]{{Kind: fetcher.Success, Body: "unreachable"}}}
	g := NewGuardedFetcher[string](inner, GuardedFetcherConfig{Breaker: b})

	res := <-g.Fetch(context.Background(), "k", nil)
	if res.Kind != fetcher.Failure {
		t.Fatalf("expected Failure while the breaker is open, got %v", res.Kind)
	}
	if !storexerr.IsKind(res.Err, storexerr.NetworkNoConnection) {
		t.Fatalf("expected a NetworkNoConnection-classified error, got %v", res.Err)
	}
	if inner.calls != 0 {
		t.Fatalf("expected the inner fetcher to never run while the breaker is open")
	}
}
