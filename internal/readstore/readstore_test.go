// internal/readstore/readstore_test.go
//
// Unit-tests for the read pipeline: cold miss, conditional 304, MustBeFresh
// failure, StaleIfError, concurrent single-flight collapse, and the
// invalidate-then-refetch round trip.

package readstore

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/yanizio/storex/internal/clock"
	"github.com/yanizio/storex/internal/converter"
	"github.com/yanizio/storex/internal/fetcher"
	"github.com/yanizio/storex/internal/freshness"
	"github.com/yanizio/storex/internal/key"
	"github.com/yanizio/storex/internal/sot/memstore"
	"github.com/yanizio/storex/internal/storexerr"
)

type widget struct {
	ID   string
	Name string
}

// widgetConverter stores widgets as the JSONRow wire shape reused by
// fetcher results (widget itself, since tests need no separate net shape).
// It stamps UpdatedAt from the same fake clock the store under test runs
// on, so freshness comparisons against a manually-advanced clock are
// meaningful rather than racing the real wall clock.
type widgetConverter struct {
	clk *clock.Fake
}

func (c widgetConverter) NetToDbWrite(k string, net widget) (converter.JSONRow, error) {
	return converter.JSONRow{Payload: marshal(net), UpdatedAt: c.clk.Now()}, nil
}

func (widgetConverter) DbReadToDomain(k string, db converter.JSONRow) (widget, error) {
	return unmarshal(db.Payload), nil
}

func (widgetConverter) DbMetaFromProjection(db converter.JSONRow) (*converter.Meta, bool) {
	if db.UpdatedAt.IsZero() {
		return nil, false
	}
	return &converter.Meta{UpdatedAt: db.UpdatedAt, Etag: db.Etag}, true
}

// marshal/unmarshal avoid pulling encoding/json into the test just to
// round-trip a two-field struct through JSONRow's byte payload.
func marshal(w widget) []byte { return []byte(w.ID + "|" + w.Name) }
func unmarshal(b []byte) widget {
	s := string(b)
	for i, c := range s {
		if c == '|' {
			return widget{ID: s[:i], Name: s[i+1:]}
		}
	}
	return widget{}
}

// fakeFetcher lets tests script fetch outcomes and counts invocations.
type fakeFetcher struct {
	mu      sync.Mutex
	results []fetcher.Result[widget]
	calls   int32
	delay   time.Duration
}

func (f *fakeFetcher) Fetch(ctx context.Context, k string, cond *fetcher.Conditional) <-chan fetcher.Result[widget] {
	out := make(chan fetcher.Result[widget], 1)
	n := atomic.AddInt32(&f.calls, 1)

	go func() {
		if f.delay > 0 {
			select {
			case <-time.After(f.delay):
			case <-ctx.Done():
				out <- fetcher.Result[widget]{Kind: fetcher.Failure, Err: ctx.Err()}
				close(out)
				return
			}
		}
		f.mu.Lock()
		idx := int(n) - 1
		if idx >= len(f.results) {
			idx = len(f.results) - 1
		}
		res := f.results[idx]
		f.mu.Unlock()
		out <- res
		close(out)
	}()

	return out
}

func (f *fakeFetcher) callCount() int {
	return int(atomic.LoadInt32(&f.calls))
}

func newTestStore(fetch fetcher.Fetcher[widget], fake *clock.Fake, staleWindow time.Duration) (*Store[converter.JSONRow, widget, widget], *memstore.Store[converter.JSONRow]) {
	s := memstore.New[converter.JSONRow]()
	store := New(Config[converter.JSONRow, widget, widget]{
		MemoryMaxSize:      100,
		MemoryTTL:          time.Minute,
		StaleIfErrorWindow: staleWindow,
		SoT:                s,
		Fetcher:            fetch,
		Converter:          widgetConverter{clk: fake},
		Clock:              fake,
		Logger:             zap.NewNop().Sugar(),
	})
	return store, s
}

func TestGetColdMissFetchesAndWritesBack(t *testing.T) {
	fk := clock.NewFake(time.Unix(1000, 0))
	fetch := &fakeFetcher{results: []fetcher.Result[widget]{
		{Kind: fetcher.Success, Body: widget{ID: "1", Name: "gadget"}},
	}}
	store, _ := newTestStore(fetch, fk, time.Minute)
	defer store.Close()

	k := key.NewIDKey("widgets", "widget", "1")
	v, err := store.Get(context.Background(), k, freshness.Policy{Kind: freshness.CachedOrFetch, CacheTTL: time.Minute})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.Name != "gadget" {
		t.Fatalf("expected the fetched value to be written back and returned, got %+v", v)
	}
	if fetch.callCount() != 1 {
		t.Fatalf("expected exactly one fetch on a cold miss, got %d", fetch.callCount())
	}
}

func TestGetNotModifiedReturnsExistingSoTValueWithoutRewriting(t *testing.T) {
	fk := clock.NewFake(time.Unix(1000, 0))
	fetch := &fakeFetcher{results: []fetcher.Result[widget]{
		{Kind: fetcher.Success, Body: widget{ID: "1", Name: "gadget"}},
	}}
	store, sotStore := newTestStore(fetch, fk, time.Minute)
	defer store.Close()

	k := key.NewIDKey("widgets", "widget", "1")
	policy := freshness.Policy{Kind: freshness.CachedOrFetch, CacheTTL: time.Minute}

	if _, err := store.Get(context.Background(), k, policy); err != nil {
		t.Fatalf("initial get: %v", err)
	}

	fk.Advance(2 * time.Minute) // past TTL so the next Get issues a conditional fetch
	fetch.mu.Lock()
	fetch.results = append(fetch.results, fetcher.Result[widget]{Kind: fetcher.NotModified})
	fetch.mu.Unlock()

	v, err := store.Get(context.Background(), k, policy)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.Name != "gadget" {
		t.Fatalf("expected the still-current SoT value on NotModified, got %+v", v)
	}

	rows, err := sotStore.Reader(context.Background(), k.String())
	if err != nil {
		t.Fatalf("reader: %v", err)
	}
	row := <-rows
	if row.Absent {
		t.Fatalf("expected the SoT row to remain present after a 304")
	}
	if !row.Value.UpdatedAt.Equal(time.Unix(1000, 0)) {
		t.Fatalf("expected the 304 to leave the SoT row unwritten, but its UpdatedAt moved to %v", row.Value.UpdatedAt)
	}
}

func TestGetMustBeFreshFailurePropagatesError(t *testing.T) {
	fk := clock.NewFake(time.Unix(1000, 0))
	fetch := &fakeFetcher{results: []fetcher.Result[widget]{
		{Kind: fetcher.Failure, Err: storexerr.New(storexerr.NetworkTimeout, "boom")},
	}}
	store, _ := newTestStore(fetch, fk, time.Minute)
	defer store.Close()

	k := key.NewIDKey("widgets", "widget", "1")
	_, err := store.Get(context.Background(), k, freshness.Policy{Kind: freshness.MustBeFresh})
	if err == nil {
		t.Fatalf("expected MustBeFresh to propagate the fetch failure")
	}
}

func TestGetStaleIfErrorServesCachedWithinWindow(t *testing.T) {
	fk := clock.NewFake(time.Unix(1000, 0))
	fetch := &fakeFetcher{results: []fetcher.Result[widget]{
		{Kind: fetcher.Success, Body: widget{ID: "1", Name: "gadget"}},
	}}
	store, _ := newTestStore(fetch, fk, 10*time.Minute)
	defer store.Close()

	k := key.NewIDKey("widgets", "widget", "1")
	if _, err := store.Get(context.Background(), k, freshness.Policy{Kind: freshness.CachedOrFetch, CacheTTL: time.Minute}); err != nil {
		t.Fatalf("seed get: %v", err)
	}

	fk.Advance(5 * time.Minute) // within the 10-minute stale window
	fetch.mu.Lock()
	fetch.results = append(fetch.results, fetcher.Result[widget]{Kind: fetcher.Failure, Err: storexerr.New(storexerr.NetworkTimeout, "down")})
	fetch.mu.Unlock()

	v, err := store.Get(context.Background(), k, freshness.Policy{Kind: freshness.StaleIfError})
	if err != nil {
		t.Fatalf("expected StaleIfError to serve the cached value within the window, got error: %v", err)
	}
	if v.Name != "gadget" {
		t.Fatalf("expected the stale cached value, got %+v", v)
	}
}

func TestGetStaleIfErrorFailsOutsideWindow(t *testing.T) {
	fk := clock.NewFake(time.Unix(1000, 0))
	fetch := &fakeFetcher{results: []fetcher.Result[widget]{
		{Kind: fetcher.Success, Body: widget{ID: "1", Name: "gadget"}},
	}}
	store, _ := newTestStore(fetch, fk, time.Minute) // a 1-minute stale window, not 10
	defer store.Close()

	k := key.NewIDKey("widgets", "widget", "1")
	if _, err := store.Get(context.Background(), k, freshness.Policy{Kind: freshness.CachedOrFetch, CacheTTL: time.Minute}); err != nil {
		t.Fatalf("seed get: %v", err)
	}

	fk.Advance(5 * time.Minute) // past the configured 1-minute stale window
	fetch.mu.Lock()
	fetch.results = append(fetch.results, fetcher.Result[widget]{Kind: fetcher.Failure, Err: storexerr.New(storexerr.NetworkTimeout, "down")})
	fetch.mu.Unlock()

	_, err := store.Get(context.Background(), k, freshness.Policy{Kind: freshness.StaleIfError})
	if err == nil {
		t.Fatalf("expected StaleIfError to fail once outside its configured window, not reuse CacheTTL as the window")
	}
}

func TestConcurrentSubscribersCollapseIntoOneFetch(t *testing.T) {
	fk := clock.NewFake(time.Unix(1000, 0))
	fetch := &fakeFetcher{
		results: []fetcher.Result[widget]{{Kind: fetcher.Success, Body: widget{ID: "1", Name: "gadget"}}},
		delay:   50 * time.Millisecond,
	}
	store, _ := newTestStore(fetch, fk, time.Minute)
	defer store.Close()

	k := key.NewIDKey("widgets", "widget", "1")
	policy := freshness.Policy{Kind: freshness.MustBeFresh}

	const n = 10
	var wg sync.WaitGroup
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	results := make([]<-chan StoreResult[widget], n)
	for i := 0; i < n; i++ {
		results[i] = store.Stream(ctx, k, policy)
	}

	var successes int64
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(ch <-chan StoreResult[widget]) {
			defer wg.Done()
			for ev := range ch {
				if ev.Kind == KindData {
					atomic.AddInt64(&successes, 1)
					return
				}
				if ev.Kind == KindError {
					return
				}
			}
		}(results[i])
	}
	wg.Wait()

	if successes != n {
		t.Fatalf("expected all %d subscribers to observe the fetched value, got %d", n, successes)
	}
	if fetch.callCount() != 1 {
		t.Fatalf("expected ten concurrent subscribers to collapse into 1 fetch via single-flight, got %d", fetch.callCount())
	}
}

func TestInvalidateThenGetRefetchesFromOrigin(t *testing.T) {
	fk := clock.NewFake(time.Unix(1000, 0))
	fetch := &fakeFetcher{results: []fetcher.Result[widget]{
		{Kind: fetcher.Success, Body: widget{ID: "1", Name: "v1"}},
	}}
	store, sotStore := newTestStore(fetch, fk, time.Minute)
	defer store.Close()

	k := key.NewIDKey("widgets", "widget", "1")
	policy := freshness.Policy{Kind: freshness.CachedOrFetch, CacheTTL: time.Hour}

	v, err := store.Get(context.Background(), k, policy)
	if err != nil {
		t.Fatalf("seed get: %v", err)
	}
	if v.Name != "v1" {
		t.Fatalf("expected v1, got %+v", v)
	}

	if err := store.Invalidate(context.Background(), k); err != nil {
		t.Fatalf("invalidate: %v", err)
	}

	rows, err := sotStore.Reader(context.Background(), k.String())
	if err != nil {
		t.Fatalf("reader: %v", err)
	}
	if row := <-rows; !row.Absent {
		t.Fatalf("expected Invalidate to delete the row from the source of truth, still present: %+v", row.Value)
	}

	fetch.mu.Lock()
	fetch.results = append(fetch.results, fetcher.Result[widget]{Kind: fetcher.Success, Body: widget{ID: "1", Name: "v2"}})
	fetch.mu.Unlock()

	// Even with a one-hour CacheTTL, invalidation must force a genuine
	// refetch rather than silently reusing the (now-deleted) SoT row: the
	// round-trip law is invalidate(k) -> get(k, CachedOrFetch) ==
	// fetch + write-back + Data(origin=SoT).
	v2, err := store.Get(context.Background(), k, policy)
	if err != nil {
		t.Fatalf("post-invalidate get: %v", err)
	}
	if v2.Name != "v2" {
		t.Fatalf("expected the post-invalidate get to refetch and observe v2, got %+v", v2)
	}
	if fetch.callCount() != 2 {
		t.Fatalf("expected exactly 2 fetches total (seed + post-invalidate), got %d", fetch.callCount())
	}
}
