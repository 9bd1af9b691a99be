// Command storexdemo boots a minimal process that wires the engine's
// reference adapters together and exposes Prometheus metrics, for use as a
// smoke-test harness and a worked example of Config/New for each store.
//
// Startup sequence:
//  1. Load .env / conf/global.yaml / STOREX_-prefixed env overrides via
//     internal/config.
//  2. Install a production zap logger as the global logger.
//  3. Build an in-memory SourceOfTruth, an httpfetcher pointed at
//     cfg.HTTPFetcher.BaseURL wrapped in a resilience.GuardedFetcher, and
//     the JSON reference converter.
//  4. Construct readstore.Store, mutationstore.Store, and pagestore.Store
//     sharing one keymutex.Table across all three.
//  5. Serve /metrics, a /widgets/{id} single-item demo endpoint, and a
//     /widgets listing endpoint backed by pagestore on :8080.
package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/yanizio/storex/internal/clock"
	"github.com/yanizio/storex/internal/config"
	"github.com/yanizio/storex/internal/converter"
	"github.com/yanizio/storex/internal/fetcher/httpfetcher"
	"github.com/yanizio/storex/internal/freshness"
	"github.com/yanizio/storex/internal/key"
	"github.com/yanizio/storex/internal/keymutex"
	"github.com/yanizio/storex/internal/metrics"
	"github.com/yanizio/storex/internal/mutationstore"
	"github.com/yanizio/storex/internal/pagestore"
	"github.com/yanizio/storex/internal/readstore"
	"github.com/yanizio/storex/internal/resilience"
	"github.com/yanizio/storex/internal/sot/memstore"
)

// widget is the demo domain type: callers of readstore.Get/Stream observe
// this, mutationstore.Mutate accepts *widget bodies, and the JSON converter
// persists it as-is in the SoT.
type widget struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load: %v", err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("zap init: %v", err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)
	sugar := logger.Sugar()

	/// Wire the read pipeline: in-memory SoT, a breaker/retry-guarded HTTP
	/// fetcher, and the JSON reference converter.

	sot := memstore.New[converter.JSONRow]()
	conv := converter.NewJSON[widget]()

	rawFetch := httpfetcher.New[widget](nil, func(k string) string {
		return cfg.HTTPFetcher.BaseURL + "/widgets/" + k
	}, func(body []byte) (widget, error) {
		var w widget
		err := json.Unmarshal(body, &w)
		return w, err
	}, nil)

	breaker := resilience.NewBreaker(resilience.BreakerConfig{
		Name:             "widget-fetch",
		FailureThreshold: cfg.Breaker.ConsecutiveFailures,
		OpenTTL:          cfg.Breaker.Timeout,
		ProbeQuota:       cfg.Breaker.MaxRequests,
	})

	retryBackoff := backoff.NewExponentialBackOff()
	retryBackoff.InitialInterval = cfg.Retry.InitialInterval
	retryBackoff.MaxInterval = cfg.Retry.MaxInterval
	retryBackoff.MaxElapsedTime = cfg.Retry.MaxElapsedTime

	fetch := resilience.NewGuardedFetcher[widget](rawFetch, resilience.GuardedFetcherConfig{
		Breaker:  breaker,
		Timeout:  cfg.Retry.CallTimeout,
		Backoff:  retryBackoff,
		MaxTries: cfg.Retry.MaxTries,
	})

	sharedMutex := keymutex.New(cfg.KeyMutex.MaxSize)

	reads := readstore.New(readstore.Config[converter.JSONRow, widget, widget]{
		MemoryMaxSize:      cfg.Cache.MaxSize,
		MemoryTTL:          cfg.Cache.DefaultTTL,
		KeyMutex:           sharedMutex,
		StaleIfErrorWindow: cfg.Freshness.StaleIfErrorWindow,
		SoT:                sot,
		Fetcher:            fetch,
		Converter:          conv,
		Clock:              clock.System{},
		Logger:             sugar,
		Metrics:            metrics.ReadStoreCollector{},
	})
	defer reads.Close()

	mutations := mutationstore.New(mutationstore.Config[converter.JSONRow, widget, widget]{
		KeyMutex:  sharedMutex,
		SoT:       sot,
		Mutator:   demoMutator{fetch: rawFetch},
		Converter: conv,
		Metrics:   metrics.MutationStoreCollector{},
		Logger:    sugar,
	})

	pages := pagestore.New(pagestore.StoreConfig[widget, widget]{
		Fetcher:   widgetListFetcher{},
		Converter: identityItemConverter{},
		KeyMutex:  sharedMutex,
		Clock:     clock.System{},
		Metrics:   metrics.PageStoreCollector{},
	})

	/// Serve metrics and the demo endpoints.

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/widgets/", func(w http.ResponseWriter, r *http.Request) {
		id := r.URL.Path[len("/widgets/"):]
		k := key.NewIDKey("widgets", "widget", id)

		switch r.Method {
		case http.MethodGet:
			v, err := reads.Get(r.Context(), k, freshness.Policy{Kind: freshness.CachedOrFetch, CacheTTL: cfg.Cache.DefaultTTL})
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadGateway)
				return
			}
			json.NewEncoder(w).Encode(v)

		case http.MethodPut:
			var body widget
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			result := mutations.Mutate(r.Context(), k.String(), mutationstore.Update, &body, mutationstore.Policy{Optimistic: true})
			if result.Err != nil {
				http.Error(w, result.Err.Error(), http.StatusBadGateway)
				return
			}
			json.NewEncoder(w).Encode(result.Value)

		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})

	mux.HandleFunc("/widgets", func(w http.ResponseWriter, r *http.Request) {
		listKey := key.NewQueryKey("widgets", map[string]string{"view": "list"}).String()
		snap, err := pages.Load(r.Context(), listKey, pagestore.Initial, nil, pagestore.Config{MaxSize: 100, PageSize: 10})
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		json.NewEncoder(w).Encode(snap.Items)
	})

	addr := ":8080"
	sugar.Infow("storexdemo listening", "addr", addr, "base_url", cfg.HTTPFetcher.BaseURL)
	if err := http.ListenAndServe(addr, mux); err != nil {
		sugar.Fatalw("http server", "err", err)
	}
}

// demoMutator stands in for a write client against the reference HTTP
// backend. Dispatch makes no network call: it echoes the body back with
// Count incremented after a short simulated delay (a zero widget for a nil
// body). The fetch field is not used by Dispatch.
type demoMutator struct {
	fetch *httpfetcher.Fetcher[widget]
}

func (m demoMutator) Dispatch(ctx context.Context, k string, op mutationstore.OpKind, body *widget) (widget, error) {
	if body == nil {
		return widget{}, nil
	}
	// A full implementation issues the PUT/POST/DELETE over HTTP here; the
	// demo echoes the body back unchanged with an updated Count so the
	// wiring is exercisable without a real backend.
	echoed := *body
	echoed.Count++
	time.Sleep(10 * time.Millisecond) // simulate network latency
	return echoed, nil
}

// widgetListFetcher is a demo pagestore.Fetcher backed by an in-process
// sequence rather than a real paginated backend, so /widgets is
// exercisable without a live upstream. Pages are 10 items wide, keyed by a
// decimal offset token.
type widgetListFetcher struct{}

func (widgetListFetcher) FetchPage(ctx context.Context, k string, dir pagestore.Direction, from *string) (pagestore.Page[widget], error) {
	offset := 0
	if from != nil {
		n, err := strconv.Atoi(*from)
		if err == nil {
			offset = n
		}
	}

	const pageSize = 10
	const total = 47 // demo dataset size

	items := make([]widget, 0, pageSize)
	for i := offset; i < offset+pageSize && i < total; i++ {
		items = append(items, widget{ID: strconv.Itoa(i), Name: "widget " + strconv.Itoa(i)})
	}

	var next *string
	if offset+pageSize < total {
		n := strconv.Itoa(offset + pageSize)
		next = &n
	}

	return pagestore.Page[widget]{Items: items, Next: next, UpdatedAt: time.Now()}, nil
}

// identityItemConverter is the demo's pagestore.ItemConverter: the wire
// item and the domain item are the same widget type.
type identityItemConverter struct{}

func (identityItemConverter) ItemToDomain(net widget) (widget, error) { return net, nil }
