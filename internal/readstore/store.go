package readstore

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/yanizio/storex/internal/bookkeeper"
	"github.com/yanizio/storex/internal/cache"
	"github.com/yanizio/storex/internal/converter"
	"github.com/yanizio/storex/internal/fetcher"
	"github.com/yanizio/storex/internal/key"
	"github.com/yanizio/storex/internal/keymutex"
	"github.com/yanizio/storex/internal/singleflight"
	"github.com/yanizio/storex/internal/sot"
	"github.com/yanizio/storex/internal/storexerr"
)

// fetchOutcome is the single-flight payload: either a converted domain
// value (on Success) or nothing at all (on NotModified — bookkeeping-only,
// never surfaced as a Data event) or an error (on Failure).
type fetchOutcome[V any] struct {
	modified bool
	value    V
}

// Store is the read pipeline orchestrator. Db is the SoT's
// persisted row shape, Net is the fetcher's wire shape, V is the domain
// type callers observe.
type Store[Db, Net, V any] struct {
	memory   *cache.Memory[V]
	keyMutex *keymutex.Table
	sflight  *singleflight.Group[fetchOutcome[V]]
	book     *bookkeeper.Bookkeeper
	sotStore sot.SourceOfTruth[Db]
	fetch    fetcher.Fetcher[Net]
	conv     converter.Converter[Net, Db, V]
	clk      Clock
	log      *zap.SugaredLogger
	metrics  Metrics

	cacheTTL           time.Duration
	staleIfErrorWindow time.Duration

	mu       sync.Mutex
	keyIndex map[string]key.Key // string repr -> original Key, for namespace invalidation

	ctx    context.Context
	cancel context.CancelFunc
}

// Clock is the narrow time source the store depends on (see internal/clock
// for System/Fake implementations).
type Clock interface {
	Now() time.Time
}

// Metrics is the narrow set of observability hooks the store calls; a nil
// Config.Metrics is replaced by a no-op implementation. See
// internal/metrics for a Prometheus-backed implementation.
type Metrics interface {
	CacheHit()
	CacheMiss()
	FetchStarted()
	FetchSucceeded()
	FetchFailed()
	FetchNotModified()
	SoTWrite()
}

// Config bundles Store's dependencies.
type Config[Db, Net, V any] struct {
	MemoryMaxSize      int
	MemoryTTL          time.Duration
	KeyMutexMaxSize    int             // ignored when KeyMutex is set
	KeyMutex           *keymutex.Table // shared with mutationstore/pagestore when non-nil, else a private table sized to KeyMutexMaxSize
	StaleIfErrorWindow time.Duration

	SoT       sot.SourceOfTruth[Db]
	Fetcher   fetcher.Fetcher[Net]
	Converter converter.Converter[Net, Db, V]
	Clock     Clock
	Logger    *zap.SugaredLogger
	Metrics   Metrics
}

// New builds a Store and its background scope. Close cancels that scope.
func New[Db, Net, V any](cfg Config[Db, Net, V]) *Store[Db, Net, V] {
	if cfg.Clock == nil {
		panic("readstore: Clock is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = noopMetrics{}
	}

	km := cfg.KeyMutex
	if km == nil {
		km = keymutex.New(cfg.KeyMutexMaxSize)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Store[Db, Net, V]{
		memory:             cache.New[V](cfg.MemoryMaxSize, cfg.MemoryTTL),
		keyMutex:           km,
		sflight:            singleflight.NewGroup[fetchOutcome[V]](),
		book:               bookkeeper.New(nil),
		sotStore:           cfg.SoT,
		fetch:              cfg.Fetcher,
		conv:               cfg.Converter,
		clk:                cfg.Clock,
		log:                logger,
		metrics:            metrics,
		cacheTTL:           cfg.MemoryTTL,
		staleIfErrorWindow: cfg.StaleIfErrorWindow,
		keyIndex:           make(map[string]key.Key),
		ctx:                ctx,
		cancel:             cancel,
	}
}

// Close cancels the store's background scope. No entity outlives the
// engine after this returns; in-flight subscriber goroutines observe
// ctx.Done() and terminate.
func (s *Store[Db, Net, V]) Close() {
	s.cancel()
}

func (s *Store[Db, Net, V]) rememberKey(k key.Key) {
	s.mu.Lock()
	s.keyIndex[k.String()] = k
	s.mu.Unlock()
}

func (s *Store[Db, Net, V]) forgetKey(k string) {
	s.mu.Lock()
	delete(s.keyIndex, k)
	s.mu.Unlock()
}

type noopMetrics struct{}

func (noopMetrics) CacheHit()         {}
func (noopMetrics) CacheMiss()        {}
func (noopMetrics) FetchStarted()     {}
func (noopMetrics) FetchSucceeded()   {}
func (noopMetrics) FetchFailed()      {}
func (noopMetrics) FetchNotModified() {}
func (noopMetrics) SoTWrite()         {}

// classify turns an arbitrary error into the taxonomy, propagating
// cancellation untouched rather than classifying it.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if storexerr.IsCancellation(err) {
		return err
	}
	return storexerr.From(err)
}
