// Package pagestore implements the bidirectional paging state machine: a
// per-key window of items that can be extended forward (Append) or backward
// (Prepend), independently from the read pipeline in internal/readstore.
// Net is the wire shape one page item arrives as, Domain is what callers
// observe in a Snapshot.
package pagestore

import (
	"context"
	"sync"
	"time"

	"github.com/yanizio/storex/internal/keymutex"
	"github.com/yanizio/storex/internal/singleflight"
)

// Direction discriminates the three load kinds.
type Direction int

const (
	Initial Direction = iota
	Append
	Prepend
)

func (d Direction) String() string {
	switch d {
	case Initial:
		return "initial"
	case Append:
		return "append"
	case Prepend:
		return "prepend"
	default:
		return "unknown"
	}
}

// LoadingState discriminates one direction's own lifecycle within a key's
// state machine.
type LoadingState int

const (
	Idle LoadingState = iota
	Loading
	Loaded
	Error
)

// SourceState is the per-direction lifecycle status carried in a Snapshot.
type SourceState struct {
	State         LoadingState
	Err           error
	CanServeStale bool // true iff stale items remain visible despite Err
}

// Page is one fetched batch of items plus the tokens bounding it.
type Page[Net any] struct {
	Items     []Net
	Next      *string // nil means no further items in the Append direction
	Prev      *string // nil means no further items in the Prepend direction
	UpdatedAt time.Time
}

// Fetcher is the engine's injected network dependency for one page load.
// from is nil for a token-less Initial load, the key's own cursor for an
// automatic Append/Prepend, or a caller-supplied override.
type Fetcher[Net any] interface {
	FetchPage(ctx context.Context, k string, dir Direction, from *string) (Page[Net], error)
}

// ItemConverter maps one wire item onto the domain type a caller observes.
type ItemConverter[Net, Domain any] interface {
	ItemToDomain(net Net) (Domain, error)
}

// Config is the per-key paging configuration; only the first caller to
// establish state for a key has its Config honored (see Store.Stream).
type Config struct {
	MaxSize  int // trims the window to this many items after each integration
	PageSize int // advisory; forwarded to Fetcher via the caller, not enforced here
}

// Snapshot is the immutable view emitted after every structural change to a
// key's paging state.
type Snapshot[Domain any] struct {
	Items           []Domain
	Next            *string
	Prev            *string
	SourceStates    map[Direction]SourceState
	FullyLoadedNext bool
	FullyLoadedPrev bool
}

func (s Snapshot[Domain]) clone() Snapshot[Domain] {
	states := make(map[Direction]SourceState, len(s.SourceStates))
	for d, st := range s.SourceStates {
		states[d] = st
	}
	items := make([]Domain, len(s.Items))
	copy(items, s.Items)
	return Snapshot[Domain]{
		Items:           items,
		Next:            s.Next,
		Prev:            s.Prev,
		SourceStates:    states,
		FullyLoadedNext: s.FullyLoadedNext,
		FullyLoadedPrev: s.FullyLoadedPrev,
	}
}

// EventKind discriminates PagingEvent's two variants.
type EventKind int

const (
	SnapshotEvent EventKind = iota
	BoundaryEvent
)

// PagingEvent is one item observed from Store.Stream.
type PagingEvent[Domain any] struct {
	Kind      EventKind
	Snapshot  Snapshot[Domain]
	Boundary  Direction // set iff Kind == BoundaryEvent: which direction just became fully loaded
}

// Metrics is the narrow observability surface Store calls into.
type Metrics interface {
	PageSize(namespace string, size int)
}

type noopMetrics struct{}

func (noopMetrics) PageSize(string, int) {}

// StoreConfig bundles Store's dependencies.
type StoreConfig[Net, Domain any] struct {
	Fetcher   Fetcher[Net]
	Converter ItemConverter[Net, Domain]
	KeyMutex  *keymutex.Table // shared table, or nil to allocate a private one
	Clock     interface{ Now() time.Time }
	Metrics   Metrics
}

// Store is the paging pipeline orchestrator, one per item type.
type Store[Net, Domain any] struct {
	fetcher  Fetcher[Net]
	conv     ItemConverter[Net, Domain]
	keyMutex *keymutex.Table
	clk      interface{ Now() time.Time }
	metrics  Metrics

	loads *singleflight.Group[Snapshot[Domain]] // keyed by k+"|"+dir, dedupes same-direction loads

	mu     sync.Mutex
	states map[string]*keyState[Domain]
}

func New[Net, Domain any](cfg StoreConfig[Net, Domain]) *Store[Net, Domain] {
	km := cfg.KeyMutex
	if km == nil {
		km = keymutex.New(1024)
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &Store[Net, Domain]{
		fetcher:  cfg.Fetcher,
		conv:     cfg.Converter,
		keyMutex: km,
		clk:      cfg.Clock,
		metrics:  metrics,
		loads:    singleflight.NewGroup[Snapshot[Domain]](),
		states:   make(map[string]*keyState[Domain]),
	}
}

func (s *Store[Net, Domain]) now() time.Time {
	if s.clk == nil {
		return time.Now()
	}
	return s.clk.Now()
}

// namespaceOf extracts the leading namespace segment of k for the page-size
// gauge label, mirroring the separator convention in internal/key.
func namespaceOf(k string) string {
	for i, r := range k {
		if r == '/' || r == '?' {
			return k[:i]
		}
	}
	return k
}
