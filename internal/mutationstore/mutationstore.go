// Package mutationstore implements the CRUD mutation pipeline: optimistic
// local apply, a dispatched network operation, and rollback on failure.
// Db is the SoT's persisted row shape, Net is the wire shape the mutator
// exchanges with the network, Domain is what callers pass in and observe.
package mutationstore

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/yanizio/storex/internal/converter"
	"github.com/yanizio/storex/internal/keymutex"
	"github.com/yanizio/storex/internal/sot"
	"github.com/yanizio/storex/internal/storexerr"
)

// OpKind discriminates the five mutation operations.
type OpKind int

const (
	Create OpKind = iota
	Update
	Delete
	Upsert
	Replace
)

// Policy is the per-call tolerance the caller declares.
type Policy struct {
	// Optimistic, if true, applies the change to the SoT immediately and
	// rolls back to the captured pre-state on failure. If false, the SoT
	// is only written after the network operation succeeds.
	Optimistic bool

	// AllowEnqueue lets a network-unavailable mutation be queued for later
	// retry instead of failing outright, returning OutcomeEnqueued.
	AllowEnqueue bool
}

// Outcome discriminates Result's success variants.
type Outcome int

const (
	OutcomeCommitted Outcome = iota
	OutcomeEnqueued
	OutcomeRolledBack
)

// Result is Mutate's terminal report.
type Result[Domain any] struct {
	Outcome Outcome
	Value   Domain
	Err     error
}

// Mutator is the engine's injected network dependency for mutation calls,
// separate from fetcher.Fetcher since a mutation exchanges a caller-shaped
// body rather than consuming one. It accepts the caller's own Domain value
// directly, since marshaling a mutation body onto the wire is the
// mutator's concern, not the read-path Converter's.
type Mutator[Domain, Net any] interface {
	// Dispatch performs op for k with body (nil for Delete) and returns the
	// server's echoed representation on success.
	Dispatch(ctx context.Context, k string, op OpKind, body *Domain) (Net, error)
}

// Queue is the optional enqueue target for AllowEnqueue mutations whose
// network dispatch could not be attempted (the engine does not schedule
// retries itself; a caller-supplied Queue owns that policy).
type Queue[Domain any] interface {
	Enqueue(ctx context.Context, k string, op OpKind, body *Domain) error
}

// Store is the mutation pipeline orchestrator.
type Store[Db, Net, Domain any] struct {
	keyMutex *keymutex.Table
	sotStore sot.SourceOfTruth[Db]
	mutator  Mutator[Domain, Net]
	queue    Queue[Domain] // nil disables enqueue fallback
	conv     converter.Converter[Net, Db, Domain]
	metrics  Metrics
	log      *zap.SugaredLogger
}

// Metrics is the narrow observability surface Store calls into.
type Metrics interface {
	MutationCommitted(op OpKind)
	MutationEnqueued(op OpKind)
	MutationRolledBack(op OpKind)
	MutationFailed(op OpKind)
}

type noopMetrics struct{}

func (noopMetrics) MutationCommitted(OpKind)  {}
func (noopMetrics) MutationEnqueued(OpKind)   {}
func (noopMetrics) MutationRolledBack(OpKind) {}
func (noopMetrics) MutationFailed(OpKind)     {}

// Config bundles Store's dependencies.
type Config[Db, Net, Domain any] struct {
	KeyMutex  *keymutex.Table // shared with readstore when non-nil, else a private table
	SoT       sot.SourceOfTruth[Db]
	Mutator   Mutator[Domain, Net]
	Queue     Queue[Domain]
	Converter converter.Converter[Net, Db, Domain]
	Metrics   Metrics
	Logger    *zap.SugaredLogger
}

// New builds a Store. A nil cfg.KeyMutex allocates a private table sized
// to 1024 entries; pass the readstore's own table to share per-key
// serialization across reads and mutations for the same keyspace.
func New[Db, Net, Domain any](cfg Config[Db, Net, Domain]) *Store[Db, Net, Domain] {
	km := cfg.KeyMutex
	if km == nil {
		km = keymutex.New(1024)
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = noopMetrics{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Store[Db, Net, Domain]{
		keyMutex: km,
		sotStore: cfg.SoT,
		mutator:  cfg.Mutator,
		queue:    cfg.Queue,
		conv:     cfg.Converter,
		metrics:  metrics,
		log:      logger,
	}
}

// Mutate runs op for k under the per-key mutex: capture pre-state, apply
// optimistically (if policy.Optimistic), dispatch the network operation,
// and either echo the server's value into the SoT or roll back to the
// captured pre-state. Cancellation of ctx does not abort an
// already-committed optimistic write: the rollback path only runs when
// Dispatch itself returns an error, never as a side effect of the caller
// detaching early.
func (s *Store[Db, Net, Domain]) Mutate(ctx context.Context, k string, op OpKind, body *Domain, policy Policy) Result[Domain] {
	var result Result[Domain]
	s.keyMutex.WithLock(k, func() {
		result = s.mutateLocked(ctx, k, op, body, policy)
	})
	return result
}

func (s *Store[Db, Net, Domain]) mutateLocked(ctx context.Context, k string, op OpKind, body *Domain, policy Policy) Result[Domain] {
	opID := uuid.NewString()
	s.log.Debugw("mutation started", "op_id", opID, "key", k, "optimistic", policy.Optimistic)

	pre, preAbsent, err := s.currentRow(ctx, k)
	if err != nil {
		s.metrics.MutationFailed(op)
		return Result[Domain]{Err: err}
	}

	if policy.Optimistic && (body != nil || op == Delete) {
		var optimistic Domain
		if body != nil {
			optimistic = *body
		}
		if err := s.applyOptimisticWrite(ctx, k, op, optimistic); err != nil {
			s.metrics.MutationFailed(op)
			return Result[Domain]{Err: err}
		}
	}

	echoed, err := s.mutator.Dispatch(ctx, k, op, body)
	if err != nil {
		if policy.AllowEnqueue && s.queue != nil && isNetworkUnavailable(err) {
			if qerr := s.queue.Enqueue(ctx, k, op, body); qerr == nil {
				s.metrics.MutationEnqueued(op)
				return Result[Domain]{Outcome: OutcomeEnqueued}
			}
		}

		if policy.Optimistic && !storexerr.IsCancellation(err) {
			s.rollback(ctx, k, pre, preAbsent)
			s.metrics.MutationRolledBack(op)
			return Result[Domain]{Outcome: OutcomeRolledBack, Err: err}
		}
		s.metrics.MutationFailed(op)
		return Result[Domain]{Err: err}
	}

	if op == Delete {
		if err := s.sotStore.Delete(ctx, k); err != nil {
			s.metrics.MutationFailed(op)
			return Result[Domain]{Err: storexerr.Wrap(err, storexerr.PersistenceDeleteError, "delete from source of truth")}
		}
		s.metrics.MutationCommitted(op)
		return Result[Domain]{Outcome: OutcomeCommitted}
	}

	dbEchoed, err := s.conv.NetToDbWrite(k, echoed)
	if err != nil {
		s.metrics.MutationFailed(op)
		return Result[Domain]{Err: storexerr.Wrap(err, storexerr.Serialization, "convert echoed response to db row")}
	}
	if err := s.sotStore.Write(ctx, k, dbEchoed); err != nil {
		s.metrics.MutationFailed(op)
		return Result[Domain]{Err: storexerr.Wrap(err, storexerr.PersistenceWriteError, "write echoed value to source of truth")}
	}

	domainVal, err := s.conv.DbReadToDomain(k, dbEchoed)
	if err != nil {
		s.metrics.MutationFailed(op)
		return Result[Domain]{Err: storexerr.Wrap(err, storexerr.Serialization, "convert echoed db row to domain value")}
	}

	s.metrics.MutationCommitted(op)
	return Result[Domain]{Outcome: OutcomeCommitted, Value: domainVal}
}

func (s *Store[Db, Net, Domain]) currentRow(ctx context.Context, k string) (row Db, absent bool, err error) {
	rows, rerr := s.sotStore.Reader(ctx, k)
	if rerr != nil {
		return row, false, storexerr.Wrap(rerr, storexerr.PersistenceReadError, "open sot reader for pre-state capture")
	}
	select {
	case r, ok := <-rows:
		if !ok {
			return row, true, nil
		}
		return r.Value, r.Absent, nil
	case <-ctx.Done():
		return row, false, ctx.Err()
	}
}

// applyOptimisticWrite writes body to the SoT ahead of the network call, or
// deletes k for a Delete. The body goes through the converter's NetToDbWrite
// as-is, so the Domain value must also be a Net (as with converter.JSON,
// whose Net and Domain are the same type); otherwise a Configuration error
// is returned and nothing is written.
func (s *Store[Db, Net, Domain]) applyOptimisticWrite(ctx context.Context, k string, op OpKind, body Domain) error {
	if op == Delete {
		if err := s.sotStore.Delete(ctx, k); err != nil {
			return storexerr.Wrap(err, storexerr.PersistenceDeleteError, "apply optimistic delete")
		}
		return nil
	}

	netBody, ok := any(body).(Net)
	if !ok {
		return storexerr.ConfigurationError("mutationstore: optimistic apply requires the Domain value to be usable as the converter's Net type")
	}
	dbVal, err := s.conv.NetToDbWrite(k, netBody)
	if err != nil {
		return storexerr.Wrap(err, storexerr.Serialization, "convert mutation body to db row")
	}
	if err := s.sotStore.Write(ctx, k, dbVal); err != nil {
		return storexerr.Wrap(err, storexerr.PersistenceWriteError, "apply optimistic write")
	}
	return nil
}

// rollback restores k to its pre-mutation state via a single transactional
// write (or delete, if it was absent beforehand).
func (s *Store[Db, Net, Domain]) rollback(ctx context.Context, k string, pre Db, preAbsent bool) {
	_ = s.sotStore.WithTransaction(ctx, func(ctx context.Context) error {
		if preAbsent {
			return s.sotStore.Delete(ctx, k)
		}
		return s.sotStore.Write(ctx, k, pre)
	})
}

func isNetworkUnavailable(err error) bool {
	se := storexerr.From(err)
	if se == nil {
		return false
	}
	switch se.Kind {
	case storexerr.NetworkNoConnection, storexerr.NetworkDNSError, storexerr.NetworkTimeout:
		return true
	default:
		return false
	}
}
