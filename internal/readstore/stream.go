package readstore

import (
	"context"
	"time"

	"github.com/yanizio/storex/internal/bookkeeper"
	"github.com/yanizio/storex/internal/converter"
	"github.com/yanizio/storex/internal/fetcher"
	"github.com/yanizio/storex/internal/freshness"
	"github.com/yanizio/storex/internal/key"
	"github.com/yanizio/storex/internal/sot"
)

// Stream is the per-subscriber read pipeline: it fans memory cache, SoT,
// and conditional fetch into one observable channel for k. The returned
// channel is closed when ctx is canceled, the store is Close()d, or (only
// under MustBeFresh) the fetch fails outright.
func (s *Store[Db, Net, V]) Stream(ctx context.Context, k key.Key, policy freshness.Policy) <-chan StoreResult[V] {
	out := make(chan StoreResult[V], 8)
	subCtx, subCancel := context.WithCancel(ctx)
	stopOnClose := context.AfterFunc(s.ctx, subCancel)

	go func() {
		defer close(out)
		defer subCancel()
		defer stopOnClose()
		s.runStream(subCtx, k, policy, out)
	}()

	return out
}

func (s *Store[Db, Net, V]) runStream(ctx context.Context, k key.Key, policy freshness.Policy, out chan<- StoreResult[V]) {
	kstr := k.String()
	s.rememberKey(k)
	defer s.forgetKey(kstr)

	emittedData := false
	if v, ok := s.memory.Get(kstr, s.clk.Now()); ok {
		s.metrics.CacheHit()
		if !send(ctx, out, dataResult[V](v, OriginMemory, 0)) {
			return
		}
		emittedData = true
	} else {
		s.metrics.CacheMiss()
		if !send(ctx, out, loadingResult[V](false)) {
			return
		}
	}

	rows, err := s.sotStore.Reader(ctx, kstr)
	if err != nil {
		send(ctx, out, errorResult[V](classify(err), false))
		return
	}

	var (
		lastDomain   V
		haveDomain   bool
		lastMeta     *converter.Meta
		planResolved bool
	)

	for {
		select {
		case <-ctx.Done():
			return

		case row, ok := <-rows:
			if !ok {
				return
			}

			if !row.Absent {
				if domainVal, meta, ok2 := s.projectRow(kstr, row); ok2 {
					lastDomain, haveDomain = domainVal, true
					lastMeta = meta
					if !send(ctx, out, dataResult[V](domainVal, OriginSoT, ageOf(s.clk.Now(), meta))) {
						return
					}
					emittedData = true
				}
			}

			if !planResolved {
				planResolved = true
				if s.resolveAndRunFetch(ctx, kstr, policy, lastMeta, haveDomain, lastDomain, emittedData, out) {
					return // MustBeFresh's blocking failure terminates the whole stream
				}
			}
		}
	}
}

// projectRow converts a present SoT row into its domain value and
// freshness metadata, per the converter contract.
func (s *Store[Db, Net, V]) projectRow(kstr string, row sot.Row[Db]) (V, *converter.Meta, bool) {
	domainVal, err := s.conv.DbReadToDomain(kstr, row.Value)
	if err != nil {
		s.log.Warnw("storex: failed to project sot row to domain", "key", kstr, "error", err)
		var zero V
		return zero, nil, false
	}
	meta, _ := s.conv.DbMetaFromProjection(row.Value)
	return domainVal, meta, true
}

// resolveAndRunFetch computes the fetch plan from the first observed SoT
// state and, if it calls for network work, runs it. It reports true iff
// the whole stream must terminate (MustBeFresh's blocking failure case).
func (s *Store[Db, Net, V]) resolveAndRunFetch(
	ctx context.Context,
	kstr string,
	policy freshness.Policy,
	meta *converter.Meta,
	haveDomain bool,
	domain V,
	emittedData bool,
	out chan<- StoreResult[V],
) bool {
	now := s.clk.Now()
	status := s.book.LastStatus(kstr)
	fm := toFreshnessMeta(meta)

	plan := freshness.Validate(now, policy, fm, status)
	if plan.Kind == freshness.Skip {
		return false
	}
	cond := planCondition(plan)

	if policy.Kind == freshness.MustBeFresh {
		_, err := s.runFetch(ctx, kstr, cond)
		if err != nil {
			cls := classify(err)
			if !isCancellationErr(cls) {
				s.book.RecordFailure(kstr, cls, s.clk.Now())
			}
			send(ctx, out, errorResult[V](cls, false))
			return true
		}
		return false
	}

	// CachedOrFetch / MinAge / StaleIfError: run as a child of the
	// subscriber's own scope, so canceling the subscription cancels the
	// fetch, but a failure here never ends the stream — later SoT updates
	// still arrive.
	go func() {
		_, err := s.runFetch(ctx, kstr, cond)
		if err == nil {
			// Success surfaces through the SoT's own re-emission
			// (origin=SoT); NotModified writes nothing, so there is nothing
			// new to emit. No direct origin=Network event is ever produced
			// by Stream.
			return
		}
		cls := classify(err)
		if isCancellationErr(cls) {
			return
		}
		s.book.RecordFailure(kstr, cls, s.clk.Now())

		if policy.Kind == freshness.StaleIfError && haveDomain &&
			withinStaleWindow(s.clk.Now(), s.staleIfErrorWindow, fm, s.book.LastStatus(kstr)) {
			if !emittedData {
				send(ctx, out, dataResult[V](domain, OriginSoT, ageOf(s.clk.Now(), meta)))
			}
			send(ctx, out, errorResult[V](cls, true))
			return
		}
		send(ctx, out, errorResult[V](cls, false))
	}()

	return false
}

func toFreshnessMeta(m *converter.Meta) *freshness.Meta {
	if m == nil {
		return nil
	}
	return &freshness.Meta{UpdatedAt: m.UpdatedAt, Etag: m.Etag}
}

func planCondition(plan freshness.Plan) *fetcher.Conditional {
	if plan.Kind != freshness.Conditional {
		return nil
	}
	return &fetcher.Conditional{Etag: plan.Etag, LastModified: plan.LastModified}
}

// withinStaleWindow decides whether a StaleIfError failure may still serve
// the cached value, measured against window — the engine's own configured
// stale-if-error tolerance (Config.StaleIfErrorWindow), independent of
// whatever CacheTTL the caller's policy happens to carry. Per the engine's
// documented resolution of "what is the clock StaleIfError measures
// staleness against when the SoT carries no UpdatedAt at all": prefer
// sotMeta.UpdatedAt; fall back to the bookkeeper's lastSuccessAt when
// sotMeta is absent; default to false (not within window, so the caller
// sees a bare error) when neither exists, since there is no evidence the
// key was ever successfully populated.
func withinStaleWindow(now time.Time, window time.Duration, sotMeta *freshness.Meta, status bookkeeper.Status) bool {
	var basis time.Time
	switch {
	case sotMeta != nil && !sotMeta.UpdatedAt.IsZero():
		basis = sotMeta.UpdatedAt
	case status.LastSuccessAt != nil:
		basis = *status.LastSuccessAt
	default:
		return false
	}
	return now.Sub(basis) <= window
}

func ageOf(now time.Time, meta *converter.Meta) time.Duration {
	if meta == nil || meta.UpdatedAt.IsZero() {
		return 0
	}
	if d := now.Sub(meta.UpdatedAt); d > 0 {
		return d
	}
	return 0
}

func send[V any](ctx context.Context, out chan<- StoreResult[V], r StoreResult[V]) bool {
	select {
	case out <- r:
		return true
	case <-ctx.Done():
		return false
	}
}

func isCancellationErr(err error) bool {
	return err == context.Canceled
}
