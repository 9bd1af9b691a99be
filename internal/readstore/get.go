package readstore

import (
	"context"

	"github.com/yanizio/storex/internal/converter"
	"github.com/yanizio/storex/internal/freshness"
	"github.com/yanizio/storex/internal/key"
	"github.com/yanizio/storex/internal/storexerr"
)

// Get is the one-shot counterpart to Stream: it resolves a single value
// for k under policy and returns, rather than handing back a live
// channel. Unlike Stream, Get never waits on the SoT's own re-emission
// after a write — it is the one path where a caller observes a fetch's
// own converted value directly, since there is no ongoing subscription
// for the SoT to re-emit into.
func (s *Store[Db, Net, V]) Get(ctx context.Context, k key.Key, policy freshness.Policy) (V, error) {
	var zero V
	kstr := k.String()

	domain, meta, haveDomain := s.peekSoT(ctx, kstr)
	if !haveDomain {
		if v, ok := s.memory.Get(kstr, s.clk.Now()); ok {
			domain, haveDomain = v, true
		}
	}

	now := s.clk.Now()
	status := s.book.LastStatus(kstr)
	fm := toFreshnessMeta(meta)
	plan := freshness.Validate(now, policy, fm, status)

	if plan.Kind == freshness.Skip {
		if haveDomain {
			return domain, nil
		}
		return zero, storexerr.NotFoundError(kstr)
	}

	cond := planCondition(plan)
	outcome, err := s.runFetch(ctx, kstr, cond)
	if err != nil {
		cls := classify(err)
		if !isCancellationErr(cls) {
			s.book.RecordFailure(kstr, cls, s.clk.Now())
		}
		if policy.Kind == freshness.StaleIfError && haveDomain &&
			withinStaleWindow(s.clk.Now(), s.staleIfErrorWindow, fm, s.book.LastStatus(kstr)) {
			return domain, nil
		}
		return zero, cls
	}

	if outcome.modified {
		return outcome.value, nil
	}
	// NotModified: the SoT row observed above is still current.
	if haveDomain {
		return domain, nil
	}
	return zero, nil
}

// peekSoT takes a single snapshot of the SoT's current row for k without
// holding a long-lived subscription open: it opens a Reader under a
// scope canceled as soon as the first event (or ctx's own cancellation)
// arrives.
func (s *Store[Db, Net, V]) peekSoT(ctx context.Context, kstr string) (domain V, meta *converter.Meta, ok bool) {
	peekCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	rows, err := s.sotStore.Reader(peekCtx, kstr)
	if err != nil {
		var zero V
		return zero, nil, false
	}

	select {
	case row, chOk := <-rows:
		if !chOk || row.Absent {
			var zero V
			return zero, nil, false
		}
		d, m, projected := s.projectRow(kstr, row)
		if !projected {
			var zero V
			return zero, nil, false
		}
		return d, m, true
	case <-ctx.Done():
		var zero V
		return zero, nil, false
	}
}
