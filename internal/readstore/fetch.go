package readstore

import (
	"context"

	"github.com/google/uuid"

	"github.com/yanizio/storex/internal/fetcher"
	"github.com/yanizio/storex/internal/storexerr"
)

// runFetch serializes kstr's fetch under the key mutex and collapses
// concurrent callers via single-flight: two concurrent subscribers for k
// share one in-flight fetch.
func (s *Store[Db, Net, V]) runFetch(ctx context.Context, kstr string, cond *fetcher.Conditional) (fetchOutcome[V], error) {
	return s.sflight.Do(ctx, kstr, func() (fetchOutcome[V], error) {
		var (
			outcome fetchOutcome[V]
			err     error
		)
		s.keyMutex.WithLock(kstr, func() {
			outcome, err = s.doFetch(ctx, kstr, cond)
		})
		return outcome, err
	})
}

// doFetch performs the actual fetcher call and applies its terminal
// result. It is only ever invoked once per in-flight fingerprint, by
// single-flight's construction.
func (s *Store[Db, Net, V]) doFetch(ctx context.Context, kstr string, cond *fetcher.Conditional) (fetchOutcome[V], error) {
	s.metrics.FetchStarted()

	fetchID := uuid.NewString()
	s.log.Debugw("fetch started", "fetch_id", fetchID, "key", kstr, "conditional", cond != nil)

	resultsCh := s.fetch.Fetch(ctx, kstr, cond)

	var res fetcher.Result[Net]
	select {
	case r, ok := <-resultsCh:
		if !ok {
			s.metrics.FetchFailed()
			return fetchOutcome[V]{}, storexerr.New(storexerr.Unknown, "fetcher closed without a terminal result")
		}
		res = r
	case <-ctx.Done():
		return fetchOutcome[V]{}, ctx.Err()
	}

	switch res.Kind {
	case fetcher.Success:
		return s.applySuccess(ctx, kstr, res)
	case fetcher.NotModified:
		s.book.RecordSuccess(kstr, res.Etag, s.clk.Now())
		s.metrics.FetchNotModified()
		return fetchOutcome[V]{}, nil
	default:
		s.metrics.FetchFailed()
		if res.Err != nil {
			return fetchOutcome[V]{}, res.Err
		}
		return fetchOutcome[V]{}, storexerr.New(storexerr.Unknown, "fetcher returned an unrecognized result kind")
	}
}

// applySuccess runs the write-back sequence for a successful fetch:
// convert, write-through to the SoT, populate memory, record success. SoT
// writes never occur on NotModified — this path is only reached for
// fetcher.Success.
func (s *Store[Db, Net, V]) applySuccess(ctx context.Context, kstr string, res fetcher.Result[Net]) (fetchOutcome[V], error) {
	now := s.clk.Now()

	dbWrite, err := s.conv.NetToDbWrite(kstr, res.Body)
	if err != nil {
		s.metrics.FetchFailed()
		return fetchOutcome[V]{}, storexerr.Wrap(err, storexerr.Serialization, "convert fetched body to db row")
	}

	if err := s.sotStore.Write(ctx, kstr, dbWrite); err != nil {
		s.metrics.FetchFailed()
		return fetchOutcome[V]{}, storexerr.Wrap(err, storexerr.PersistenceWriteError, "write through to source of truth")
	}
	s.metrics.SoTWrite()

	domainVal, err := s.conv.DbReadToDomain(kstr, dbWrite)
	if err != nil {
		s.metrics.FetchFailed()
		return fetchOutcome[V]{}, storexerr.Wrap(err, storexerr.Serialization, "convert db row to domain value")
	}

	s.memory.Put(kstr, domainVal, now)
	s.book.RecordSuccess(kstr, res.Etag, now)
	s.metrics.FetchSucceeded()

	return fetchOutcome[V]{modified: true, value: domainVal}, nil
}
