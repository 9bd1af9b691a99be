// Package bookkeeper is the per-key fetch-status ledger: the
// most recent success and failure timestamps, the last validator etag, and
// any backoff deadline. It is the single writer of backoff and is a pure
// in-memory store unless a journal is attached (see Journal).
package bookkeeper

import (
	"sync"
	"time"

	"github.com/yanizio/storex/internal/storexerr"
)

// Status is the bookkeeper's per-key record.
type Status struct {
	LastSuccessAt *time.Time
	LastFailureAt *time.Time
	LastEtag      *string
	BackoffUntil  *time.Time
}

// InBackoff reports whether now is still within the recorded backoff
// window. A nil BackoffUntil means "no backoff in effect."
func (s Status) InBackoff(now time.Time) bool {
	return s.BackoffUntil != nil && s.BackoffUntil.After(now)
}

// Bookkeeper is a concurrency-safe map from string key to Status.
type Bookkeeper struct {
	mu       sync.Mutex
	statuses map[string]Status
	journal  Journal
}

// Journal is the optional persistence hook for bookkeeper state. A nil
// Journal (the default) means bookkeeping resets across restarts, which
// is an acceptable tradeoff: durability here is an optimization, not a
// correctness requirement.
type Journal interface {
	Record(key string, s Status) error
}

// New returns an empty Bookkeeper. Pass a non-nil Journal to persist every
// recorded transition.
func New(journal Journal) *Bookkeeper {
	return &Bookkeeper{
		statuses: make(map[string]Status),
		journal:  journal,
	}
}

// RecordSuccess sets lastSuccessAt and overwrites lastEtag (a nil etag is
// an intentional overwrite: it means the server provided no validator this
// time). Failure time is left untouched.
func (b *Bookkeeper) RecordSuccess(k string, etag *string, at time.Time) {
	b.mu.Lock()
	s := b.statuses[k]
	t := at
	s.LastSuccessAt = &t
	s.LastEtag = etag
	b.statuses[k] = s
	b.mu.Unlock()

	b.persist(k, s)
}

// RecordFailure sets lastFailureAt, leaving success time and etag
// untouched. If err is retryable and carries a server-suggested delay
// (storexerr.Error.RetryAfter on a RateLimited error), backoffUntil is set
// to at+RetryAfter; otherwise any existing backoff is left as-is.
func (b *Bookkeeper) RecordFailure(k string, err error, at time.Time) {
	b.mu.Lock()
	s := b.statuses[k]
	t := at
	s.LastFailureAt = &t

	if se := storexerr.From(err); se != nil && se.Kind == storexerr.RateLimited && se.RetryAfter > 0 {
		until := at.Add(se.RetryAfter)
		s.BackoffUntil = &until
	}
	b.statuses[k] = s
	b.mu.Unlock()

	b.persist(k, s)
}

// SetBackoffUntil explicitly sets (or clears, with a zero time) the backoff
// deadline for k, for retry policies that compute their own delay rather
// than relying on a server-supplied RetryAfter.
func (b *Bookkeeper) SetBackoffUntil(k string, until time.Time) {
	b.mu.Lock()
	s := b.statuses[k]
	if until.IsZero() {
		s.BackoffUntil = nil
	} else {
		t := until
		s.BackoffUntil = &t
	}
	b.statuses[k] = s
	b.mu.Unlock()

	b.persist(k, s)
}

// LastStatus returns the status for k, or the zero Status for an unseen key
// ("missing keys return all-null status").
func (b *Bookkeeper) LastStatus(k string) Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.statuses[k]
}

func (b *Bookkeeper) persist(k string, s Status) {
	if b.journal == nil {
		return
	}
	_ = b.journal.Record(k, s) // best-effort: a journal write failure never blocks the read path
}
