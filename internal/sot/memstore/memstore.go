// Package memstore is an in-memory SourceOfTruth, used by tests and by
// callers who want the engine's read/write/paginate guarantees without a
// real durable backend. Writes are serialized by a single mutex; readers
// are broadcast-subscribed channels fed from that same critical section,
// matching the "reader must re-emit after any committed write" contract.
package memstore

import (
	"context"
	"sync"

	"github.com/yanizio/storex/internal/sot"
)

type subscriber[Db any] struct {
	ch chan sot.Row[Db]
}

// Store is a concurrency-safe, non-durable SourceOfTruth[Db].
type Store[Db any] struct {
	mu   sync.Mutex
	rows map[string]Db
	has  map[string]bool
	subs map[string][]*subscriber[Db]
}

// New returns an empty Store.
func New[Db any]() *Store[Db] {
	return &Store[Db]{
		rows: make(map[string]Db),
		has:  make(map[string]bool),
		subs: make(map[string][]*subscriber[Db]),
	}
}

// Reader subscribes to k, immediately emitting the current row (present or
// absent) and then every subsequent committed write/delete until ctx is
// canceled.
func (s *Store[Db]) Reader(ctx context.Context, k string) (<-chan sot.Row[Db], error) {
	out := make(chan sot.Row[Db], 4)
	sub := &subscriber[Db]{ch: out}

	s.mu.Lock()
	s.subs[k] = append(s.subs[k], sub)
	cur := s.currentLocked(k)
	s.mu.Unlock()

	out <- cur

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		defer s.mu.Unlock()
		subs := s.subs[k]
		for i, sb := range subs {
			if sb == sub {
				s.subs[k] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		close(out)
	}()

	return out, nil
}

func (s *Store[Db]) currentLocked(k string) sot.Row[Db] {
	if v, ok := s.rows[k]; ok && s.has[k] {
		return sot.Row[Db]{Value: v}
	}
	return sot.Row[Db]{Absent: true}
}

// Write atomically stores dbValue for k and notifies subscribers.
func (s *Store[Db]) Write(ctx context.Context, k string, dbValue Db) error {
	s.mu.Lock()
	s.rows[k] = dbValue
	s.has[k] = true
	row := sot.Row[Db]{Value: dbValue}
	subs := append([]*subscriber[Db]{}, s.subs[k]...)
	s.mu.Unlock()

	notify(subs, row)
	return nil
}

// Delete atomically removes k and notifies subscribers of its absence.
func (s *Store[Db]) Delete(ctx context.Context, k string) error {
	s.mu.Lock()
	delete(s.rows, k)
	delete(s.has, k)
	subs := append([]*subscriber[Db]{}, s.subs[k]...)
	s.mu.Unlock()

	notify(subs, sot.Row[Db]{Absent: true})
	return nil
}

// WithTransaction runs fn directly and takes no lock of its own (fn's
// Write/Delete calls on this Store take the store's mutex themselves). Each
// write fn performs is atomic on its own, but other writers may interleave
// between them, and the writes are not applied as one unit.
func (s *Store[Db]) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// Rekey moves the row (and its reconciled value, if any) from oldKey to
// newKey. If oldKey had no row, reconcile is not called and newKey is left
// as it was.
func (s *Store[Db]) Rekey(ctx context.Context, oldKey, newKey string, reconcile func(old Db) Db) error {
	s.mu.Lock()
	old, had := s.rows[oldKey]
	delete(s.rows, oldKey)
	delete(s.has, oldKey)
	oldSubs := append([]*subscriber[Db]{}, s.subs[oldKey]...)

	var newVal Db
	if had {
		newVal = reconcile(old)
		s.rows[newKey] = newVal
		s.has[newKey] = true
	}
	newSubs := append([]*subscriber[Db]{}, s.subs[newKey]...)
	s.mu.Unlock()

	notify(oldSubs, sot.Row[Db]{Absent: true})
	if had {
		notify(newSubs, sot.Row[Db]{Value: newVal})
	}
	return nil
}

func notify[Db any](subs []*subscriber[Db], row sot.Row[Db]) {
	for _, sb := range subs {
		select {
		case sb.ch <- row:
		default:
			// Slow subscriber: rather than block the writer, drop the
			// oldest buffered row to make room, so the key's newest state
			// is still delivered.
			select {
			case <-sb.ch:
			default:
			}
			select {
			case sb.ch <- row:
			default:
			}
		}
	}
}
