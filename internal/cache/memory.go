// Package cache implements the engine's bounded, TTL'd memory cache.
// It generalizes the framework's original hand-rolled LRU
// (container/list plus a map, see internal/keymutex for that shape kept
// alive) into a generic, per-entry-expiring structure backed by
// hashicorp/golang-lru's expirable LRU.
//
// All operations are serialized by the wrapper's own mutex, on top of the
// underlying LRU's internal locking; the wrapper also adds the default-TTL
// bookkeeping and the typed miss semantics (a present-but-expired entry is
// a miss).
package cache

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

// Entry is the value stored per key: the domain value plus the bookkeeping
// timestamps a memory cache entry needs to self-expire.
type Entry[V any] struct {
	Value      V
	InsertedAt time.Time
	ExpiresAt  time.Time
}

// Memory is a bounded mapping from string key to Entry[V]. Keys are the
// stable string serialization of a key.Key (see internal/key), not the Key
// value itself, since QueryKey is not Go-map-comparable.
type Memory[V any] struct {
	mu      sync.Mutex
	ttl     time.Duration
	maxSize int
	lru     *lru.LRU[string, Entry[V]]
}

// New returns a Memory cache with the given capacity and default TTL. A
// put always uses defaultTTL; there is no per-entry TTL override, only a
// configured default.
func New[V any](maxSize int, defaultTTL time.Duration) *Memory[V] {
	if maxSize < 1 {
		panic("cache: maxSize must be >= 1")
	}
	return &Memory[V]{
		ttl:     defaultTTL,
		maxSize: maxSize,
		// expirable.LRU's own TTL eviction is disabled (ttl=0 means "no
		// passive expiry"); Get below enforces expiry itself so that an
		// expired-but-not-yet-swept entry reliably misses rather than
		// racing the LRU's background janitor.
		lru: lru.NewLRU[string, Entry[V]](maxSize, nil, 0),
	}
}

// Get returns the value for k if present and unexpired. A present but
// expired entry is evicted and reported as a miss, matching "present and
// now <= expiresAt, else miss."
func (m *Memory[V]) Get(k string, now time.Time) (V, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ent, ok := m.lru.Get(k)
	if !ok {
		var zero V
		return zero, false
	}
	if now.After(ent.ExpiresAt) {
		m.lru.Remove(k)
		var zero V
		return zero, false
	}
	return ent.Value, true
}

// Put inserts or overwrites k. Returns true if this was a new insertion
// (observable by tests, not by consumers).
func (m *Memory[V]) Put(k string, v V, now time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, existed := m.lru.Peek(k)
	m.lru.Add(k, Entry[V]{
		Value:      v,
		InsertedAt: now,
		ExpiresAt:  now.Add(m.ttl),
	})
	return !existed
}

// Invalidate removes k, a no-op if absent.
func (m *Memory[V]) Invalidate(k string) {
	m.mu.Lock()
	m.lru.Remove(k)
	m.mu.Unlock()
}

// InvalidateAll clears every entry.
func (m *Memory[V]) InvalidateAll() {
	m.mu.Lock()
	m.lru.Purge()
	m.mu.Unlock()
}

// InvalidateWhere removes every key for which match returns true. Used by
// invalidateNamespace, which needs to inspect the caller-held key -> Key
// mapping since the cache itself only ever sees string keys.
func (m *Memory[V]) InvalidateWhere(match func(k string) bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range m.lru.Keys() {
		if match(k) {
			m.lru.Remove(k)
		}
	}
}

// Len reports the current entry count, including not-yet-swept expired
// entries (tests only; the maxSize bound is enforced by lru's own cap,
// not by liveness of entries within it).
func (m *Memory[V]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lru.Len()
}
