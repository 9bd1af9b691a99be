package readstore

import (
	"context"

	"github.com/yanizio/storex/internal/key"
	"github.com/yanizio/storex/internal/storexerr"
)

// Invalidate drops k from the memory cache and deletes its row from the
// source of truth, so a subsequent Get/Stream observes a genuine miss and
// refetches rather than re-reading a still-present, still-fresh SoT row.
// Bookkeeper state for k (last success/failure, etag, backoff) is left
// untouched; it describes the fetch history, not the cached value.
func (s *Store[Db, Net, V]) Invalidate(ctx context.Context, k key.Key) error {
	s.memory.Invalidate(k.String())
	if err := s.sotStore.Delete(ctx, k.String()); err != nil {
		return storexerr.Wrap(err, storexerr.PersistenceDeleteError, "delete invalidated key from source of truth")
	}
	return nil
}

// InvalidateNamespace drops every memory-cached key currently tracked
// under ns from any active subscription's key index, plus any entry the
// cache itself still holds whose serialized form starts with that
// namespace — covering keys with no active subscriber.
func (s *Store[Db, Net, V]) InvalidateNamespace(ns key.Namespace) {
	s.memory.InvalidateWhere(func(k string) bool {
		return inNamespace(k, ns)
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	for kstr, k := range s.keyIndex {
		if k.Namespace() == ns {
			s.memory.Invalidate(kstr)
		}
	}
}

// inNamespace reports whether kstr's serialized form belongs to ns,
// matching either key.Key shape's separator (IDKey's "/", QueryKey's "?").
func inNamespace(kstr string, ns key.Namespace) bool {
	prefix := string(ns)
	if !hasPrefix(kstr, prefix) {
		return false
	}
	rest := kstr[len(prefix):]
	return hasPrefix(rest, "/") || hasPrefix(rest, "?")
}

// InvalidateAll drops every memory-cached entry, regardless of namespace.
func (s *Store[Db, Net, V]) InvalidateAll() {
	s.memory.InvalidateAll()
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}
