package pagestore

import (
	"context"
	"time"

	"github.com/yanizio/storex/internal/freshness"
)

// Stream subscribes to k's paging state, replaying the current Snapshot
// immediately and then every subsequent structural change until ctx is
// done. The first subscriber for a key establishes cfg; any subscriber
// that finds the key's Initial direction still Idle triggers an automatic
// Initial load;
// subsequent subscribers for the same key observe whatever state is
// already established and cfg is ignored for them ("first caller wins").
func (s *Store[Net, Domain]) Stream(ctx context.Context, k string, cfg Config, policy freshness.Policy) <-chan PagingEvent[Domain] {
	out := make(chan PagingEvent[Domain], 8)
	ks := s.stateFor(k)

	ks.mu.Lock()
	if !ks.configSet {
		ks.config = cfg
		ks.configSet = true
	}
	sub := ks.subscribeLocked()
	initial := PagingEvent[Domain]{Kind: SnapshotEvent, Snapshot: ks.snapshotLocked()}
	needsInitial := ks.sourceStates[Initial].State == Idle
	lastUpdate := ks.updatedAt
	hasItems := len(ks.items) > 0
	ks.mu.Unlock()

	out <- initial

	go func() {
		defer close(out)
		for {
			select {
			case ev, ok := <-sub:
				if !ok {
					return
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	switch {
	case needsInitial:
		go func() { _, _ = s.Load(detach(ctx), k, Initial, nil, ks.config) }()
	case s.shouldAutoRefresh(policy, lastUpdate, hasItems):
		go func() { _, _ = s.Load(detach(ctx), k, Initial, nil, ks.config) }()
	}

	go func() {
		<-ctx.Done()
		ks.unsubscribe(sub)
	}()

	return out
}

// shouldAutoRefresh applies the freshness policy to an already-loaded key
// on (re)subscription. MustBeFresh always triggers; CachedOrFetch and
// MinAge trigger only once the existing data is outside its tolerance;
// StaleIfError never triggers on its own (it only changes error-path
// behavior, handled in Load's error branch via CanServeStale).
func (s *Store[Net, Domain]) shouldAutoRefresh(policy freshness.Policy, lastUpdate time.Time, hasItems bool) bool {
	if !hasItems {
		return false
	}
	now := s.now()
	switch policy.Kind {
	case freshness.MustBeFresh:
		return true
	case freshness.CachedOrFetch:
		return now.Sub(lastUpdate) > policy.CacheTTL
	case freshness.MinAge:
		return now.Sub(lastUpdate) > policy.MinAgeDuration
	default:
		return false
	}
}

// detach returns a context that inherits ctx's deadline-free cancellation
// semantics for background refreshes that must outlive the subscriber's
// own Stream call: a CachedOrFetch refresh replaces Initial state for
// every subscriber, not just the one whose resubscribe triggered it, so it
// must not be tied to that one subscriber's ctx.
func detach(ctx context.Context) context.Context {
	return context.WithoutCancel(ctx)
}
