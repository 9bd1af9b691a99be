package pagestore

import "context"

// Invalidate resets k's paging state to Idle, dropping its window. Active
// subscribers observe an empty Snapshot; the next Stream or Load call for k
// triggers a fresh Initial load and re-establishes Config from that caller.
func (s *Store[Net, Domain]) Invalidate(k string) {
	s.mu.Lock()
	ks, ok := s.states[k]
	if ok {
		delete(s.states, k)
	}
	s.mu.Unlock()
	if !ok {
		return
	}

	ks.mu.Lock()
	ks.items = nil
	ks.next, ks.prev = nil, nil
	ks.fullyNext, ks.fullyPrev = false, false
	ks.configSet = false
	ks.sourceStates = map[Direction]SourceState{
		Initial: {State: Idle},
		Append:  {State: Idle},
		Prepend: {State: Idle},
	}
	snap := ks.snapshotLocked()
	ks.broadcastLocked(PagingEvent[Domain]{Kind: SnapshotEvent, Snapshot: snap})
	ks.mu.Unlock()
}

// Refresh re-runs the Initial load for k without resetting Config or
// dropping the currently-visible window while the new page is in flight,
// matching the "Any -> refresh -> Loading(Initial) (replaces)" transition.
func (s *Store[Net, Domain]) Refresh(ctx context.Context, k string) (Snapshot[Domain], error) {
	ks := s.stateFor(k)
	ks.mu.Lock()
	cfg := ks.config
	ks.mu.Unlock()
	return s.Load(ctx, k, Initial, nil, cfg)
}
