package pagestore

import (
	"context"
)

// Load runs one page fetch for k in direction dir and integrates its
// result into the key's window. Concurrent Load calls for the same (k, dir)
// collapse onto the in-flight call via the singleflight group; loads in
// different directions for the same k are not collapsed, but each runs
// under k's per-key mutex, so they take turns rather than overlap.
func (s *Store[Net, Domain]) Load(ctx context.Context, k string, dir Direction, from *string, cfg Config) (Snapshot[Domain], error) {
	ks := s.stateFor(k)

	ks.mu.Lock()
	if !ks.configSet {
		ks.config = cfg
		ks.configSet = true
	}
	if dir != Initial && from == nil {
		cursor := ks.next
		if dir == Prepend {
			cursor = ks.prev
		}
		if cursor == nil {
			snap := ks.snapshotLocked()
			ks.mu.Unlock()
			return snap, nil // rule: Append/Prepend with no token and no override is a no-op
		}
		from = cursor
	}
	ks.mu.Unlock()

	sfKey := k + "|" + dir.String()
	return s.loads.Do(ctx, sfKey, func() (Snapshot[Domain], error) {
		var snap Snapshot[Domain]
		var err error
		s.keyMutex.WithLock(k, func() {
			snap, err = s.runLoad(ctx, k, ks, dir, from)
		})
		return snap, err
	})
}

func (s *Store[Net, Domain]) runLoad(ctx context.Context, k string, ks *keyState[Domain], dir Direction, from *string) (Snapshot[Domain], error) {
	ks.mu.Lock()
	ks.sourceStates[dir] = SourceState{State: Loading}
	ks.broadcastLocked(PagingEvent[Domain]{Kind: SnapshotEvent, Snapshot: ks.snapshotLocked()})
	ks.mu.Unlock()

	page, err := s.fetcher.FetchPage(ctx, k, dir, from)

	ks.mu.Lock()
	defer ks.mu.Unlock()

	if err != nil {
		ks.sourceStates[dir] = SourceState{
			State:         Error,
			Err:           err,
			CanServeStale: len(ks.items) > 0,
		}
		snap := ks.snapshotLocked()
		ks.broadcastLocked(PagingEvent[Domain]{Kind: SnapshotEvent, Snapshot: snap})
		return snap, err
	}

	converted := make([]Domain, 0, len(page.Items))
	for _, item := range page.Items {
		v, cerr := s.conv.ItemToDomain(item)
		if cerr != nil {
			ks.sourceStates[dir] = SourceState{State: Error, Err: cerr, CanServeStale: len(ks.items) > 0}
			snap := ks.snapshotLocked()
			ks.broadcastLocked(PagingEvent[Domain]{Kind: SnapshotEvent, Snapshot: snap})
			return snap, cerr
		}
		converted = append(converted, v)
	}

	wasFullyNext, wasFullyPrev := ks.fullyNext, ks.fullyPrev
	s.integrateLocked(ks, dir, converted, page)
	ks.sourceStates[dir] = SourceState{State: Loaded}
	ks.updatedAt = page.UpdatedAt

	s.metrics.PageSize(namespaceOf(k), len(ks.items))

	snap := ks.snapshotLocked()
	ks.broadcastLocked(PagingEvent[Domain]{Kind: SnapshotEvent, Snapshot: snap})

	if ks.fullyNext && !wasFullyNext {
		ks.broadcastLocked(PagingEvent[Domain]{Kind: BoundaryEvent, Snapshot: snap, Boundary: Append})
	}
	if ks.fullyPrev && !wasFullyPrev {
		ks.broadcastLocked(PagingEvent[Domain]{Kind: BoundaryEvent, Snapshot: snap, Boundary: Prepend})
	}

	return snap, nil
}

// integrateLocked merges a successful page into the key's window and trims
// it to config.MaxSize. Caller must hold ks.mu.
func (s *Store[Net, Domain]) integrateLocked(ks *keyState[Domain], dir Direction, converted []Domain, page Page[Net]) {
	maxSize := ks.config.MaxSize

	switch dir {
	case Initial:
		items := converted
		next, prev := page.Next, page.Prev
		if maxSize > 0 && len(items) > maxSize {
			// Keep the last maxSize items of the new page and drop its
			// leading items. next and prev stay the page's own tokens, so
			// the dropped leading items are not reachable through Prepend.
			cut := len(items) - maxSize
			items = items[cut:]
			prev = page.Prev
		}
		ks.items = items
		ks.next = next
		ks.prev = prev
		ks.fullyNext = next == nil
		ks.fullyPrev = prev == nil

	case Append:
		ks.items = append(ks.items, converted...)
		if maxSize > 0 && len(ks.items) > maxSize {
			ks.items = ks.items[len(ks.items)-maxSize:]
		}
		ks.next = page.Next
		ks.fullyNext = page.Next == nil

	case Prepend:
		merged := make([]Domain, 0, len(converted)+len(ks.items))
		merged = append(merged, converted...)
		merged = append(merged, ks.items...)
		if maxSize > 0 && len(merged) > maxSize {
			merged = merged[:maxSize]
		}
		ks.items = merged
		ks.prev = page.Prev
		ks.fullyPrev = page.Prev == nil
	}
}
