package pagestore

import (
	"sync"
	"time"
)

// keyState is one key's paging window plus its subscriber fan-out. All
// fields are guarded by mu; the keymutex.Table only serializes Load calls
// against each other; reads of the established snapshot still need this
// lock since Stream's initial replay races a concurrent Load.
type keyState[Domain any] struct {
	mu sync.Mutex

	configSet bool
	config    Config

	items []Domain
	next  *string
	prev  *string

	sourceStates map[Direction]SourceState
	fullyNext    bool
	fullyPrev    bool

	updatedAt time.Time

	subs []chan PagingEvent[Domain]
}

func newKeyState[Domain any]() *keyState[Domain] {
	return &keyState[Domain]{
		sourceStates: map[Direction]SourceState{
			Initial: {State: Idle},
			Append:  {State: Idle},
			Prepend: {State: Idle},
		},
	}
}

// snapshotLocked builds the current immutable Snapshot. Caller must hold mu.
func (ks *keyState[Domain]) snapshotLocked() Snapshot[Domain] {
	snap := Snapshot[Domain]{
		Items:           ks.items,
		Next:            ks.next,
		Prev:            ks.prev,
		SourceStates:    ks.sourceStates,
		FullyLoadedNext: ks.fullyNext,
		FullyLoadedPrev: ks.fullyPrev,
	}
	return snap.clone()
}

// broadcastLocked fans snapshot out to every subscriber, dropping on a full
// buffer rather than blocking the mutation that produced it.
func (ks *keyState[Domain]) broadcastLocked(ev PagingEvent[Domain]) {
	for _, ch := range ks.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (ks *keyState[Domain]) subscribeLocked() chan PagingEvent[Domain] {
	ch := make(chan PagingEvent[Domain], 8)
	ks.subs = append(ks.subs, ch)
	return ch
}

func (ks *keyState[Domain]) unsubscribe(target chan PagingEvent[Domain]) {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	for i, ch := range ks.subs {
		if ch == target {
			ks.subs = append(ks.subs[:i], ks.subs[i+1:]...)
			close(ch)
			return
		}
	}
}

func (s *Store[Net, Domain]) stateFor(k string) *keyState[Domain] {
	s.mu.Lock()
	defer s.mu.Unlock()
	ks, ok := s.states[k]
	if !ok {
		ks = newKeyState[Domain]()
		s.states[k] = ks
	}
	return ks
}
