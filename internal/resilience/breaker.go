// Package resilience implements the circuit breaker and operation executor
// that guard outbound calls. The breaker wraps sony/gobreaker's two-step
// breaker (grounded on jordigilh-kubernaut's direct dependency on the same
// package) rather than reimplementing the state machine from scratch, but
// adds the event-channel broadcast for telemetry that gobreaker itself
// does not expose.
package resilience

import (
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

// BreakerState mirrors gobreaker.State under this package's own name, so
// callers never need to import gobreaker directly.
type BreakerState int

const (
	StateClosed BreakerState = iota
	StateHalfOpen
	StateOpen
)

func fromGobreakerState(s gobreaker.State) BreakerState {
	switch s {
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateClosed
	}
}

// StateChange is one transition event, broadcast on the breaker's event
// channel for telemetry consumers.
type StateChange struct {
	Name string
	From BreakerState
	To   BreakerState
	At   time.Time
}

// BreakerConfig configures a Breaker.
type BreakerConfig struct {
	Name             string
	FailureThreshold uint32        // consecutive failures in Closed before tripping to Open
	OpenTTL          time.Duration // how long Open holds before probing via HalfOpen
	ProbeQuota       uint32        // max concurrent tryAcquire successes allowed in HalfOpen
}

// Breaker is the engine's circuit breaker: tryAcquire/onSuccess/onFailure
// over gobreaker's TwoStepCircuitBreaker, plus a drop-oldest broadcast of
// state transitions.
type Breaker struct {
	cb *gobreaker.TwoStepCircuitBreaker

	mu        sync.Mutex
	listeners []chan StateChange
	lastState BreakerState
	cfg       BreakerConfig
}

// NewBreaker builds a Breaker from cfg.
func NewBreaker(cfg BreakerConfig) *Breaker {
	b := &Breaker{cfg: cfg, lastState: StateClosed}

	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.ProbeQuota,
		Timeout:     cfg.OpenTTL,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			b.publish(fromGobreakerState(from), fromGobreakerState(to))
		},
	}
	b.cb = gobreaker.NewTwoStepCircuitBreaker(settings)
	return b
}

func (b *Breaker) publish(from, to BreakerState) {
	b.mu.Lock()
	b.lastState = to
	listeners := append([]chan StateChange{}, b.listeners...)
	b.mu.Unlock()

	evt := StateChange{Name: b.cfg.Name, From: from, To: to, At: time.Now()}
	for _, ch := range listeners {
		select {
		case ch <- evt:
		default:
			// Drop-oldest semantics: make room for the newest event rather
			// than block the state-change callback, which gobreaker invokes
			// synchronously while holding its own internal lock.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- evt:
			default:
			}
		}
	}
}

// Events returns a channel of state transitions. The channel is buffered
// and drop-oldest on overflow; multiple subscribers are independent.
func (b *Breaker) Events() <-chan StateChange {
	ch := make(chan StateChange, 16)
	b.mu.Lock()
	b.listeners = append(b.listeners, ch)
	b.mu.Unlock()
	return ch
}

// done is what gobreaker's two-step API returns from Allow; TryAcquire
// wraps it so callers never see gobreaker types.
type done func(success bool)

// TryAcquire reports whether a call may proceed. In Closed this is always
// true; in Open, always false; in HalfOpen, true up to the configured probe
// quota (gobreaker enforces the quota itself via MaxRequests). The returned
// finish func must be called exactly once with the call's outcome.
func (b *Breaker) TryAcquire() (ok bool, finish func(success bool)) {
	d, err := b.cb.Allow()
	if err != nil {
		return false, func(bool) {}
	}
	return true, done(d)
}

// State reports the breaker's last observed state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastState
}
