// Package singleflight collapses concurrent work on the same key into one
// execution with a shared result. It is a generic, explicit
// reimplementation of the identity-equality cleanup golang.org/x/sync's
// singleflight.Group already performs internally, written out longhand
// because this engine needs the result typed as V rather than any, and
// because the identity check on completion is the load-bearing
// invariant here: a naive remove(key) on completion races a delayed
// cleanup against a newer in-flight call for the same key.
package singleflight

import (
	"context"
	"sync"
)

// call is one in-flight or completed execution.
type call[V any] struct {
	wg  sync.WaitGroup
	val V
	err error
}

// Group tracks in-flight calls for a Group[V], one per key.
type Group[V any] struct {
	mu sync.Mutex
	m  map[string]*call[V]
}

// NewGroup returns an empty Group.
func NewGroup[V any]() *Group[V] {
	return &Group[V]{m: make(map[string]*call[V])}
}

// Do executes fn for k, or waits for and shares the result of an
// already-in-flight execution for k. All waiters observe the same outcome;
// canceling ctx only detaches the calling goroutine from the result, it
// does not cancel fn for other waiters (the caller's own scope owns fn's
// context; see readstore for how the first caller's scope is plumbed in).
func (g *Group[V]) Do(ctx context.Context, k string, fn func() (V, error)) (V, error) {
	g.mu.Lock()
	if c, ok := g.m[k]; ok {
		g.mu.Unlock()
		return g.wait(ctx, c)
	}

	c := new(call[V])
	c.wg.Add(1)
	g.m[k] = c
	g.mu.Unlock()

	c.val, c.err = fn()
	c.wg.Done()

	g.mu.Lock()
	// Remove the entry only if it is still identity-equal to the call we
	// just completed, so this cleanup can never delete a different *call
	// registered under k. A caller arriving after fn returned but before
	// this lock was taken still finds c in the map and shares c's result.
	if cur, ok := g.m[k]; ok && cur == c {
		delete(g.m, k)
	}
	g.mu.Unlock()

	return c.val, c.err
}

func (g *Group[V]) wait(ctx context.Context, c *call[V]) (V, error) {
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return c.val, c.err
	case <-ctx.Done():
		var zero V
		return zero, ctx.Err()
	}
}

// InFlight reports whether k currently has an in-progress call, for tests
// asserting single-flight collapsing.
func (g *Group[V]) InFlight(k string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.m[k]
	return ok
}
