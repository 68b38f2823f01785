package singleflight

import (
	"context"
	"sync"
)

// Group coalesces concurrent calls with the same key into a single execution.
// It guards credential acquisition: at most one issuance network call is in
// flight per key, and every concurrent caller receives that call's result.
type Group struct {
	mu sync.Mutex
	m  map[string]*call
}

// call is an in-flight execution shared between the owner and its waiters.
type call struct {
	done chan struct{}
	val  interface{}
	err  error
}

// New creates a new singleflight Group.
func New() *Group {
	return &Group{
		m: make(map[string]*call),
	}
}

// Do executes fn, making sure only one execution is in flight for key at a
// time. Callers arriving while the owner runs wait for it and receive the
// same result; their context cancels the wait but not the owner's execution.
// The key is removed before waiters are released, so a call arriving after
// completion always triggers a fresh execution; results are never replayed
// to late callers. Single-use credentials depend on this.
func (g *Group) Do(ctx context.Context, key string, fn func() (interface{}, error)) (interface{}, error) {
	g.mu.Lock()
	if c, ok := g.m[key]; ok {
		g.mu.Unlock()
		select {
		case <-c.done:
			return c.val, c.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	c := &call{done: make(chan struct{})}
	g.m[key] = c
	g.mu.Unlock()

	c.val, c.err = fn()

	g.mu.Lock()
	if g.m[key] == c {
		delete(g.m, key)
	}
	g.mu.Unlock()
	close(c.done)

	return c.val, c.err
}

// Forget removes key so the next Do starts a fresh execution even if an
// earlier one is still in progress. Existing waiters keep their attachment
// to the old call.
func (g *Group) Forget(key string) {
	g.mu.Lock()
	delete(g.m, key)
	g.mu.Unlock()
}
