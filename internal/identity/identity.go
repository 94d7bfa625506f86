// Package identity holds the current owner and whether it is established.
package identity

import "sync"

// State is a point-in-time view of the identity.
type State struct {
	OwnerID string
	Ready   bool
}

// Context is the process-wide identity of one owner session.
// It starts not ready. SignIn and SignOut are its only transitions.
type Context struct {
	// deliverMu serializes transitions with their delivery, so every
	// watcher sees changes in the order they were made.
	deliverMu sync.Mutex

	mu       sync.Mutex
	state    State
	watchers map[uint64]func(State)
	next     uint64
}

// New returns a not-ready identity context.
func New() *Context {
	return &Context{watchers: make(map[uint64]func(State))}
}

// Current returns the current identity state.
func (c *Context) Current() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SignIn marks ownerID as the ready identity. Signing in as the current
// owner again is a no-op. An empty ownerID signs out.
func (c *Context) SignIn(ownerID string) {
	if ownerID == "" {
		c.SignOut()
		return
	}
	c.set(State{OwnerID: ownerID, Ready: true})
}

// SignOut clears the identity.
func (c *Context) SignOut() {
	c.set(State{})
}

func (c *Context) set(next State) {
	c.deliverMu.Lock()
	defer c.deliverMu.Unlock()

	c.mu.Lock()
	if c.state == next {
		c.mu.Unlock()
		return
	}
	c.state = next
	fns := make([]func(State), 0, len(c.watchers))
	for _, fn := range c.watchers {
		fns = append(fns, fn)
	}
	c.mu.Unlock()

	for _, fn := range fns {
		fn(next)
	}
}

// Watch calls fn with the current state, then after every change, until
// the returned cancel func is called. fn runs on the goroutine that caused
// the change. It may call Current but must not call SignIn or SignOut.
func (c *Context) Watch(fn func(State)) (cancel func()) {
	c.deliverMu.Lock()
	defer c.deliverMu.Unlock()

	c.mu.Lock()
	c.next++
	key := c.next
	c.watchers[key] = fn
	current := c.state
	c.mu.Unlock()

	fn(current)

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.watchers, key)
			c.mu.Unlock()
		})
	}
}
