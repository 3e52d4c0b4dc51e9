// ABOUTME: Single-value container tracking an asynchronous load with a synchronous view once resolved
// ABOUTME: Writes supersede in-flight loads; subscribers are notified on every state transition

package cell

import (
	"context"
	"sync"
)

// State is the lifecycle position of a Cell.
type State int

const (
	// Uninitialized means no load was requested yet.
	Uninitialized State = iota
	// Loading means a load is in flight; readers see the zero value.
	Loading
	// Ready means the value is resolved and readable synchronously.
	Ready
	// Resetting means the value was replaced by its default after a version
	// change and the reset is still being persisted.
	Resetting
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Loading:
		return "loading"
	case Ready:
		return "ready"
	case Resetting:
		return "resetting"
	default:
		return "unknown"
	}
}

// Resolved reports whether a value is available to readers.
func (s State) Resolved() bool {
	return s == Ready || s == Resetting
}

// Callback observes a state transition.
type Callback[V any] func(value V, state State)

type subscriber[V any] struct {
	fn Callback[V]
}

// Cell holds one value of type V.
type Cell[V any] struct {
	mu    sync.Mutex
	value V
	state State
	// gen increments on every write so a late load can tell it was superseded.
	gen         uint64
	subscribers []*subscriber[V]
	// ready is closed the first time the cell becomes resolved.
	ready chan struct{}
}

// New creates an uninitialized Cell.
func New[V any]() *Cell[V] {
	return &Cell[V]{ready: make(chan struct{})}
}

// Load starts loader on its own goroutine if the cell is Uninitialized and
// reports whether this call started it. The loader runs at most once per Cell.
// A Write or BeginReset that happens before the loader returns wins; the loaded
// value is then discarded.
func (c *Cell[V]) Load(loader func() V) bool {
	c.mu.Lock()
	if c.state != Uninitialized {
		c.mu.Unlock()
		return false
	}
	c.state = Loading
	gen := c.gen
	value := c.value
	subs := c.snapshotSubscribersLocked()
	c.mu.Unlock()

	notify(subs, value, Loading)

	go func() {
		v := loader()
		c.resolve(gen, v)
	}()
	return true
}

func (c *Cell[V]) resolve(gen uint64, v V) {
	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return
	}
	c.value = v
	subs := c.transitionLocked(Ready)
	c.mu.Unlock()

	notify(subs, v, Ready)
}

// Snapshot returns the current value and state. The value is the zero value
// while the state is Uninitialized or Loading.
func (c *Cell[V]) Snapshot() (V, State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value, c.state
}

// Write replaces the value and moves the cell to Ready.
func (c *Cell[V]) Write(v V) {
	c.mu.Lock()
	c.gen++
	c.value = v
	subs := c.transitionLocked(Ready)
	c.mu.Unlock()

	notify(subs, v, Ready)
}

// BeginReset replaces the value with v and moves the cell to Resetting.
func (c *Cell[V]) BeginReset(v V) {
	c.mu.Lock()
	c.gen++
	c.value = v
	subs := c.transitionLocked(Resetting)
	c.mu.Unlock()

	notify(subs, v, Resetting)
}

// FinishReset returns a Resetting cell to Ready. It is a no-op in any other
// state, which happens when a Write landed while the reset was persisting.
func (c *Cell[V]) FinishReset() {
	c.mu.Lock()
	if c.state != Resetting {
		c.mu.Unlock()
		return
	}
	v := c.value
	subs := c.transitionLocked(Ready)
	c.mu.Unlock()

	notify(subs, v, Ready)
}

// Wait blocks until the cell is resolved or ctx is done.
func (c *Cell[V]) Wait(ctx context.Context) (V, error) {
	select {
	case <-c.ready:
		v, _ := c.Snapshot()
		return v, nil
	case <-ctx.Done():
		var zero V
		return zero, ctx.Err()
	}
}

// Subscribe registers fn for every subsequent state transition. Callbacks run
// synchronously on the goroutine that caused the transition, outside the cell's
// lock, in registration order. The returned function unsubscribes and may be
// called more than once.
func (c *Cell[V]) Subscribe(fn Callback[V]) (unsubscribe func()) {
	sub := &subscriber[V]{fn: fn}

	c.mu.Lock()
	c.subscribers = append(c.subscribers, sub)
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			for i, s := range c.subscribers {
				if s == sub {
					c.subscribers = append(c.subscribers[:i:i], c.subscribers[i+1:]...)
					return
				}
			}
		})
	}
}

// transitionLocked sets the state and returns the subscribers to notify.
// Caller must hold mu.
func (c *Cell[V]) transitionLocked(state State) []*subscriber[V] {
	if state.Resolved() && !c.state.Resolved() {
		select {
		case <-c.ready:
		default:
			close(c.ready)
		}
	}
	c.state = state
	return c.snapshotSubscribersLocked()
}

func (c *Cell[V]) snapshotSubscribersLocked() []*subscriber[V] {
	if len(c.subscribers) == 0 {
		return nil
	}
	return append([]*subscriber[V](nil), c.subscribers...)
}

func notify[V any](subs []*subscriber[V], v V, state State) {
	for _, s := range subs {
		s.fn(v, state)
	}
}
