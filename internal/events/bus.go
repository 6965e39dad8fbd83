// Package events provides a synchronous, in-process publish/subscribe bus
// over a closed catalog of typed events.
//
// Dispatch semantics:
// - named listeners run first, then catch-all listeners, in registration order
//
// - a listener that emits during a pass runs the nested pass to completion
// before the remaining listeners of the outer pass, so catch-all listeners
// can observe the nested event before the outer one
//
// - each Emit works on a snapshot; subscribing or unsubscribing during a pass
// only affects later passes
//
// - every listener is attempted; errors and panics are collected and returned
// from Emit as one joined error
//
// A Bus is owned by one execution context. Registration is safe from any
// goroutine, but Emit is expected to run on the owning context only.
package events

import (
	"errors"
	"fmt"
	"sync"
)

var ErrListenerPanic = errors.New("events: listener panic")

// Event is implemented by every member of a bus catalog.
type Event interface {
	EventName() string
}

// Listener handles one event.
type Listener[E Event] func(E) error

type subscription[E Event] struct {
	fn    Listener[E]
	once  bool
	fired bool
	done  bool
}

type options struct {
	once bool
}

// Option configures a subscription.
type Option func(*options)

// Once removes the listener before its first invocation.
func Once() Option {
	return func(o *options) { o.once = true }
}

// Bus dispatches events of catalog E.
type Bus[E Event] struct {
	mu    sync.Mutex
	named map[string][]*subscription[E]
	any   []*subscription[E]
}

func NewBus[E Event]() *Bus[E] {
	return &Bus[E]{
		named: make(map[string][]*subscription[E]),
	}
}

// On subscribes fn to events named name. The returned function unsubscribes;
// calling it more than once is a no-op.
func (b *Bus[E]) On(name string, fn Listener[E], opts ...Option) func() {
	sub := newSubscription(fn, opts)
	b.mu.Lock()
	b.named[name] = append(b.named[name], sub)
	b.mu.Unlock()
	return func() { b.remove(name, sub) }
}

// OnAny subscribes fn to every event.
func (b *Bus[E]) OnAny(fn Listener[E], opts ...Option) func() {
	sub := newSubscription(fn, opts)
	b.mu.Lock()
	b.any = append(b.any, sub)
	b.mu.Unlock()
	return func() { b.remove("", sub) }
}

// Emit dispatches ev to a snapshot of its listeners.
func (b *Bus[E]) Emit(ev E) error {
	name := ev.EventName()

	b.mu.Lock()
	snapshot := make([]*subscription[E], 0, len(b.named[name])+len(b.any))
	snapshot = append(snapshot, b.named[name]...)
	snapshot = append(snapshot, b.any...)
	b.mu.Unlock()

	var errs []error
	for _, sub := range snapshot {
		if !b.claim(name, sub) {
			continue
		}
		if err := invoke(sub.fn, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Len reports the number of listeners registered for name. An empty name
// counts catch-all listeners.
func (b *Bus[E]) Len(name string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if name == "" {
		return len(b.any)
	}
	return len(b.named[name])
}

// claim reports whether sub runs in the current pass. Once-listeners are
// retired before invocation so a nested Emit cannot fire them twice.
func (b *Bus[E]) claim(name string, sub *subscription[E]) bool {
	if !sub.once {
		return true
	}
	b.mu.Lock()
	if sub.fired {
		b.mu.Unlock()
		return false
	}
	sub.fired = true
	b.mu.Unlock()
	b.remove(name, sub)
	return true
}

func (b *Bus[E]) remove(name string, sub *subscription[E]) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sub.done {
		return
	}
	sub.done = true
	if list, ok := b.named[name]; ok {
		if next := without(list, sub); len(next) != len(list) {
			if len(next) == 0 {
				delete(b.named, name)
			} else {
				b.named[name] = next
			}
			return
		}
	}
	b.any = without(b.any, sub)
}

func newSubscription[E Event](fn Listener[E], opts []Option) *subscription[E] {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return &subscription[E]{fn: fn, once: o.once}
}

// without returns a fresh slice so snapshots held by in-flight passes stay intact.
func without[E Event](list []*subscription[E], sub *subscription[E]) []*subscription[E] {
	out := make([]*subscription[E], 0, len(list))
	for _, s := range list {
		if s != sub {
			out = append(out, s)
		}
	}
	return out
}

func invoke[E Event](fn Listener[E], ev E) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %s: %v", ErrListenerPanic, ev.EventName(), r)
		}
	}()
	return fn(ev)
}
