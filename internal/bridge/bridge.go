// Package bridge mirrors an events.Bus across a channel to remote targets.
//
// Every Emit dispatches locally and posts an envelope to every registered
// target. Envelopes received from a target are dispatched locally only and
// are never relayed onward: exactly two parties share a channel, so relaying
// would only echo.
package bridge

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/danmuck/universe/internal/eventloop"
	"github.com/danmuck/universe/internal/events"
	logs "github.com/danmuck/universe/internal/logging"
	"github.com/danmuck/universe/internal/protocol"
	"github.com/vmihailenco/msgpack/v5"
)

var ErrChannelRequired = errors.New("bridge: channel required")

// Target is a remote endpoint able to send and receive envelopes.
// Implementations must be comparable (pointer receivers).
type Target interface {
	Post(env protocol.Envelope) error
	Listen(fn func(protocol.Envelope)) (cancel func())
}

// Codec maps catalog events to positional wire arguments.
type Codec[E events.Event] interface {
	Encode(ev E) ([]msgpack.RawMessage, error)
	Decode(name string, args []msgpack.RawMessage) (E, error)
}

// Options are the override points of a Bridge.
type Options[E events.Event] struct {
	// LocalFilter gates local dispatch of emitted and received events.
	LocalFilter func(E) bool
	// RemoteFilter gates which emitted events are posted to targets.
	RemoteFilter func(E) bool
	// Inbound sees each received event before local dispatch. Returning
	// false means the owner consumed it.
	Inbound func(E) bool
	// Scheduler receives inbound delivery; defaults to inline.
	Scheduler eventloop.Scheduler
	// Observer is told about every post attempt.
	Observer func(name string, err error)
}

// AllowNames returns a filter admitting only the listed event names.
func AllowNames[E events.Event](names ...string) func(E) bool {
	allowed := make(map[string]struct{}, len(names))
	for _, n := range names {
		allowed[n] = struct{}{}
	}
	return func(ev E) bool {
		_, ok := allowed[ev.EventName()]
		return ok
	}
}

// Bridge is an event bus shared with remote targets on one channel.
type Bridge[E events.Event] struct {
	channel string
	codec   Codec[E]
	opts    Options[E]
	bus     *events.Bus[E]

	mu      sync.Mutex
	targets map[Target]func()
	order   []Target
}

func New[E events.Event](channel string, codec Codec[E], opts Options[E]) (*Bridge[E], error) {
	channel = strings.TrimSpace(channel)
	if channel == "" {
		return nil, ErrChannelRequired
	}
	if opts.Scheduler == nil {
		opts.Scheduler = eventloop.Inline{}
	}
	return &Bridge[E]{
		channel: channel,
		codec:   codec,
		opts:    opts,
		bus:     events.NewBus[E](),
		targets: make(map[Target]func()),
	}, nil
}

func (b *Bridge[E]) Channel() string {
	return b.channel
}

func (b *Bridge[E]) On(name string, fn events.Listener[E], opts ...events.Option) func() {
	return b.bus.On(name, fn, opts...)
}

func (b *Bridge[E]) OnAny(fn events.Listener[E], opts ...events.Option) func() {
	return b.bus.OnAny(fn, opts...)
}

// Emit dispatches ev locally and posts it to every target.
func (b *Bridge[E]) Emit(ev E) error {
	localErr := b.dispatch(ev)
	postErr := b.post(ev)
	return errors.Join(localErr, postErr)
}

// Post sends ev to the targets without dispatching it locally.
func (b *Bridge[E]) Post(ev E) error {
	return b.post(ev)
}

// AddTarget registers t and starts listening to it. Registering the same
// target twice has no effect.
func (b *Bridge[E]) AddTarget(t Target) {
	b.mu.Lock()
	if _, ok := b.targets[t]; ok {
		b.mu.Unlock()
		return
	}
	// Reserve the slot before Listen so a concurrent AddTarget is a no-op.
	b.targets[t] = func() {}
	b.order = append(b.order, t)
	b.mu.Unlock()

	cancel := t.Listen(b.receive)

	b.mu.Lock()
	if _, ok := b.targets[t]; ok {
		b.targets[t] = cancel
		b.mu.Unlock()
		return
	}
	b.mu.Unlock()
	cancel()
}

// RemoveTarget unregisters t and stops listening to it.
func (b *Bridge[E]) RemoveTarget(t Target) {
	b.mu.Lock()
	cancel, ok := b.targets[t]
	if ok {
		delete(b.targets, t)
		for i, existing := range b.order {
			if existing == t {
				b.order = append(b.order[:i:i], b.order[i+1:]...)
				break
			}
		}
	}
	b.mu.Unlock()
	if ok {
		cancel()
	}
}

func (b *Bridge[E]) Targets() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.order)
}

func (b *Bridge[E]) dispatch(ev E) error {
	if b.opts.LocalFilter != nil && !b.opts.LocalFilter(ev) {
		return nil
	}
	return b.bus.Emit(ev)
}

func (b *Bridge[E]) post(ev E) error {
	if b.opts.RemoteFilter != nil && !b.opts.RemoteFilter(ev) {
		return nil
	}
	b.mu.Lock()
	targets := append([]Target(nil), b.order...)
	b.mu.Unlock()
	if len(targets) == 0 {
		return nil
	}

	args, err := b.codec.Encode(ev)
	if err != nil {
		return fmt.Errorf("bridge: encode %s: %w", ev.EventName(), err)
	}
	env := protocol.Envelope{Channel: b.channel, Name: ev.EventName(), Args: args}

	var errs []error
	for _, t := range targets {
		err := t.Post(env)
		if b.opts.Observer != nil {
			b.opts.Observer(env.Name, err)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("bridge: post %s: %w", env.Name, err))
		}
	}
	return errors.Join(errs...)
}

// receive runs on the transport's goroutine and hops onto the owner's context.
func (b *Bridge[E]) receive(env protocol.Envelope) {
	if env.Channel != b.channel {
		return
	}
	ev, err := b.codec.Decode(env.Name, env.Args)
	if err != nil {
		logs.Warnf("bridge.Bridge.receive channel=%q name=%q dropped err=%v", b.channel, env.Name, err)
		return
	}
	if !b.opts.Scheduler.Schedule(func() { b.deliver(ev) }) {
		logs.Debugf("bridge.Bridge.receive channel=%q name=%q context stopped", b.channel, env.Name)
	}
}

func (b *Bridge[E]) deliver(ev E) {
	if b.opts.Inbound != nil && !b.opts.Inbound(ev) {
		return
	}
	if err := b.dispatch(ev); err != nil {
		logs.Warnf("bridge.Bridge.deliver channel=%q name=%q err=%v", b.channel, ev.EventName(), err)
	}
}
