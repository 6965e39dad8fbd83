// Package transport holds helpers shared by the envelope transports.
//
// Every transport implements bridge.Target: Post sends one envelope to the
// peer, Listen registers a receiver for envelopes arriving from the peer.
// Receivers are called on the transport's delivery goroutine; owners hop onto
// their own context.
package transport

import (
	"errors"
	"slices"
	"sync"

	"github.com/danmuck/universe/internal/protocol"
)

var ErrClosed = errors.New("transport: closed")

// Listeners is a set of envelope receivers.
type Listeners struct {
	mu   sync.Mutex
	next int
	fns  map[int]func(protocol.Envelope)
}

// Add registers fn. The returned cancel is idempotent.
func (l *Listeners) Add(fn func(protocol.Envelope)) func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fns == nil {
		l.fns = make(map[int]func(protocol.Envelope))
	}
	id := l.next
	l.next++
	l.fns[id] = fn
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.fns, id)
	}
}

// Notify calls every receiver in registration order.
func (l *Listeners) Notify(env protocol.Envelope) {
	l.mu.Lock()
	ids := make([]int, 0, len(l.fns))
	for id := range l.fns {
		ids = append(ids, id)
	}
	fns := make([]func(protocol.Envelope), 0, len(ids))
	slices.Sort(ids)
	for _, id := range ids {
		fns = append(fns, l.fns[id])
	}
	l.mu.Unlock()
	for _, fn := range fns {
		fn(env)
	}
}

func (l *Listeners) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.fns = nil
}

func (l *Listeners) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.fns)
}
