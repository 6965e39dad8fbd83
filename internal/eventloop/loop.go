// Package eventloop provides the single-threaded execution context each side
// of a channel runs on. All bus dispatch and graph mutation for one side
// happen on its loop.
package eventloop

import (
	"context"
	"errors"
	"sync"

	logs "github.com/danmuck/universe/internal/logging"
)

var ErrStopped = errors.New("eventloop: stopped")

// Scheduler queues work onto an execution context. Schedule reports false
// when the context no longer accepts work.
type Scheduler interface {
	Schedule(fn func()) bool
}

// Loop runs scheduled tasks serially on the goroutine that calls Run. The
// queue is unbounded so Schedule never blocks; two loops posting to each
// other cannot deadlock.
type Loop struct {
	mu     sync.Mutex
	queue  []func()
	wake   chan struct{}
	stop   chan struct{}
	once   sync.Once
	closed bool
}

func New() *Loop {
	return &Loop{
		wake: make(chan struct{}, 1),
		stop: make(chan struct{}),
	}
}

// Schedule enqueues fn and returns false once the loop has stopped.
func (l *Loop) Schedule(fn func()) bool {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return false
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()
	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// Do schedules fn and waits for it to finish.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	if !l.Schedule(func() {
		defer close(done)
		fn()
	}) {
		return ErrStopped
	}
	select {
	case <-done:
		return nil
	case <-l.stop:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run executes tasks until ctx is done or Stop is called. Tasks still
// queued at that point are dropped.
func (l *Loop) Run(ctx context.Context) error {
	defer l.Stop()
	for {
		for {
			fn, ok := l.pop()
			if !ok {
				break
			}
			l.run(fn)
			select {
			case <-l.stop:
				return nil
			default:
			}
		}
		select {
		case <-ctx.Done():
			return nil
		case <-l.stop:
			return nil
		case <-l.wake:
		}
	}
}

func (l *Loop) Stop() {
	l.once.Do(func() {
		l.mu.Lock()
		l.closed = true
		l.queue = nil
		l.mu.Unlock()
		close(l.stop)
	})
}

func (l *Loop) pop() (func(), bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.queue) == 0 {
		return nil, false
	}
	fn := l.queue[0]
	l.queue[0] = nil
	l.queue = l.queue[1:]
	return fn, true
}

// Done is closed once the loop stops.
func (l *Loop) Done() <-chan struct{} {
	return l.stop
}

func (l *Loop) run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logs.Errf("eventloop.Loop.run task panic=%v", r)
		}
	}()
	fn()
}

// Manual queues tasks until RunPending is called. Tasks scheduled while
// draining run in the same drain, in FIFO order.
type Manual struct {
	mu    sync.Mutex
	queue []func()
}

func NewManual() *Manual {
	return &Manual{}
}

func (m *Manual) Schedule(fn func()) bool {
	m.mu.Lock()
	m.queue = append(m.queue, fn)
	m.mu.Unlock()
	return true
}

// RunPending drains the queue and returns the number of tasks run.
func (m *Manual) RunPending() int {
	n := 0
	for {
		m.mu.Lock()
		if len(m.queue) == 0 {
			m.mu.Unlock()
			return n
		}
		fn := m.queue[0]
		m.queue = m.queue[1:]
		m.mu.Unlock()
		fn()
		n++
	}
}

func (m *Manual) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

// Inline runs tasks on the caller's goroutine.
type Inline struct{}

func (Inline) Schedule(fn func()) bool {
	fn()
	return true
}
