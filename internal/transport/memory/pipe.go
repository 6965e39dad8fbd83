// Package memory connects two contexts in one process. Envelopes are
// serialized on Post and decoded on the peer, so the two sides never share
// memory.
package memory

import (
	"sync"

	logs "github.com/danmuck/universe/internal/logging"
	"github.com/danmuck/universe/internal/protocol"
	"github.com/danmuck/universe/internal/transport"
)

type pipe struct {
	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

// Port is one end of a Pipe.
type Port struct {
	name      string
	pipe      *pipe
	peer      *Port
	listeners transport.Listeners
}

// Pipe returns two connected ports.
func Pipe() (*Port, *Port) {
	p := &pipe{done: make(chan struct{})}
	a := &Port{name: "a", pipe: p}
	b := &Port{name: "b", pipe: p}
	a.peer = b
	b.peer = a
	return a, b
}

// Post delivers env to the peer's listeners on the caller's goroutine. A
// listener may post back through the pipe; with an inline scheduler that
// nests, so owners normally hop onto their own context first.
func (p *Port) Post(env protocol.Envelope) error {
	if p.isClosed() {
		return transport.ErrClosed
	}
	data, err := protocol.Marshal(env)
	if err != nil {
		return err
	}
	p.peer.receive(data)
	return nil
}

func (p *Port) Listen(fn func(protocol.Envelope)) func() {
	return p.listeners.Add(fn)
}

// Close tears down both ends.
func (p *Port) Close() error {
	p.pipe.mu.Lock()
	if !p.pipe.closed {
		p.pipe.closed = true
		close(p.pipe.done)
	}
	p.pipe.mu.Unlock()
	p.listeners.Clear()
	p.peer.listeners.Clear()
	return nil
}

// Done is closed when either end closes.
func (p *Port) Done() <-chan struct{} {
	return p.pipe.done
}

func (p *Port) Closed() bool {
	return p.isClosed()
}

func (p *Port) isClosed() bool {
	p.pipe.mu.Lock()
	defer p.pipe.mu.Unlock()
	return p.pipe.closed
}

func (p *Port) receive(data []byte) {
	if p.isClosed() {
		return
	}
	env, err := protocol.Unmarshal(data)
	if err != nil {
		logs.Warnf("memory.Port.receive port=%s dropped err=%v", p.name, err)
		return
	}
	p.listeners.Notify(env)
}
