// Package stream carries envelopes over any byte stream (worker stdio, TCP)
// using length-delimited frames.
package stream

import (
	"bufio"
	"errors"
	"io"
	"os"
	"sync"

	logs "github.com/danmuck/universe/internal/logging"
	"github.com/danmuck/universe/internal/protocol"
	"github.com/danmuck/universe/internal/protocol/frame"
	"github.com/danmuck/universe/internal/transport"
)

// Conn is a bridge.Target over an io.ReadWriteCloser.
type Conn struct {
	rwc       io.ReadWriteCloser
	limits    frame.Limits
	listeners transport.Listeners

	wmu sync.Mutex

	closeOnce sync.Once
	done      chan struct{}
	errMu     sync.Mutex
	err       error
}

// New starts reading frames from rwc immediately.
func New(rwc io.ReadWriteCloser) *Conn {
	c := &Conn{
		rwc:    rwc,
		limits: frame.DefaultLimits(),
		done:   make(chan struct{}),
	}
	go c.readLoop()
	return c
}

// Join pairs separate read and write halves, e.g. a child process's stdout
// and stdin.
func Join(r io.ReadCloser, w io.WriteCloser) io.ReadWriteCloser {
	return &halves{r: r, w: w}
}

func (c *Conn) Post(env protocol.Envelope) error {
	select {
	case <-c.done:
		return transport.ErrClosed
	default:
	}
	data, err := protocol.Marshal(env)
	if err != nil {
		return err
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if err := frame.WriteFrame(c.rwc, frame.New(frame.FlagEnvelope, data), c.limits); err != nil {
		c.fail(err)
		return err
	}
	return nil
}

func (c *Conn) Listen(fn func(protocol.Envelope)) func() {
	return c.listeners.Add(fn)
}

func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.rwc.Close()
		close(c.done)
	})
	return err
}

// Done is closed when the stream ends or Close is called.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Err reports why the stream ended; nil after a clean EOF or Close.
func (c *Conn) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

func (c *Conn) readLoop() {
	r := bufio.NewReader(c.rwc)
	for {
		f, err := frame.ReadFrame(r, c.limits)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrClosedPipe) && !errors.Is(err, os.ErrClosed) {
				c.fail(err)
			}
			_ = c.Close()
			return
		}
		if f.Header.Flags&frame.FlagEnvelope == 0 {
			logs.Debugf("stream.Conn.readLoop skipped frame flags=%#x", f.Header.Flags)
			continue
		}
		env, err := protocol.Unmarshal(f.Payload)
		if err != nil {
			logs.Warnf("stream.Conn.readLoop dropped envelope err=%v", err)
			continue
		}
		c.listeners.Notify(env)
	}
}

func (c *Conn) fail(err error) {
	select {
	case <-c.done:
		return
	default:
	}
	c.errMu.Lock()
	if c.err == nil {
		c.err = err
	}
	c.errMu.Unlock()
}

type halves struct {
	r io.ReadCloser
	w io.WriteCloser
}

func (h *halves) Read(p []byte) (int, error)  { return h.r.Read(p) }
func (h *halves) Write(p []byte) (int, error) { return h.w.Write(p) }

func (h *halves) Close() error {
	return errors.Join(h.w.Close(), h.r.Close())
}
