// Package wsconn carries envelopes over a websocket, one binary message per
// envelope. It lets a host process reach a worker running elsewhere.
package wsconn

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	logs "github.com/danmuck/universe/internal/logging"
	"github.com/danmuck/universe/internal/protocol"
	"github.com/danmuck/universe/internal/transport"
)

const writeWait = 5 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// Conn is a bridge.Target over a websocket connection.
type Conn struct {
	ws        *websocket.Conn
	listeners transport.Listeners

	wmu       sync.Mutex
	closeOnce sync.Once
	done      chan struct{}
}

func New(ws *websocket.Conn) *Conn {
	c := &Conn{
		ws:   ws,
		done: make(chan struct{}),
	}
	go c.readLoop()
	return c
}

// Dial connects to a worker's websocket endpoint. header may carry
// credentials and may be nil.
func Dial(ctx context.Context, url string, header http.Header) (*Conn, error) {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, err
	}
	return New(ws), nil
}

// Upgrade accepts an incoming websocket request.
func Upgrade(w http.ResponseWriter, r *http.Request) (*Conn, error) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	return New(ws), nil
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
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteMessage(websocket.BinaryMessage, data)
}

func (c *Conn) Listen(fn func(protocol.Envelope)) func() {
	return c.listeners.Add(fn)
}

func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.wmu.Lock()
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		c.wmu.Unlock()
		err = c.ws.Close()
		close(c.done)
	})
	return err
}

func (c *Conn) Done() <-chan struct{} {
	return c.done
}

func (c *Conn) readLoop() {
	defer c.Close()
	for {
		kind, payload, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logs.Warnf("wsconn.Conn.readLoop closed err=%v", err)
			}
			return
		}
		if kind != websocket.BinaryMessage {
			continue
		}
		env, err := protocol.Unmarshal(payload)
		if err != nil {
			logs.Warnf("wsconn.Conn.readLoop dropped envelope err=%v", err)
			continue
		}
		c.listeners.Notify(env)
	}
}
