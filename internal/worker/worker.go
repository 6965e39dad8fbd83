// Package worker hosts the authoritative side of a universe channel: an
// event loop, a Responder and the storage it provisions. One peer is served
// at a time.
package worker

import (
	"context"
	"errors"
	"sync"

	"github.com/danmuck/universe/internal/authority"
	"github.com/danmuck/universe/internal/config"
	"github.com/danmuck/universe/internal/eventloop"
	logs "github.com/danmuck/universe/internal/logging"
	"github.com/danmuck/universe/internal/storage"
	"github.com/danmuck/universe/internal/transport/wsconn"
	"github.com/danmuck/universe/internal/universe"
)

var ErrPeerAttached = errors.New("worker: a peer is already attached")

// Peer is a connection to an initiator. Done is closed when it drops.
type Peer interface {
	authority.Conn
	Done() <-chan struct{}
}

type Worker struct {
	cfg         config.WorkerConfig
	loop        *eventloop.Loop
	responder   *authority.Responder
	provisioner *storage.Provisioner

	mu   sync.Mutex
	peer Peer
}

func New(cfg config.WorkerConfig) (*Worker, error) {
	loop := eventloop.New()
	provisioner := &storage.Provisioner{Path: cfg.DBPath, Required: cfg.DBRequired}
	responder, err := authority.NewResponder(loop, provisioner, cfg.Authority)
	if err != nil {
		return nil, err
	}
	w := &Worker{
		cfg:         cfg,
		loop:        loop,
		responder:   responder,
		provisioner: provisioner,
	}
	if cfg.SeedDemo {
		universe.On(responder, func(universe.InitializeSuccess) error {
			// After the success fact has reached the peer.
			loop.Schedule(w.seedDemo)
			return nil
		})
	}
	return w, nil
}

func (w *Worker) Responder() *authority.Responder {
	return w.responder
}

// Run drives the event loop until ctx is cancelled, then closes the
// Responder and storage.
func (w *Worker) Run(ctx context.Context) error {
	err := w.loop.Run(ctx)
	w.responder.Close()
	w.mu.Lock()
	if w.peer != nil {
		_ = w.peer.Close()
		w.peer = nil
	}
	w.mu.Unlock()
	if cerr := w.provisioner.Close(); cerr != nil {
		logs.Warnf("worker.Worker.Run storage close err=%v", cerr)
	}
	return err
}

// Serve attaches peer and blocks until it drops or ctx ends.
func (w *Worker) Serve(ctx context.Context, peer Peer) error {
	if err := w.attach(peer); err != nil {
		return err
	}
	select {
	case <-peer.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Accept attaches a websocket peer without blocking.
func (w *Worker) Accept(conn *wsconn.Conn) error {
	return w.attach(conn)
}

func (w *Worker) attach(peer Peer) error {
	w.mu.Lock()
	if w.peer != nil {
		w.mu.Unlock()
		return ErrPeerAttached
	}
	w.peer = peer
	w.mu.Unlock()

	ctx := context.Background()
	if err := w.loop.Do(ctx, func() {
		if err := w.responder.Attach(peer); err != nil {
			logs.Warnf("worker.Worker.attach err=%v", err)
		}
	}); err != nil {
		w.release(peer)
		return err
	}
	go func() {
		<-peer.Done()
		w.loop.Schedule(w.responder.Detach)
		w.release(peer)
	}()
	return nil
}

func (w *Worker) release(peer Peer) {
	w.mu.Lock()
	if w.peer == peer {
		w.peer = nil
	}
	w.mu.Unlock()
}

func (w *Worker) Ready() bool {
	return w.responder.State() == authority.Ready
}

// Nodes snapshots the authoritative graph on the event loop.
func (w *Worker) Nodes(ctx context.Context) ([]universe.NodeState, error) {
	var nodes []universe.NodeState
	err := w.responder.Do(ctx, func(g *universe.Graph) error {
		nodes = g.Snapshot()
		return nil
	})
	return nodes, err
}

// seedDemo builds a small scene once storage is known: a root with two
// branches and a positioned leaf.
func (w *Worker) seedDemo() {
	g := w.responder.Graph()
	if _, ok := g.Lookup(1); ok {
		return
	}
	steps := []func() error{
		func() error { return g.Node(1).SetParent(universe.RootID) },
		func() error { return g.Node(2).SetParent(universe.RootID) },
		func() error { return g.Node(5).SetParentAt(2, universe.Position{North: 4, East: -2}) },
		func() error { return g.Node(6).SetParentAt(1, universe.Position{North: -1, East: 3}) },
	}
	for _, step := range steps {
		if err := step(); err != nil {
			logs.Warnf("worker.Worker.seedDemo err=%v", err)
			return
		}
	}
	logs.Infof("worker.Worker.seedDemo live=%v", g.Live())
}
