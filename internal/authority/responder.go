package authority

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/danmuck/universe/internal/bridge"
	"github.com/danmuck/universe/internal/eventloop"
	"github.com/danmuck/universe/internal/events"
	logs "github.com/danmuck/universe/internal/logging"
	"github.com/danmuck/universe/internal/observability"
	"github.com/danmuck/universe/internal/universe"
)

const roleResponder = "responder"

// outcome is the stored answer to initialize.
type outcome struct {
	caps universe.Capabilities
	err  error
}

func (o outcome) fact() universe.Fact {
	if o.err != nil {
		return universe.InitializeFailure{Reason: o.err.Error()}
	}
	return universe.InitializeSuccess{Capabilities: o.caps}
}

// Responder is the authoritative end. Its graph mutates freely and every
// mutation is replicated to the attached peer.
type Responder struct {
	id          uuid.UUID
	cfg         Config
	sched       eventloop.Scheduler
	provisioner Provisioner
	bridge      *bridge.Bridge[universe.Fact]
	graph       *universe.Graph

	// context-owned
	target       bridge.Target
	session      int
	provisioning bool
	result       *outcome

	mu    sync.Mutex
	state State
	caps  universe.Capabilities
}

func NewResponder(sched eventloop.Scheduler, provisioner Provisioner, cfg Config) (*Responder, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if sched == nil {
		sched = eventloop.Inline{}
	}
	if provisioner == nil {
		provisioner = NoResources
	}
	r := &Responder{
		id:          uuid.New(),
		cfg:         cfg,
		sched:       sched,
		provisioner: provisioner,
		state:       Disconnected,
	}
	b, err := bridge.New[universe.Fact](cfg.Channel, universe.Codec{}, bridge.Options[universe.Fact]{
		RemoteFilter: bridge.AllowNames[universe.Fact](
			universe.NamePong,
			universe.NameInitializeSuccess,
			universe.NameInitializeFailure,
			universe.NameNodeParent,
			universe.NameNodePosition,
		),
		Inbound:   r.inbound,
		Scheduler: sched,
		Observer: func(name string, err error) {
			observability.RecordBridgePost(cfg.Channel, name, err)
		},
	})
	if err != nil {
		return nil, err
	}
	r.bridge = b
	r.graph = universe.NewGraph(b, universe.Permanent(), universe.Strict(cfg.Strict))

	universe.On(b, r.onPing)
	universe.On(b, r.onInitialize)
	universe.On(b, func(universe.NodeParent) error {
		observability.SetLiveNodes(roleResponder, len(r.graph.Live()))
		return nil
	})
	return r, nil
}

func (r *Responder) ID() uuid.UUID {
	return r.id
}

// Graph is the authoritative graph. Mutate it only from the scheduler, or
// through Do.
func (r *Responder) Graph() *universe.Graph {
	return r.graph
}

func (r *Responder) On(name string, fn events.Listener[universe.Fact], opts ...events.Option) func() {
	return r.bridge.On(name, fn, opts...)
}

func (r *Responder) OnAny(fn events.Listener[universe.Fact], opts ...events.Option) func() {
	return r.bridge.OnAny(fn, opts...)
}

func (r *Responder) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Capabilities reports what the last successful initialize provisioned.
func (r *Responder) Capabilities() (universe.Capabilities, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.caps, r.state == Ready
}

// Do runs fn on the scheduler and waits for it. fn may mutate the graph.
func (r *Responder) Do(ctx context.Context, fn func(g *universe.Graph) error) error {
	errc := make(chan error, 1)
	if !r.sched.Schedule(func() { errc <- fn(r.graph) }) {
		return eventloop.ErrStopped
	}
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Attach makes t the peer. A previously attached peer is detached first and
// the handshake starts over.
func (r *Responder) Attach(t bridge.Target) error {
	if r.State() == Closed {
		return ErrClosed
	}
	if r.target != nil {
		r.Detach()
	}
	r.session++
	r.result = nil
	r.provisioning = false
	r.target = t
	r.bridge.AddTarget(t)
	r.setState(Connecting)
	logs.Infof("authority.Responder.Attach id=%s channel=%s session=%d", r.id, r.cfg.Channel, r.session)
	return nil
}

// Detach drops the current peer. The graph is kept.
func (r *Responder) Detach() {
	if r.target == nil {
		return
	}
	r.bridge.RemoveTarget(r.target)
	r.target = nil
	if r.State() != Closed {
		r.setState(Disconnected)
	}
	logs.Infof("authority.Responder.Detach id=%s session=%d", r.id, r.session)
}

// Close detaches and refuses further peers.
func (r *Responder) Close() {
	r.setState(Closed)
	r.Detach()
	if err := r.bridge.Emit(universe.Disconnect{}); err != nil {
		logs.Warnf("authority.Responder.Close id=%s listener err=%v", r.id, err)
	}
}

func (r *Responder) setState(s State) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
	observability.RecordState(roleResponder, s.String())
}

// inbound rejects graph facts from the peer; only the local side may
// mutate the authoritative graph.
func (r *Responder) inbound(f universe.Fact) bool {
	switch f.(type) {
	case universe.NodeParent, universe.NodePosition, universe.NodeChildAdded, universe.NodeChildRemoved:
		logs.Warnf("authority.Responder.inbound id=%s dropped fact=%s", r.id, f.EventName())
		return false
	}
	return r.target != nil
}

func (r *Responder) onPing(universe.Ping) error {
	observability.RecordPong(r.cfg.Channel, roleResponder)
	return r.bridge.Emit(universe.Pong{})
}

func (r *Responder) onInitialize(universe.Initialize) error {
	if r.result != nil {
		logs.Debugf("authority.Responder.onInitialize id=%s repeating outcome", r.id)
		return r.bridge.Emit(r.result.fact())
	}
	if r.provisioning {
		logs.Debugf("authority.Responder.onInitialize id=%s already provisioning", r.id)
		return nil
	}
	r.provisioning = true
	r.setState(Initializing)

	session := r.session
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), r.cfg.ProvisionTimeout)
		defer cancel()
		caps, err := r.provisioner.Provision(ctx)
		if !r.sched.Schedule(func() { r.finish(session, outcome{caps: caps, err: err}) }) {
			logs.Warnf("authority.Responder.onInitialize id=%s context stopped before provisioning finished", r.id)
		}
	}()
	return nil
}

func (r *Responder) finish(session int, o outcome) {
	if session != r.session || r.target == nil {
		return
	}
	r.provisioning = false
	r.result = &o
	if o.err != nil {
		logs.Errf("authority.Responder.finish id=%s provisioning failed err=%v", r.id, o.err)
		r.setState(Connecting)
	} else {
		r.mu.Lock()
		r.caps = o.caps
		r.mu.Unlock()
		r.setState(Ready)
		logs.Infof("authority.Responder.finish id=%s ready db=%v", r.id, o.caps.DB)
	}
	if err := r.bridge.Emit(o.fact()); err != nil {
		logs.Warnf("authority.Responder.finish id=%s emit err=%v", r.id, err)
	}
	if o.err == nil {
		r.replay()
	}
}

// replay brings a freshly initialized peer up to date with the graph built
// before it attached. Parents are sent before their children.
func (r *Responder) replay() {
	snapshot := r.graph.Snapshot()
	byID := make(map[universe.NodeID]universe.NodeState, len(snapshot))
	var queue []universe.NodeID
	for _, n := range snapshot {
		byID[n.ID] = n
		if n.ParentID == universe.None {
			queue = append(queue, n.ID)
		}
	}
	sent := 0
	for len(queue) > 0 {
		parent := byID[queue[0]]
		queue = queue[1:]
		for _, id := range parent.Children {
			child := byID[id]
			pos := child.Position
			if err := r.bridge.Post(universe.NodeParent{NodeID: id, ParentID: parent.ID, Position: &pos}); err != nil {
				logs.Warnf("authority.Responder.replay id=%s node=%d err=%v", r.id, id, err)
				return
			}
			sent++
			queue = append(queue, id)
		}
	}
	if sent > 0 {
		logs.Debugf("authority.Responder.replay id=%s nodes=%d", r.id, sent)
	}
}
