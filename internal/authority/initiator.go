package authority

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/danmuck/universe/internal/bridge"
	"github.com/danmuck/universe/internal/eventloop"
	"github.com/danmuck/universe/internal/events"
	logs "github.com/danmuck/universe/internal/logging"
	"github.com/danmuck/universe/internal/observability"
	"github.com/danmuck/universe/internal/universe"
)

const roleInitiator = "initiator"

// Initiator is the non-authoritative end. It owns the link's lifetime and a
// mirror graph that only replicated facts can change.
type Initiator struct {
	id     uuid.UUID
	cfg    Config
	conn   Conn
	sched  eventloop.Scheduler
	bridge *bridge.Bridge[universe.Fact]
	graph  *universe.Graph

	// context-owned
	pending int

	mu    sync.Mutex
	state State
	caps  universe.Capabilities
	ready bool
	err   error

	once sync.Once
	done chan struct{}
}

func NewInitiator(conn Conn, sched eventloop.Scheduler, cfg Config) (*Initiator, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if sched == nil {
		sched = eventloop.Inline{}
	}
	i := &Initiator{
		id:    uuid.New(),
		cfg:   cfg,
		conn:  conn,
		sched: sched,
		state: Disconnected,
		done:  make(chan struct{}),
	}
	b, err := bridge.New[universe.Fact](cfg.Channel, universe.Codec{}, bridge.Options[universe.Fact]{
		RemoteFilter: bridge.AllowNames[universe.Fact](universe.NamePing, universe.NameInitialize),
		Inbound:      i.inbound,
		Scheduler:    sched,
		Observer: func(name string, err error) {
			observability.RecordBridgePost(cfg.Channel, name, err)
		},
	})
	if err != nil {
		return nil, err
	}
	i.bridge = b
	i.graph = universe.NewGraph(b, universe.NewScoped(), universe.Strict(cfg.Strict))

	universe.On(b, i.onPong)
	universe.On(b, i.onInitializeSuccess)
	universe.On(b, i.onInitializeFailure)
	return i, nil
}

func (i *Initiator) ID() uuid.UUID {
	return i.id
}

// Graph is the mirror. Its mutators are no-ops outside of replicated facts.
func (i *Initiator) Graph() *universe.Graph {
	return i.graph
}

func (i *Initiator) On(name string, fn events.Listener[universe.Fact], opts ...events.Option) func() {
	return i.bridge.On(name, fn, opts...)
}

func (i *Initiator) OnAny(fn events.Listener[universe.Fact], opts ...events.Option) func() {
	return i.bridge.OnAny(fn, opts...)
}

func (i *Initiator) State() State {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.state
}

// Capabilities reports what the peer provisioned; ok is false until the
// handshake succeeded.
func (i *Initiator) Capabilities() (universe.Capabilities, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.caps, i.ready
}

// Done is closed once the Initiator has disconnected.
func (i *Initiator) Done() <-chan struct{} {
	return i.done
}

// Err reports why the Initiator disconnected: ErrLivenessTimeout,
// ErrInitializeFailed, or nil for a requested disconnect.
func (i *Initiator) Err() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.err
}

// Connect registers the peer and arms the heartbeat.
func (i *Initiator) Connect() error {
	switch i.State() {
	case Disconnected:
	case Closed:
		return ErrClosed
	default:
		return ErrAlreadyConnected
	}
	i.pending = 0
	i.bridge.AddTarget(i.conn)
	i.setState(Connecting)
	logs.Infof("authority.Initiator.Connect id=%s channel=%s", i.id, i.cfg.Channel)
	return nil
}

// Tick is one heartbeat step. A ping is sent unless MaxPendingPongs pings
// are already unanswered, in which case the link is torn down.
func (i *Initiator) Tick() {
	switch i.State() {
	case Disconnected, Closed:
		return
	}
	if i.pending >= i.cfg.MaxPendingPongs {
		observability.RecordLivenessFailure(i.cfg.Channel)
		logs.Errf("authority.Initiator.Tick id=%s liveness failure pending=%d", i.id, i.pending)
		i.fail(ErrLivenessTimeout)
		return
	}
	i.pending++
	observability.RecordPing(i.cfg.Channel)
	if err := i.bridge.Emit(universe.Ping{}); err != nil {
		logs.Warnf("authority.Initiator.Tick id=%s ping err=%v", i.id, err)
	}
}

// Run ticks the heartbeat on the scheduler until ctx ends or the Initiator
// disconnects. Cancelling ctx disconnects.
func (i *Initiator) Run(ctx context.Context) error {
	ticker := time.NewTicker(i.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			i.shutdown()
			return ctx.Err()
		case <-i.done:
			return i.Err()
		case <-ticker.C:
			if !i.sched.Schedule(i.Tick) {
				i.Disconnect()
				return eventloop.ErrStopped
			}
		}
	}
}

// Disconnect tears the link down. Only the first call has an effect.
func (i *Initiator) Disconnect() {
	i.once.Do(func() {
		i.setState(Closed)
		i.bridge.RemoveTarget(i.conn)
		if err := i.conn.Close(); err != nil {
			logs.Warnf("authority.Initiator.Disconnect id=%s close err=%v", i.id, err)
		}
		if err := i.bridge.Emit(universe.Disconnect{}); err != nil {
			logs.Warnf("authority.Initiator.Disconnect id=%s listener err=%v", i.id, err)
		}
		logs.Infof("authority.Initiator.Disconnect id=%s err=%v", i.id, i.Err())
		close(i.done)
	})
}

// shutdown disconnects on the scheduler, or directly once the scheduler can
// no longer run it.
func (i *Initiator) shutdown() {
	if !i.sched.Schedule(i.Disconnect) {
		i.Disconnect()
		return
	}
	var stopped <-chan struct{}
	if s, ok := i.sched.(interface{ Done() <-chan struct{} }); ok {
		stopped = s.Done()
	}
	select {
	case <-i.done:
	case <-stopped:
		i.Disconnect()
	case <-time.After(i.cfg.HeartbeatInterval):
		i.Disconnect()
	}
}

func (i *Initiator) fail(err error) {
	i.mu.Lock()
	if i.err == nil {
		i.err = err
	}
	i.mu.Unlock()
	i.Disconnect()
}

func (i *Initiator) setState(s State) {
	i.mu.Lock()
	i.state = s
	i.mu.Unlock()
	observability.RecordState(roleInitiator, s.String())
}

// inbound applies replicated graph facts to the mirror. The mirror re-emits
// what actually changed, so the raw fact is not dispatched again.
func (i *Initiator) inbound(f universe.Fact) bool {
	if i.State() == Closed {
		return false
	}
	switch f.(type) {
	case universe.NodeParent, universe.NodePosition:
		if err := i.graph.Apply(f); err != nil {
			logs.Warnf("authority.Initiator.inbound id=%s fact=%s err=%v", i.id, f.EventName(), err)
		}
		return false
	case universe.NodeChildAdded, universe.NodeChildRemoved:
		// Derived by the mirror itself.
		return false
	}
	return true
}

func (i *Initiator) onPong(universe.Pong) error {
	i.pending = 0
	observability.RecordPong(i.cfg.Channel, roleInitiator)
	if i.State() != Connecting {
		return nil
	}
	i.setState(Initializing)
	return i.bridge.Emit(universe.Initialize{})
}

func (i *Initiator) onInitializeSuccess(f universe.InitializeSuccess) error {
	i.mu.Lock()
	if i.state != Initializing {
		i.mu.Unlock()
		return nil
	}
	i.caps = f.Capabilities
	i.ready = true
	i.mu.Unlock()
	i.setState(Ready)
	logs.Infof("authority.Initiator.onInitializeSuccess id=%s db=%v", i.id, f.Capabilities.DB)
	return nil
}

func (i *Initiator) onInitializeFailure(f universe.InitializeFailure) error {
	if i.State() != Initializing {
		return nil
	}
	logs.Errf("authority.Initiator.onInitializeFailure id=%s reason=%q", i.id, f.Reason)
	i.fail(ErrInitializeFailed)
	return nil
}
