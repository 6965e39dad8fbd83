package authority

import (
	"context"
	"errors"
	"reflect"
	"slices"
	"testing"
	"time"

	"github.com/danmuck/universe/internal/eventloop"
	logs "github.com/danmuck/universe/internal/logging"
	"github.com/danmuck/universe/internal/protocol"
	"github.com/danmuck/universe/internal/testutil/testlog"
	"github.com/danmuck/universe/internal/transport/memory"
	"github.com/danmuck/universe/internal/universe"
)

type pair struct {
	sched     *eventloop.Manual
	initiator *Initiator
	responder *Responder
	hostEnd   *memory.Port
	workerEnd *memory.Port
}

func newPair(t *testing.T, provisioner Provisioner) *pair {
	t.Helper()
	sched := eventloop.NewManual()
	hostEnd, workerEnd := memory.Pipe()

	responder, err := NewResponder(sched, provisioner, Config{})
	if err != nil {
		t.Fatalf("new responder: %v", err)
	}
	if err := responder.Attach(workerEnd); err != nil {
		t.Fatalf("attach: %v", err)
	}
	initiator, err := NewInitiator(hostEnd, sched, Config{})
	if err != nil {
		t.Fatalf("new initiator: %v", err)
	}
	return &pair{
		sched:     sched,
		initiator: initiator,
		responder: responder,
		hostEnd:   hostEnd,
		workerEnd: workerEnd,
	}
}

// drainUntil runs scheduled work until cond holds. Provisioning finishes on
// another goroutine, so the queue may refill after it first empties.
func drainUntil(t *testing.T, sched *eventloop.Manual, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		sched.RunPending()
		if cond() {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("condition not reached before deadline")
		}
		time.Sleep(time.Millisecond)
	}
}

func envelope(t *testing.T, f universe.Fact) protocol.Envelope {
	t.Helper()
	args, err := universe.Codec{}.Encode(f)
	if err != nil {
		t.Fatalf("encode %s: %v", f.EventName(), err)
	}
	return protocol.Envelope{Channel: universe.Channel, Name: f.EventName(), Args: args}
}

func TestHandshakeStoresCapabilities(t *testing.T) {
	testlog.Start(t)
	p := newPair(t, ProvisionFunc(func(context.Context) (universe.Capabilities, error) {
		return universe.Capabilities{DB: true}, nil
	}))

	var seen []string
	p.initiator.OnAny(func(f universe.Fact) error {
		seen = append(seen, f.EventName())
		return nil
	})

	if err := p.initiator.Connect(); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if got := p.initiator.State(); got != Connecting {
		t.Fatalf("expected connecting, got %s", got)
	}
	if _, ok := p.initiator.Capabilities(); ok {
		t.Fatalf("capabilities must not be known before the handshake")
	}

	p.initiator.Tick()
	drainUntil(t, p.sched, func() bool { return p.initiator.State() == Ready })

	caps, ok := p.initiator.Capabilities()
	if !ok || caps != (universe.Capabilities{DB: true}) {
		t.Fatalf("expected db=true capabilities, got %+v ok=%v", caps, ok)
	}
	if got := p.responder.State(); got != Ready {
		t.Fatalf("expected responder ready, got %s", got)
	}
	// onPong emits initialize from inside the pong pass, so a catch-all
	// listener sees initialize before pong. Only the set and the ends are fixed.
	want := []string{"initialize", "initializeSuccess", "ping", "pong"}
	if got := slices.Sorted(slices.Values(seen)); !slices.Equal(got, want) {
		t.Fatalf("unexpected initiator facts: %v", seen)
	}
	if seen[0] != "ping" || seen[len(seen)-1] != "initializeSuccess" {
		t.Fatalf("handshake must start with ping and end with initializeSuccess: %v", seen)
	}
	logs.Infof("authority/handshake: facts=%v caps=%+v", seen, caps)
}

func TestHeartbeatDisconnectsOnceAfterThreshold(t *testing.T) {
	testlog.Start(t)
	sched := eventloop.NewManual()
	hostEnd, workerEnd := memory.Pipe()

	var pings int
	workerEnd.Listen(func(env protocol.Envelope) { pings++ })

	initiator, err := NewInitiator(hostEnd, sched, Config{MaxPendingPongs: 3})
	if err != nil {
		t.Fatalf("new initiator: %v", err)
	}
	var disconnects int
	universe.On(initiator, func(universe.Disconnect) error {
		disconnects++
		return nil
	})
	if err := initiator.Connect(); err != nil {
		t.Fatalf("connect: %v", err)
	}

	for tick := 1; tick <= 3; tick++ {
		initiator.Tick()
		sched.RunPending()
		select {
		case <-initiator.Done():
			t.Fatalf("disconnected early on tick %d", tick)
		default:
		}
	}
	if pings != 3 {
		t.Fatalf("expected 3 pings, got %d", pings)
	}

	initiator.Tick()
	sched.RunPending()
	select {
	case <-initiator.Done():
	default:
		t.Fatalf("expected disconnect on tick 4")
	}
	if !errors.Is(initiator.Err(), ErrLivenessTimeout) {
		t.Fatalf("expected ErrLivenessTimeout, got %v", initiator.Err())
	}
	if got := initiator.State(); got != Closed {
		t.Fatalf("expected closed, got %s", got)
	}
	if !hostEnd.Closed() {
		t.Fatalf("expected transport closed on teardown")
	}

	initiator.Tick()
	initiator.Disconnect()
	sched.RunPending()
	if disconnects != 1 {
		t.Fatalf("expected exactly one disconnect, got %d", disconnects)
	}
	if pings != 3 {
		t.Fatalf("no pings after teardown, got %d", pings)
	}
	logs.Infof("authority/heartbeat: pings=%d disconnects=%d", pings, disconnects)
}

func TestPongResetsPendingCount(t *testing.T) {
	testlog.Start(t)
	p := newPair(t, nil)
	if err := p.initiator.Connect(); err != nil {
		t.Fatalf("connect: %v", err)
	}
	// A live peer answers every ping, so no number of ticks disconnects.
	for range 10 {
		p.initiator.Tick()
		p.sched.RunPending()
	}
	select {
	case <-p.initiator.Done():
		t.Fatalf("live peer must not be disconnected: %v", p.initiator.Err())
	default:
	}
	drainUntil(t, p.sched, func() bool { return p.initiator.State() == Ready })
	caps, ok := p.initiator.Capabilities()
	if !ok || caps.DB {
		t.Fatalf("expected db=false capabilities, got %+v ok=%v", caps, ok)
	}
}

func TestInitializeFailureDisconnects(t *testing.T) {
	testlog.Start(t)
	p := newPair(t, ProvisionFunc(func(context.Context) (universe.Capabilities, error) {
		return universe.Capabilities{}, errors.New("storage misconfigured")
	}))
	var reason string
	universe.On(p.initiator, func(f universe.InitializeFailure) error {
		reason = f.Reason
		return nil
	})
	if err := p.initiator.Connect(); err != nil {
		t.Fatalf("connect: %v", err)
	}
	p.initiator.Tick()
	drainUntil(t, p.sched, func() bool { return p.initiator.State() == Closed })

	if !errors.Is(p.initiator.Err(), ErrInitializeFailed) {
		t.Fatalf("expected ErrInitializeFailed, got %v", p.initiator.Err())
	}
	if reason != "storage misconfigured" {
		t.Fatalf("unexpected failure reason %q", reason)
	}
	if _, ok := p.initiator.Capabilities(); ok {
		t.Fatalf("capabilities must stay unknown after failure")
	}
}

func TestMirrorFollowsAuthoritativeReparent(t *testing.T) {
	testlog.Start(t)
	p := newPair(t, nil)
	if err := p.initiator.Connect(); err != nil {
		t.Fatalf("connect: %v", err)
	}

	g := p.responder.Graph()
	if err := g.Node(2).SetParent(universe.RootID); err != nil {
		t.Fatalf("attach 2: %v", err)
	}
	pos := universe.Position{North: 4, East: -2}
	if err := g.Node(5).SetParentAt(2, pos); err != nil {
		t.Fatalf("attach 5: %v", err)
	}
	p.sched.RunPending()

	mirror := p.initiator.Graph()
	n5, ok := mirror.Lookup(5)
	if !ok {
		t.Fatalf("mirror is missing node 5")
	}
	if n5.ParentID() != 2 || n5.Position() != pos {
		t.Fatalf("unexpected mirror node 5: parent=%d pos=%+v", n5.ParentID(), n5.Position())
	}
	n2, _ := mirror.Lookup(2)
	if n2 == nil || !n2.HasChild(5) {
		t.Fatalf("mirror node 2 must list 5 as a child")
	}

	// Moving and destroying replicate too.
	moved := universe.Position{North: 1, East: 1}
	if err := g.Node(5).SetPosition(moved); err != nil {
		t.Fatalf("move: %v", err)
	}
	if err := g.Node(2).Destroy(); err != nil {
		t.Fatalf("destroy: %v", err)
	}
	p.sched.RunPending()
	if n5.ParentID() != universe.None || n2.ParentID() != universe.None {
		t.Fatalf("expected destroyed subtree on mirror, 5->%d 2->%d", n5.ParentID(), n2.ParentID())
	}
	if !slices.Equal(mirror.Live(), g.Live()) || !slices.Equal(mirror.FreeIDs(), g.FreeIDs()) {
		t.Fatalf("mirror diverged: live=%v/%v free=%v/%v", mirror.Live(), g.Live(), mirror.FreeIDs(), g.FreeIDs())
	}
	logs.Infof("authority/mirror: live=%v", mirror.Live())
}

func TestMirrorMutationsWithoutAuthorityAreNoops(t *testing.T) {
	testlog.Start(t)
	p := newPair(t, nil)
	if err := p.initiator.Connect(); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := p.responder.Graph().Node(3).SetParent(universe.RootID); err != nil {
		t.Fatalf("attach: %v", err)
	}
	p.sched.RunPending()

	mirror := p.initiator.Graph()
	before := mirror.Snapshot()
	if err := mirror.Node(3).SetParent(universe.None); err != nil {
		t.Fatalf("lenient mirror must not error: %v", err)
	}
	if err := mirror.Node(3).SetPosition(universe.Position{North: 9}); err != nil {
		t.Fatalf("lenient mirror must not error: %v", err)
	}
	p.sched.RunPending()
	after := mirror.Snapshot()
	if !reflect.DeepEqual(before, after) {
		t.Fatalf("mirror changed: before=%v after=%v", before, after)
	}
	if n, _ := p.responder.Graph().Lookup(3); n.ParentID() != universe.RootID {
		t.Fatalf("authoritative graph must be untouched")
	}
}

func TestStrictMirrorReportsUnauthorized(t *testing.T) {
	testlog.Start(t)
	hostEnd, _ := memory.Pipe()
	initiator, err := NewInitiator(hostEnd, eventloop.NewManual(), Config{Strict: true})
	if err != nil {
		t.Fatalf("new initiator: %v", err)
	}
	if err := initiator.Graph().Node(1).SetParent(universe.RootID); !errors.Is(err, universe.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestResponderAnswersEveryPing(t *testing.T) {
	testlog.Start(t)
	sched := eventloop.NewManual()
	hostEnd, workerEnd := memory.Pipe()
	responder, err := NewResponder(sched, nil, Config{})
	if err != nil {
		t.Fatalf("new responder: %v", err)
	}
	if err := responder.Attach(workerEnd); err != nil {
		t.Fatalf("attach: %v", err)
	}

	var pongs int
	hostEnd.Listen(func(env protocol.Envelope) {
		if env.Name == universe.NamePong {
			pongs++
		}
	})
	ping := envelope(t, universe.Ping{})
	for range 5 {
		if err := hostEnd.Post(ping); err != nil {
			t.Fatalf("post: %v", err)
		}
	}
	sched.RunPending()
	if pongs != 5 {
		t.Fatalf("expected 5 pongs, got %d", pongs)
	}
}

func TestDuplicateInitializeRepeatsOutcome(t *testing.T) {
	testlog.Start(t)
	sched := eventloop.NewManual()
	hostEnd, workerEnd := memory.Pipe()
	var provisions int
	responder, err := NewResponder(sched, ProvisionFunc(func(context.Context) (universe.Capabilities, error) {
		provisions++
		return universe.Capabilities{DB: true}, nil
	}), Config{})
	if err != nil {
		t.Fatalf("new responder: %v", err)
	}
	if err := responder.Attach(workerEnd); err != nil {
		t.Fatalf("attach: %v", err)
	}
	var successes int
	hostEnd.Listen(func(env protocol.Envelope) {
		if env.Name == universe.NameInitializeSuccess {
			successes++
		}
	})

	initialize := envelope(t, universe.Initialize{})
	_ = hostEnd.Post(initialize)
	_ = hostEnd.Post(initialize)
	drainUntil(t, sched, func() bool { return successes == 1 })
	_ = hostEnd.Post(initialize)
	sched.RunPending()

	if successes != 2 {
		t.Fatalf("expected stored outcome repeated, got %d successes", successes)
	}
	if provisions != 1 {
		t.Fatalf("expected one provisioning run, got %d", provisions)
	}
}

func TestResponderDropsInboundGraphFacts(t *testing.T) {
	testlog.Start(t)
	sched := eventloop.NewManual()
	hostEnd, workerEnd := memory.Pipe()
	responder, err := NewResponder(sched, nil, Config{})
	if err != nil {
		t.Fatalf("new responder: %v", err)
	}
	if err := responder.Attach(workerEnd); err != nil {
		t.Fatalf("attach: %v", err)
	}
	_ = hostEnd.Post(envelope(t, universe.NodeParent{NodeID: 4, ParentID: universe.RootID}))
	sched.RunPending()
	if _, ok := responder.Graph().Lookup(4); ok {
		t.Fatalf("peer must not mutate the authoritative graph")
	}
}

func TestConfigValidation(t *testing.T) {
	testlog.Start(t)
	cfg := Config{}.WithDefaults()
	if cfg != DefaultConfig() {
		t.Fatalf("expected defaults, got %+v", cfg)
	}
	if err := (Config{HeartbeatInterval: -time.Second, MaxPendingPongs: 1, ProvisionTimeout: time.Second}).Validate(); !errors.Is(err, ErrInvalidHeartbeatInterval) {
		t.Fatalf("expected ErrInvalidHeartbeatInterval, got %v", err)
	}
	if _, err := NewInitiator(nil, nil, Config{MaxPendingPongs: -1}); !errors.Is(err, ErrInvalidPendingThreshold) {
		t.Fatalf("expected ErrInvalidPendingThreshold, got %v", err)
	}
}

func TestLatePeerReceivesReplay(t *testing.T) {
	testlog.Start(t)
	sched := eventloop.NewManual()
	responder, err := NewResponder(sched, nil, Config{})
	if err != nil {
		t.Fatalf("new responder: %v", err)
	}
	g := responder.Graph()
	if err := g.Node(1).SetParent(universe.RootID); err != nil {
		t.Fatalf("attach 1: %v", err)
	}
	if err := g.Node(4).SetParentAt(1, universe.Position{North: 2, East: 2}); err != nil {
		t.Fatalf("attach 4: %v", err)
	}

	hostEnd, workerEnd := memory.Pipe()
	if err := responder.Attach(workerEnd); err != nil {
		t.Fatalf("attach: %v", err)
	}
	initiator, err := NewInitiator(hostEnd, sched, Config{})
	if err != nil {
		t.Fatalf("new initiator: %v", err)
	}
	if err := initiator.Connect(); err != nil {
		t.Fatalf("connect: %v", err)
	}
	initiator.Tick()
	drainUntil(t, sched, func() bool {
		n, ok := initiator.Graph().Lookup(4)
		return ok && n.ParentID() == 1
	})

	n4, _ := initiator.Graph().Lookup(4)
	if n4.Position() != (universe.Position{North: 2, East: 2}) {
		t.Fatalf("unexpected replayed position: %+v", n4.Position())
	}
	if got := initiator.Graph().Live(); len(got) != 2 {
		t.Fatalf("expected nodes 1 and 4 live on the mirror, got %v", got)
	}
}
